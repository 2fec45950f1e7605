package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env is the environment overlay. Non-empty values win over the file so
// secrets never have to live in it.
type Env struct {
	JID      string   `envconfig:"XMPP_JID"`
	Password string   `envconfig:"XMPP_PASSWORD"`
	Server   string   `envconfig:"XMPP_SERVER"`
	Nickname string   `envconfig:"BOT_NICKNAME"`
	Timezone string   `envconfig:"BOT_TIMEZONE"`
	Rooms    []string `envconfig:"BOT_ROOMS"`
	LogLevel string   `envconfig:"LOG_LEVEL"`
}

// LoadEnv reads dotenv files (missing ones are skipped) into the process
// environment without overriding variables already set, then binds Env.
func LoadEnv(files ...string) (Env, error) {
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, err
	}
	return env, nil
}

func (e Env) Apply(c *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.XMPP.JID, e.JID)
	set(&c.XMPP.Password, e.Password)
	set(&c.XMPP.Server, e.Server)
	set(&c.Bot.Nickname, e.Nickname)
	set(&c.Bot.Timezone, e.Timezone)
	set(&c.Logging.Level, e.LogLevel)
	if len(e.Rooms) > 0 {
		c.Bot.AutoJoinRooms = append([]string(nil), e.Rooms...)
	}
}
