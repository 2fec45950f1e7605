package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate reports every problem it finds, joined.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	jid := strings.TrimSpace(c.XMPP.JID)
	if jid == "" {
		add("xmpp.jid is required (or set XMPP_JID)")
	} else if at := strings.IndexByte(jid, '@'); at <= 0 || at == len(jid)-1 {
		add("xmpp.jid %q must look like user@domain", jid)
	}
	if c.XMPP.Password == "" {
		add("xmpp.password is required (or set XMPP_PASSWORD)")
	}
	for _, d := range []struct{ path, raw string }{
		{"xmpp.reconnect_delay", c.XMPP.ReconnectDelay},
		{"xmpp.reconnect_max", c.XMPP.ReconnectMax},
		{"bot.command_timeout", c.Bot.CommandTimeout},
	} {
		if _, err := parseDuration(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(c.Bot.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("bot.timezone: %w", err)
		}
	}
	for i, r := range c.Bot.AutoJoinRooms {
		if !strings.Contains(r, "@") {
			add("bot.auto_join_rooms[%d]: %q must be a room JID", i, r)
		}
	}

	for i, d := range c.Scheduler.Daily {
		if _, err := time.Parse("15:04", strings.TrimSpace(d.At)); err != nil {
			add("scheduler.daily[%d].at: %q is not HH:MM", i, d.At)
		}
		if strings.TrimSpace(d.Message) == "" {
			add("scheduler.daily[%d].message is empty", i)
		}
	}

	if c.Broadcast.RatePerSec < 0 || c.Broadcast.RetryMax < 0 {
		add("broadcast: rate_per_sec and retry_max must be >= 0")
	}

	if lvl := strings.ToLower(strings.TrimSpace(c.Logging.Level)); lvl != "" && !validLevel(lvl) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path is required when file logging is enabled")
	}
	if c.Logging.Room.Enabled && !strings.Contains(c.Logging.Room.Room, "@") {
		add("logging.room.room must be a room JID when room logging is enabled")
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for sqlite")
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		for _, d := range []struct{ path, raw string }{
			{"storage.busy_timeout", s.BusyTimeout},
			{"storage.retention", s.Retention},
		} {
			if _, err := parseDuration(d.path, d.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func validLevel(l string) bool {
	switch l {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
