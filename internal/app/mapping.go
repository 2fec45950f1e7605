package app

import (
	"strings"
	"time"

	"mucbot/internal/announce"
	"mucbot/internal/config"
	"mucbot/internal/storage"
	"mucbot/internal/transport/xmpp"
	logx "mucbot/pkg/logx"
)

const keepAliveInterval = 60 * time.Second

func logConfig(cfg *config.Config, debug bool) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Room: logx.RoomConfig{
			Enabled:    cfg.Logging.Room.Enabled,
			Room:       cfg.Logging.Room.Room,
			MinLevel:   cfg.Logging.Room.MinLevel,
			RatePerSec: cfg.Logging.Room.RatePerSec,
		},
	}
	if debug {
		lc.Level = "debug"
	}
	return lc
}

// storageConfig maps the optional storage section; nil means disabled.
// Durations were checked by config.Validate.
func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
		Retention:   cfg.Storage.RetentionDuration(),
	}
}

func broadcastConfig(cfg *config.Config) announce.Config {
	return announce.Config{
		RatePerSec: cfg.Broadcast.RatePerSec,
		RetryMax:   cfg.Broadcast.RetryMax,
	}
}

func xmppConfig(cfg *config.Config, debug bool) xmpp.Config {
	lo, hi := cfg.XMPP.ReconnectBackoff()
	return xmpp.Config{
		JID:                cfg.XMPP.JID,
		Password:           cfg.XMPP.Password,
		Server:             cfg.XMPP.Server,
		Resource:           cfg.XMPP.Resource,
		NoTLS:              cfg.XMPP.NoTLS,
		StartTLS:           cfg.XMPP.StartTLS,
		InsecureSkipVerify: cfg.XMPP.InsecureSkipVerify,
		ReconnectMin:       lo,
		ReconnectMax:       hi,
		KeepAlive:          keepAliveInterval,
		Debug:              debug,
	}
}
