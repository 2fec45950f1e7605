package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mucbot/pkg/logx"
)

// Live sections are re-applied on reload; the rest only take effect on the
// next restart.
var liveSections = map[string]bool{
	"bot.greeting": true,
	"broadcast":    true,
	"logging":      true,
	"rooms":        true,
}

// SummarizeConfigChange returns (1) a compact sorted list of changed sections,
// (2) safe structured attrs for logging (never includes passwords), and
// (3) the subset of changed sections that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// XMPP (never log password)
	ox, nx := oldCfg.XMPP, newCfg.XMPP
	if ox.JID != nx.JID || ox.Password != nx.Password ||
		strings.TrimSpace(ox.Server) != strings.TrimSpace(nx.Server) ||
		ox.Resource != nx.Resource || ox.NoTLS != nx.NoTLS || ox.StartTLS != nx.StartTLS ||
		ox.InsecureSkipVerify != nx.InsecureSkipVerify ||
		ox.ReconnectDelay != nx.ReconnectDelay || ox.ReconnectMax != nx.ReconnectMax {
		changed = append(changed, "xmpp")
		attrs = append(attrs,
			logx.String("xmpp.jid", nx.JID),
			logx.Bool("xmpp.password_changed", ox.Password != nx.Password),
			logx.String("xmpp.server", strings.TrimSpace(nx.Server)),
		)
	}

	// Bot identity vs greeting: the greeting is live, the rest is not.
	if oldCfg.Bot.Nickname != newCfg.Bot.Nickname ||
		oldCfg.Bot.Timezone != newCfg.Bot.Timezone ||
		oldCfg.Bot.CommandTimeout != newCfg.Bot.CommandTimeout ||
		!reflect.DeepEqual(oldCfg.Bot.AutoJoinRooms, newCfg.Bot.AutoJoinRooms) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.String("bot.nickname", newCfg.Bot.Nickname),
			logx.String("bot.timezone", newCfg.Bot.Timezone),
			logx.Int("bot.auto_join_count", len(newCfg.Bot.AutoJoinRooms)),
		)
	}
	if oldCfg.Bot.Greeting != newCfg.Bot.Greeting {
		changed = append(changed, "bot.greeting")
	}

	if !reflect.DeepEqual(oldCfg.Rooms, newCfg.Rooms) {
		changed = append(changed, "rooms")
		attrs = append(attrs, logx.Int("rooms.configured", len(newCfg.Rooms)))
	}

	if oldCfg.Scheduler.HourlyEnabled() != newCfg.Scheduler.HourlyEnabled() ||
		!reflect.DeepEqual(oldCfg.Scheduler.Daily, newCfg.Scheduler.Daily) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.hourly", newCfg.Scheduler.HourlyEnabled()),
			logx.Int("scheduler.daily_count", len(newCfg.Scheduler.Daily)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.Int("broadcast.retry_max", newCfg.Broadcast.RetryMax),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.room_enabled", newCfg.Logging.Room.Enabled),
		)
	}

	// Storage. Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, c := range changed {
		if !liveSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, attrs, restart
}
