package config

import "strings"

const (
	DefaultNickname = "JabberBot"
	DefaultGreeting = "Hello {nick}! Welcome to the conference!"
	DefaultTimezone = "UTC"
)

type Config struct {
	XMPP XMPPConfig `json:"xmpp"`
	Bot  BotConfig  `json:"bot"`

	// Rooms holds per-room join options and settings, keyed by room JID.
	// A room listed here is not joined unless it is also in bot.auto_join_rooms.
	Rooms map[string]RoomConfig `json:"rooms,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// XMPPConfig holds the account and connection options.
//
// Credentials are usually supplied through XMPP_JID / XMPP_PASSWORD (see env.go)
// so the file can be committed.
type XMPPConfig struct {
	JID      string `json:"jid"`
	Password string `json:"password"`
	// Server is host[:port]; empty means the JID domain on 5222.
	Server   string `json:"server,omitempty"`
	Resource string `json:"resource,omitempty"`

	NoTLS              bool `json:"no_tls,omitempty"`
	StartTLS           bool `json:"starttls,omitempty"`
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// ReconnectDelay is the first backoff after a disconnect (default "5s").
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	// ReconnectMax caps the backoff (default "2m").
	ReconnectMax string `json:"reconnect_max,omitempty"`
}

type BotConfig struct {
	Nickname      string   `json:"nickname"`
	Timezone      string   `json:"timezone"`
	Greeting      string   `json:"greeting,omitempty"`
	AutoJoinRooms []string `json:"auto_join_rooms"`
	// CommandTimeout bounds a single command handler; "0s" or empty disables it.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type RoomConfig struct {
	Password string `json:"password,omitempty"`
	// Greet turns newcomer greetings on or off for this room (default on).
	Greet    *bool          `json:"greet,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// SettingsMap merges Greet into Settings for the membership store.
func (r RoomConfig) SettingsMap() map[string]any {
	out := make(map[string]any, len(r.Settings)+1)
	for k, v := range r.Settings {
		out[k] = v
	}
	if r.Greet != nil {
		out["greet"] = *r.Greet
	}
	return out
}

type SchedulerConfig struct {
	// HourlyAnnouncements defaults to true when omitted.
	HourlyAnnouncements *bool          `json:"hourly_announcements,omitempty"`
	Daily               []DailyMessage `json:"daily,omitempty"`
}

func (s SchedulerConfig) HourlyEnabled() bool {
	return s.HourlyAnnouncements == nil || *s.HourlyAnnouncements
}

// DailyMessage posts Message every day at At ("HH:MM", bot timezone).
// Empty Rooms means every joined room.
type DailyMessage struct {
	Name    string   `json:"name"`
	At      string   `json:"at"`
	Message string   `json:"message"`
	Rooms   []string `json:"rooms,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	RetryMax   int `json:"retry_max,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Room    LoggingRoom `json:"room"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRoom mirrors records at or above MinLevel into a MUC room.
type LoggingRoom struct {
	Enabled    bool   `json:"enabled"`
	Room       string `json:"room"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/audit.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention   string `json:"retention,omitempty"`    // Go duration string
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Bot.Nickname) == "" {
		c.Bot.Nickname = DefaultNickname
	}
	if strings.TrimSpace(c.Bot.Timezone) == "" {
		c.Bot.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Bot.Greeting) == "" {
		c.Bot.Greeting = DefaultGreeting
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	rooms := c.Bot.AutoJoinRooms[:0]
	seen := map[string]bool{}
	for _, r := range c.Bot.AutoJoinRooms {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		rooms = append(rooms, r)
	}
	c.Bot.AutoJoinRooms = rooms
}

// Room returns the per-room options for room (zero value if none).
func (c *Config) Room(room string) RoomConfig {
	if c == nil || c.Rooms == nil {
		return RoomConfig{}
	}
	return c.Rooms[room]
}
