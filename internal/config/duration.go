package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a Go duration string. Empty means zero; negative
// values are rejected. path only labels the error.
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

// orDefault is parseDuration for accessors called after Validate: bad or
// zero values yield def.
func orDefault(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ReconnectBackoff returns the first and maximum reconnect delays.
func (x XMPPConfig) ReconnectBackoff() (first, limit time.Duration) {
	first = orDefault(x.ReconnectDelay, 5*time.Second)
	limit = orDefault(x.ReconnectMax, 2*time.Minute)
	return first, max(first, limit)
}

// CommandTimeoutDuration is zero when no per-command bound is configured.
func (b BotConfig) CommandTimeoutDuration() time.Duration {
	return orDefault(b.CommandTimeout, 0)
}

// BusyTimeoutDuration is zero (driver default) when unset.
func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return orDefault(s.BusyTimeout, 0)
}

// RetentionDuration is zero (keep everything) when unset.
func (s StorageConfig) RetentionDuration() time.Duration {
	return orDefault(s.Retention, 0)
}
