package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "mucbot/pkg/logx"
)

// memoryCapacity bounds the in-memory audit ring.
const memoryCapacity = 1000

var ErrUnknownDriver = errors.New("unknown storage driver")

// Store persists the audit trail behind !history.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]AuditEntry, error)
	// Prune deletes entries older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open returns the store named by cfg.Driver, or nil when storage is off
// ("" or "none").
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return nil, nil
	case "memory":
		return newMemory(cfg, memoryCapacity), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, d)
	}
}
