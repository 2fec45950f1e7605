package storage

import "time"

// Config selects and tunes the audit store. Driver is "sqlite" (a file,
// pure Go driver), "memory" (lost on exit), or ""/"none" for no store.
type Config struct {
	Driver string
	Path   string
	// BusyTimeout applies to sqlite only; 0 keeps the driver default.
	BusyTimeout time.Duration
	// Retention drops entries older than this on periodic pruning; 0 keeps all.
	Retention time.Duration
}

// AuditEntry records one thing the bot did. Room membership is never
// stored here.
type AuditEntry struct {
	ID     int64
	At     time.Time
	Kind   string
	Room   string
	Actor  string
	Detail string
	Error  string
}
