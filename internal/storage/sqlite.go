package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "mucbot/pkg/logx"
)

const (
	// pruneEvery appends trigger one retention sweep.
	pruneEvery   = 500
	pruneTimeout = 2 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at_ms  INTEGER NOT NULL,
	kind   TEXT    NOT NULL,
	room   TEXT    NOT NULL DEFAULT '',
	actor  TEXT    NOT NULL DEFAULT '',
	detail TEXT    NOT NULL DEFAULT '',
	err    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_at_ms ON audit(at_ms);
`

const (
	insertAudit = `INSERT INTO audit(at_ms, kind, room, actor, detail, err) VALUES(?, ?, ?, ?, ?, ?)`
	recentAudit = `SELECT id, at_ms, kind, room, actor, detail, err FROM audit ORDER BY id DESC LIMIT ?`
	pruneAudit  = `DELETE FROM audit WHERE at_ms < ?`
)

type sqliteStore struct {
	db        *sql.DB
	log       logx.Logger
	retention time.Duration
	appends   atomic.Uint64
}

// sqliteDSN passes pragmas through the modernc connection string so they
// apply to every pooled connection.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if busy > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}
	log.Info("audit store opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log, retention: cfg.Retention}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, insertAudit,
		e.At.UnixMilli(), e.Kind, e.Room, e.Actor, e.Detail, e.Error); err != nil {
		return err
	}
	if s.retention > 0 && s.appends.Add(1)%pruneEvery == 0 {
		s.sweep(ctx)
	}
	return nil
}

func (s *sqliteStore) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	defer cancel()
	n, err := s.Prune(ctx, time.Now().Add(-s.retention))
	switch {
	case err != nil:
		s.log.Warn("audit prune failed", logx.Err(err))
	case n > 0:
		s.log.Debug("audit pruned", logx.Int64("rows", n))
	}
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]AuditEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, recentAudit, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AuditEntry, 0, n)
	for rows.Next() {
		var (
			e  AuditEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &ms, &e.Kind, &e.Room, &e.Actor, &e.Detail, &e.Error); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneAudit, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
