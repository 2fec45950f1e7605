package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mucbot/internal/eventbus"
	logx "mucbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err, "sqlite needs a path")
}

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "audit.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestAppendRecentPrune(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:     base.Add(time.Duration(i) * time.Hour),
					Kind:   eventbus.TypeGreetingSent,
					Room:   "team@conf",
					Actor:  "alice",
					Detail: "hello",
				}))
			}
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base.Add(10 * time.Hour), Kind: eventbus.TypeTaskFailed, Error: "boom"}))

			got, err := st.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, eventbus.TypeTaskFailed, got[0].Kind)
			require.Equal(t, "boom", got[0].Error)
			require.Empty(t, got[0].Room)
			require.True(t, base.Add(4*time.Hour).Equal(got[1].At))
			require.Equal(t, "alice", got[1].Actor)
			require.Greater(t, got[0].ID, got[1].ID)

			n, err := st.Prune(ctx, base.Add(2*time.Hour))
			require.NoError(t, err)
			require.Equal(t, int64(2), n)

			all, err := st.Recent(ctx, 100)
			require.NoError(t, err)
			require.Len(t, all, 4)
		})
	}
}

func TestMemoryIsBounded(t *testing.T) {
	m := newMemory(Config{}, 3)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.AppendAudit(context.Background(), AuditEntry{Kind: "k"}))
	}
	got, _ := m.Recent(context.Background(), 10)
	require.Len(t, got, 3)
	require.Equal(t, int64(10), got[0].ID)
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	done := make(chan struct{})
	go func() {
		_ = rec.Run(context.Background())
		close(done)
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeAnnounceSent, Actor: "hourly", Detail: "2/2 rooms"})
	bus.Publish(eventbus.Event{Type: eventbus.TypeCommandDone, Room: "team@conf", Actor: "team@conf", Detail: "ping"})

	require.Eventually(t, func() bool {
		got, _ := st.Recent(context.Background(), 10)
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	got, _ := st.Recent(context.Background(), 10)
	require.Equal(t, eventbus.TypeCommandDone, got[0].Kind)
	require.Equal(t, "ping", got[0].Detail)

	rec.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop after Close")
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	dsn := sqliteDSN("/var/lib/mucbot/audit.db", 5*time.Second)
	require.True(t, strings.HasPrefix(dsn, "file:/var/lib/mucbot/audit.db?"))
	q, err := url.ParseQuery(strings.SplitN(dsn, "?", 2)[1])
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)"}, q["_pragma"])

	require.NotContains(t, sqliteDSN("a.db", 0), "busy_timeout")
}
