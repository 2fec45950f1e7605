package logx

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"mucbot/internal/transport"
	"mucbot/internal/transport/transporttest"
)

func TestZeroLoggerIsSilent(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	require.False(t, Nop().IsZero())
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSON(&buf, "debug").With(String("comp", "a"))
	x := base.With(String("x", "1"))
	y := base.With(String("y", "2"))
	x.Info("one")
	y.Info("two")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var one, two map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &one))
	require.NoError(t, json.Unmarshal(lines[1], &two))
	require.Equal(t, "1", one["x"])
	require.NotContains(t, one, "y")
	require.Equal(t, "2", two["y"])
	require.NotContains(t, two, "x")
	require.Equal(t, "a", two["comp"])
	require.Contains(t, one["caller"], "logx_test.go:")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestRenderRecord(t *testing.T) {
	line := `{"level":"warn","time":"2026-10-15T10:00:00Z","message":"join failed","room":"team@conf","err":"forbidden","stack":"x"}`
	require.Equal(t, "[WARN] join failed (err=forbidden, room=team@conf)", renderRecord([]byte(line)))
	require.Equal(t, "not json", renderRecord([]byte("  not json \n")))
	require.Len(t, renderRecord(bytes.Repeat([]byte("a"), 5000)), roomLineMax)

	cyr := renderRecord(bytes.Repeat([]byte("ж"), 2000))
	require.True(t, utf8.ValidString(cyr))
	require.LessOrEqual(t, len(cyr), roomLineMax)
}

func TestServiceMirrorsWarningsIntoRoom(t *testing.T) {
	fake := transporttest.New()
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")},
		Room:  RoomConfig{Enabled: true, Room: "ops@conf", MinLevel: "warn", RatePerSec: 10},
	})
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetSender(fake)

	log.Info("routine")
	log.Warn("disk low", Int("pct", 93))

	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	msg := fake.Sent()[0]
	require.Equal(t, "ops@conf", msg.To)
	require.Equal(t, transport.KindGroupchat, msg.Kind)
	require.Contains(t, msg.Body, "[WARN] disk low")
	require.Contains(t, msg.Body, "pct=93")
}

func TestApplySwapsLevelForExistingLoggers(t *testing.T) {
	svc, log := New(Config{Level: "error"})
	t.Cleanup(func() { _ = svc.Close() })
	require.Equal(t, "error", svc.current().GetLevel().String())
	svc.Apply(Config{Level: "debug"})
	require.Equal(t, "debug", log.zl().GetLevel().String())
}
