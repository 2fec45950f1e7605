package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mucbot/internal/clock"
	"mucbot/internal/transport"
	"mucbot/internal/transport/transporttest"
)

const (
	team = "team@conf.example.org"
	ops  = "ops@conf.example.org"
)

const testYAML = `
xmpp:
  jid: bot@example.org
  password: secret
bot:
  nickname: bot
  timezone: UTC
  greeting: "Hi {nick}!"
  auto_join_rooms: [team@conf.example.org, ops@conf.example.org]
rooms:
  ops@conf.example.org:
    password: hunter2
    greet: false
scheduler:
  daily:
    - name: standup
      at: "09:30"
      message: Standup time
      rooms: [team@conf.example.org]
logging:
  level: error
  console: true
storage:
  driver: memory
`

var epoch = time.Date(2026, 10, 15, 10, 15, 0, 0, time.UTC)

type harness struct {
	app  *App
	fake *transporttest.Fake
	clk  *clock.FakeClock
	path string
}

func start(t *testing.T, yaml string) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	h := &harness{fake: transporttest.New(), clk: clock.Fake(epoch), path: path}
	a, err := New(path, WithAdapter(h.fake), WithClock(h.clk), WithVersion("test"))
	require.NoError(t, err)
	h.app = a

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		_ = a.Stop(context.Background())
		cancel()
	})
	return h
}

func (h *harness) emit(t *testing.T, ev transport.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.fake.Emit(ctx, ev)
}

func (h *harness) session(t *testing.T) {
	t.Helper()
	before := len(h.fake.Joins())
	h.emit(t, transport.Event{Kind: transport.EventSessionStart})
	require.Eventually(t, func() bool {
		_, ok := h.app.NextHourly()
		return len(h.fake.Joins()) == before+2 && ok
	}, 2*time.Second, 5*time.Millisecond)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestSessionJoinsConfiguredRooms(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	require.Equal(t, []transporttest.RoomCall{
		{Room: team, Nick: "bot"},
		{Room: ops, Nick: "bot", Password: "hunter2"},
	}, h.fake.Joins())
	require.Equal(t, []string{ops, team}, h.app.Rooms().Rooms())
	require.False(t, h.app.Rooms().BoolSetting(ops, "greet", true))
	require.True(t, h.app.Rooms().BoolSetting(team, "greet", false))
}

func TestFailedJoinIsNotTracked(t *testing.T) {
	h := start(t, testYAML)
	h.fake.SetJoinErr(func(room string) error {
		if room == ops {
			return errors.New("not-authorized")
		}
		return nil
	})
	h.emit(t, transport.Event{Kind: transport.EventSessionStart})
	eventually(t, func() bool {
		_, ok := h.app.NextHourly()
		return ok
	})
	require.Equal(t, []string{team}, h.app.Rooms().Rooms())
}

func TestPresenceGreetsOncePerOccupant(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "alice"})
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "alice"})
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "bot"})
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: ops, Nick: "carol"})
	eventually(t, func() bool { return h.app.Rooms().Contains(ops, "carol") })

	require.Equal(t, []string{"Hi alice!"}, h.fake.SentTo(team))
	require.Empty(t, h.fake.SentTo(ops), "greetings are off for ops")
	require.Equal(t, []string{"alice"}, h.app.Rooms().Occupants(team))

	h.emit(t, transport.Event{Kind: transport.EventOccupantLeft, Room: team, Nick: "alice"})
	eventually(t, func() bool { return !h.app.Rooms().Contains(team, "alice") })
}

func TestDirectMessages(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)
	const alice = "alice@example.org/phone"

	h.emit(t, transport.Event{Kind: transport.EventDirectMessage, From: alice, Body: "hello there", Type: transport.KindDirect})
	eventually(t, func() bool { return len(h.fake.SentTo(alice)) == 1 })
	require.Equal(t, "You said: hello there", h.fake.SentTo(alice)[0])

	h.emit(t, transport.Event{Kind: transport.EventDirectMessage, From: alice, Body: "!ping", Type: transport.KindDirect})
	eventually(t, func() bool { return len(h.fake.SentTo(alice)) == 2 })
	require.Equal(t, "Pong! 🏓", h.fake.SentTo(alice)[1])

	h.emit(t, transport.Event{Kind: transport.EventDirectMessage, From: alice, Body: "!rooms", Type: transport.KindDirect})
	eventually(t, func() bool { return len(h.fake.SentTo(alice)) == 3 })
	require.Equal(t, "This command is only available in group chats.", h.fake.SentTo(alice)[2])
	for _, m := range h.fake.Sent() {
		require.Equal(t, transport.KindDirect, m.Kind)
	}
}

func TestGroupMessages(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	h.emit(t, transport.Event{Kind: transport.EventGroupMessage, Room: team, Nick: "bot", From: team, Body: "!ping", Type: transport.KindGroupchat})
	h.emit(t, transport.Event{Kind: transport.EventGroupMessage, Room: team, Nick: "alice", From: team, Body: "just chatting", Type: transport.KindGroupchat})
	h.emit(t, transport.Event{Kind: transport.EventGroupMessage, Room: team, Nick: "alice", From: team, Body: "!rooms", Type: transport.KindGroupchat})

	eventually(t, func() bool { return len(h.fake.SentTo(team)) == 1 })
	// Give any wrongly dispatched message a chance to show up.
	time.Sleep(50 * time.Millisecond)
	sent := h.fake.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, transporttest.Message{
		To:   team,
		Body: "Connected rooms:\n• " + ops + "\n• " + team,
		Kind: transport.KindGroupchat,
	}, sent[0])
}

func TestDisconnectStartsFreshSession(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "alice"})
	eventually(t, func() bool { return len(h.fake.SentTo(team)) == 1 })

	h.emit(t, transport.Event{Kind: transport.EventDisconnected, Err: errors.New("stream closed")})
	eventually(t, func() bool {
		_, ok := h.app.NextHourly()
		return !ok && len(h.app.Rooms().Rooms()) == 0
	})

	h.session(t)
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "alice"})
	eventually(t, func() bool { return len(h.fake.SentTo(team)) == 2 })
	require.Equal(t, []string{"Hi alice!", "Hi alice!"}, h.fake.SentTo(team))
}

func TestHourlyAnnouncementReachesEveryRoom(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	next, ok := h.app.NextHourly()
	require.True(t, ok)
	require.True(t, next.Equal(time.Date(2026, 10, 15, 11, 0, 0, 0, time.UTC)), next)

	// hourly + daily standup
	h.clk.WaitForTimers(2)
	h.clk.Advance(45 * time.Minute)

	want := "🕐 11:00 on Thursday - Good morning! 🌄"
	eventually(t, func() bool {
		return len(h.fake.SentTo(team)) == 1 && len(h.fake.SentTo(ops)) == 1
	})
	require.Equal(t, want, h.fake.SentTo(team)[0])
	require.Equal(t, want, h.fake.SentTo(ops)[0])
}

func TestHistoryCommandReadsAudit(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)
	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: team, Nick: "alice"})

	eventually(t, func() bool {
		entries, err := h.app.store.Recent(context.Background(), 10)
		return err == nil && len(entries) >= 3
	})

	const alice = "alice@example.org"
	h.emit(t, transport.Event{Kind: transport.EventDirectMessage, From: alice, Body: "!history", Type: transport.KindDirect})
	eventually(t, func() bool { return len(h.fake.SentTo(alice)) == 1 })
	reply := h.fake.SentTo(alice)[0]
	require.True(t, strings.HasPrefix(reply, "Recent activity:"), reply)
	require.Contains(t, reply, "greeting.sent "+team+" alice: Hi alice!")
	require.Contains(t, reply, "room.joined "+ops+" bot")
}

func TestConfigReloadAppliesLiveSections(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	updated := strings.Replace(testYAML, `greeting: "Hi {nick}!"`, `greeting: "Welcome, {nick}"`, 1)
	updated = strings.Replace(updated, "    greet: false\n", "", 1)

	// The watcher starts asynchronously; keep rewriting until the reload
	// lands. The tick is longer than the reload debounce.
	require.Eventually(t, func() bool {
		if h.app.recon.Greeting("dave", team) == "Welcome, dave" &&
			h.app.Rooms().BoolSetting(ops, "greet", false) {
			return true
		}
		_ = os.WriteFile(h.path, []byte(updated), 0o600)
		return false
	}, 5*time.Second, 400*time.Millisecond)

	h.emit(t, transport.Event{Kind: transport.EventOccupantJoined, Room: ops, Nick: "dave"})
	eventually(t, func() bool { return len(h.fake.SentTo(ops)) == 1 })
	require.Equal(t, "Welcome, dave", h.fake.SentTo(ops)[0])
}

func TestStopLeavesRooms(t *testing.T) {
	h := start(t, testYAML)
	h.session(t)

	require.NoError(t, h.app.Stop(context.Background()))
	leaves := h.fake.Leaves()
	require.Len(t, leaves, 2)
	for _, l := range leaves {
		require.Equal(t, "Goodbye!", l.Reason)
	}
	require.Empty(t, h.app.Rooms().Rooms())
	_, ok := h.app.NextHourly()
	require.False(t, ok)
	<-h.app.Done()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	bad := strings.Replace(testYAML, "  password: secret\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err := New(path, WithAdapter(transporttest.New()))
	require.ErrorContains(t, err, "xmpp.password is required")
}
