package xmpp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goxmpp "github.com/xmppo/go-xmpp"

	"mucbot/internal/transport"
	logx "mucbot/pkg/logx"
)

func inTeam(room string) bool { return room == "team@conf.example.org" }

func TestTranslateChat(t *testing.T) {
	tests := []struct {
		name string
		in   goxmpp.Chat
		want transport.Event
		ok   bool
	}{
		{
			name: "group message",
			in:   goxmpp.Chat{Remote: "team@conf.example.org/alice", Type: "groupchat", Text: "!ping"},
			want: transport.Event{Kind: transport.EventGroupMessage, Room: "team@conf.example.org", Nick: "alice", From: "team@conf.example.org", Body: "!ping", Type: transport.KindGroupchat},
			ok:   true,
		},
		{
			name: "direct message",
			in:   goxmpp.Chat{Remote: "alice@example.org/phone", Type: "chat", Text: "hi"},
			want: transport.Event{Kind: transport.EventDirectMessage, From: "alice@example.org/phone", Body: "hi", Type: transport.KindDirect},
			ok:   true,
		},
		{
			name: "normal type is direct",
			in:   goxmpp.Chat{Remote: "alice@example.org", Type: "normal", Text: "hi"},
			want: transport.Event{Kind: transport.EventDirectMessage, From: "alice@example.org", Body: "hi", Type: transport.KindDirect},
			ok:   true,
		},
		{name: "empty body", in: goxmpp.Chat{Remote: "alice@example.org", Type: "chat"}},
		{name: "room notice", in: goxmpp.Chat{Remote: "team@conf.example.org", Type: "groupchat", Text: "topic"}},
		{name: "history", in: goxmpp.Chat{Remote: "team@conf.example.org/bob", Type: "groupchat", Text: "old", Stamp: time.Now()}},
		{name: "error", in: goxmpp.Chat{Remote: "alice@example.org", Type: "error", Text: "oops"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translate(tt.in, inTeam)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTranslatePresence(t *testing.T) {
	ev, ok := translate(goxmpp.Presence{From: "team@conf.example.org/alice"}, inTeam)
	require.True(t, ok)
	require.Equal(t, transport.Event{Kind: transport.EventOccupantJoined, Room: "team@conf.example.org", Nick: "alice"}, ev)

	ev, ok = translate(goxmpp.Presence{From: "team@conf.example.org/alice", Type: "unavailable"}, inTeam)
	require.True(t, ok)
	require.Equal(t, transport.EventOccupantLeft, ev.Kind)

	_, ok = translate(goxmpp.Presence{From: "friend@example.org/laptop"}, inTeam)
	require.False(t, ok, "roster presence is not occupancy")

	_, ok = translate(goxmpp.Presence{From: "team@conf.example.org/alice", Type: "error"}, inTeam)
	require.False(t, ok)

	_, ok = translate(goxmpp.IQ{}, inTeam)
	require.False(t, ok)
}

func TestHost(t *testing.T) {
	require.Equal(t, "example.org:5222", New(Config{JID: "bot@example.org/res"}, logx.Nop()).host())
	require.Equal(t, "xmpp.example.org:5222", New(Config{JID: "bot@example.org", Server: "xmpp.example.org"}, logx.Nop()).host())
	require.Equal(t, "10.0.0.1:5223", New(Config{JID: "bot@example.org", Server: "10.0.0.1:5223"}, logx.Nop()).host())
}

func TestNotConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a := New(Config{JID: "bot@example.org"}, logx.Nop())
	require.ErrorIs(t, a.Send(ctx, "x@y", "hi", transport.KindDirect), ErrNotConnected)
	require.ErrorIs(t, a.JoinRoom(ctx, "x@y", "bot", ""), ErrNotConnected)
	require.ErrorIs(t, a.LeaveRoom(ctx, "x@y", "bot", "bye"), ErrNotConnected)
	require.NoError(t, a.Stop(ctx))
}
