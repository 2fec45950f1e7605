package xmpp

import (
	"strings"

	goxmpp "github.com/xmppo/go-xmpp"

	"mucbot/internal/transport"
)

// translate maps a received stanza to an event. joined reports whether a
// bare JID is a room of the current session; presence from anything else
// (roster contacts, rooms we already left) is not occupant information.
func translate(st any, joined func(room string) bool) (transport.Event, bool) {
	switch v := st.(type) {
	case goxmpp.Chat:
		return translateChat(v)
	case goxmpp.Presence:
		return translatePresence(v, joined)
	default:
		return transport.Event{}, false
	}
}

func translateChat(c goxmpp.Chat) (transport.Event, bool) {
	if strings.TrimSpace(c.Text) == "" || !c.Stamp.IsZero() {
		// Empty bodies are chat states or subjects; stamped ones are history.
		return transport.Event{}, false
	}
	switch c.Type {
	case "groupchat":
		room, nick := splitJID(c.Remote)
		if nick == "" {
			// Room-originated notices (no occupant resource).
			return transport.Event{}, false
		}
		return transport.Event{
			Kind: transport.EventGroupMessage,
			Room: room,
			Nick: nick,
			From: room,
			Body: c.Text,
			Type: transport.KindGroupchat,
		}, true
	case "chat", "normal", "":
		return transport.Event{
			Kind: transport.EventDirectMessage,
			From: c.Remote,
			Body: c.Text,
			Type: transport.KindDirect,
		}, true
	default:
		return transport.Event{}, false
	}
}

func translatePresence(p goxmpp.Presence, joined func(string) bool) (transport.Event, bool) {
	room, nick := splitJID(p.From)
	if nick == "" || !joined(room) {
		return transport.Event{}, false
	}
	switch p.Type {
	case "":
		return transport.Event{Kind: transport.EventOccupantJoined, Room: room, Nick: nick}, true
	case "unavailable":
		return transport.Event{Kind: transport.EventOccupantLeft, Room: room, Nick: nick}, true
	default:
		return transport.Event{}, false
	}
}

// splitJID splits "local@domain/resource" into the bare JID and resource.
func splitJID(jid string) (bare, resource string) {
	bare, resource, _ = strings.Cut(jid, "/")
	return bare, resource
}

func bareJID(jid string) string {
	bare, _ := splitJID(jid)
	return bare
}
