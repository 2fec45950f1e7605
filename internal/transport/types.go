package transport

import "context"

// EventKind classifies what the XMPP session delivered.
type EventKind string

const (
	EventSessionStart   EventKind = "session_start"
	EventDirectMessage  EventKind = "direct_message"
	EventGroupMessage   EventKind = "group_message"
	EventOccupantJoined EventKind = "occupant_joined"
	EventOccupantLeft   EventKind = "occupant_left"
	EventDisconnected   EventKind = "disconnected"
)

// MessageKind is the XMPP message type attribute used for outbound messages.
type MessageKind string

const (
	KindDirect    MessageKind = "chat"
	KindGroupchat MessageKind = "groupchat"
)

// Event is one inbound notification from the protocol layer. Which fields
// are set depends on Kind:
//   - messages: From (reply address), Body, Type; group messages also Room and Nick
//   - occupant joined/left: Room (bare JID) and Nick (resource)
//   - disconnected: Err (nil on clean close)
type Event struct {
	Kind EventKind
	Room string
	Nick string
	From string
	Body string
	Type MessageKind
	Err  error
}

// Sender delivers a message body to a bare JID (room or user).
type Sender interface {
	Send(ctx context.Context, to, body string, kind MessageKind) error
}

// RoomOps are the MUC membership calls the bot makes on its own behalf.
type RoomOps interface {
	JoinRoom(ctx context.Context, room, nick, password string) error
	LeaveRoom(ctx context.Context, room, nick, reason string) error
}

// Adapter is a full protocol session. Start pushes events into out until
// ctx is cancelled or Stop is called.
type Adapter interface {
	Sender
	RoomOps
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error
}
