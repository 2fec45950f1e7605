// Package presence turns occupant join/leave notifications into membership
// changes and greets people the first time they are seen in a room.
package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mucbot/internal/eventbus"
	"mucbot/internal/rooms"
	"mucbot/internal/transport"
	logx "mucbot/pkg/logx"
)

const (
	DefaultGreeting = "Hello {nick}! Welcome to the conference!"
	DefaultReason   = "Goodbye!"

	// SettingGreet is the per-room bool setting that turns greetings off.
	SettingGreet = "greet"
)

type Transport interface {
	transport.Sender
	transport.RoomOps
}

type Option func(*Reconciler)

func WithLogger(log logx.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(r *Reconciler) { r.bus = bus }
}

type Reconciler struct {
	store *rooms.Store
	tr    Transport
	log   logx.Logger
	bus   eventbus.Bus

	mu       sync.RWMutex
	greeting string
}

func New(store *rooms.Store, tr Transport, greeting string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store: store,
		tr:    tr,
		log:   logx.Nop(),
		bus:   eventbus.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.SetGreeting(greeting)
	return r
}

// SetGreeting replaces the template; {nick} and {room} are substituted.
func (r *Reconciler) SetGreeting(tmpl string) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultGreeting
	}
	r.mu.Lock()
	r.greeting = tmpl
	r.mu.Unlock()
}

func (r *Reconciler) Greeting(nick, room string) string {
	r.mu.RLock()
	tmpl := r.greeting
	r.mu.RUnlock()
	return strings.NewReplacer("{nick}", nick, "{room}", room).Replace(tmpl)
}

// OccupantJoined records nick in room. A first sighting is greeted unless
// the room has greetings turned off; repeat presence is silent.
func (r *Reconciler) OccupantJoined(ctx context.Context, room, nick string) {
	if r.isSelf(nick) {
		return
	}
	if !r.store.Join(room, nick) {
		r.log.Debug("presence update for known occupant", logx.String("room", room), logx.String("nick", nick))
		return
	}
	r.log.Info("user joined room", logx.String("room", room), logx.String("nick", nick))
	if !r.store.BoolSetting(room, SettingGreet, true) {
		return
	}

	text := r.Greeting(nick, room)
	if err := r.tr.Send(ctx, room, text, transport.KindGroupchat); err != nil {
		// Membership stays; the greeting is simply lost.
		r.log.Warn("greeting send failed", logx.String("room", room), logx.String("nick", nick), logx.Err(err))
		return
	}
	r.log.Info("sent greeting", logx.String("room", room), logx.String("nick", nick))
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeGreetingSent, Room: room, Actor: nick, Detail: text})
}

func (r *Reconciler) OccupantLeft(_ context.Context, room, nick string) {
	if r.isSelf(nick) {
		return
	}
	r.store.Leave(room, nick)
	r.log.Info("user left room", logx.String("room", room), logx.String("nick", nick))
}

// JoinRoom enters room as the bot and starts tracking it. The store is not
// touched when the transport call fails.
func (r *Reconciler) JoinRoom(ctx context.Context, room, password string) error {
	nick := r.store.SelfNick()
	if err := r.tr.JoinRoom(ctx, room, nick, password); err != nil {
		r.log.Error("failed to join room", logx.String("room", room), logx.Err(err))
		return fmt.Errorf("join %s: %w", room, err)
	}
	r.store.Track(room)
	r.log.Info("joined room", logx.String("room", room), logx.String("nick", nick))
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeRoomJoined, Room: room, Actor: nick})
	return nil
}

// LeaveRoom exits room and drops its membership and settings.
func (r *Reconciler) LeaveRoom(ctx context.Context, room, reason string) error {
	if reason == "" {
		reason = DefaultReason
	}
	nick := r.store.SelfNick()
	if err := r.tr.LeaveRoom(ctx, room, nick, reason); err != nil {
		r.log.Error("failed to leave room", logx.String("room", room), logx.Err(err))
		return fmt.Errorf("leave %s: %w", room, err)
	}
	r.store.ForgetRoom(room)
	r.log.Info("left room", logx.String("room", room), logx.String("reason", reason))
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeRoomLeft, Room: room, Actor: nick, Detail: reason})
	return nil
}

func (r *Reconciler) isSelf(nick string) bool {
	return nick == "" || nick == r.store.SelfNick()
}
