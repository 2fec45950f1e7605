// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	"mucbot/internal/transport"
)

type Message struct {
	To   string
	Body string
	Kind transport.MessageKind
}

type RoomCall struct {
	Room     string
	Nick     string
	Password string
	Reason   string
}

// Fake records every outbound call. The error hooks are read on each call
// so tests may swap them at any time under the Fake's lock via the setters.
type Fake struct {
	mu       sync.Mutex
	sent     []Message
	joins    []RoomCall
	leaves   []RoomCall
	sendErr  func(to string) error
	joinErr  func(room string) error
	leaveErr func(room string) error

	out     chan<- transport.Event
	ready   chan struct{}
	once    sync.Once
	stopped chan struct{}
	stopOne sync.Once
	starts  int
}

var _ transport.Adapter = (*Fake)(nil)

func New() *Fake {
	return &Fake{ready: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *Fake) SetSendErr(fn func(to string) error) {
	f.mu.Lock()
	f.sendErr = fn
	f.mu.Unlock()
}

func (f *Fake) SetJoinErr(fn func(room string) error) {
	f.mu.Lock()
	f.joinErr = fn
	f.mu.Unlock()
}

func (f *Fake) SetLeaveErr(fn func(room string) error) {
	f.mu.Lock()
	f.leaveErr = fn
	f.mu.Unlock()
}

func (f *Fake) Send(_ context.Context, to, body string, kind transport.MessageKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(to); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, Message{To: to, Body: body, Kind: kind})
	return nil
}

func (f *Fake) JoinRoom(_ context.Context, room, nick, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		if err := f.joinErr(room); err != nil {
			return err
		}
	}
	f.joins = append(f.joins, RoomCall{Room: room, Nick: nick, Password: password})
	return nil
}

func (f *Fake) LeaveRoom(_ context.Context, room, nick, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveErr != nil {
		if err := f.leaveErr(room); err != nil {
			return err
		}
	}
	f.leaves = append(f.leaves, RoomCall{Room: room, Nick: nick, Reason: reason})
	return nil
}

// Start hands out to Emit and blocks until ctx ends or Stop is called.
func (f *Fake) Start(ctx context.Context, out chan<- transport.Event) error {
	f.mu.Lock()
	f.out = out
	f.starts++
	f.mu.Unlock()
	f.once.Do(func() { close(f.ready) })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopped:
		return nil
	}
}

func (f *Fake) Stop(context.Context) error {
	f.stopOne.Do(func() { close(f.stopped) })
	return nil
}

// Emit delivers ev as if the server had sent it. It waits for Start.
func (f *Fake) Emit(ctx context.Context, ev transport.Event) {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return
	}
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

// SentTo returns the bodies delivered to one address, in order.
func (f *Fake) SentTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

func (f *Fake) Joins() []RoomCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoomCall(nil), f.joins...)
}

func (f *Fake) Leaves() []RoomCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoomCall(nil), f.leaves...)
}

func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
