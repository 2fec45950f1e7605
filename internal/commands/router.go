// Package commands parses "!name args" text and dispatches it to a fixed
// table of handlers. Handlers only read bot state through the ports below.
package commands

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"mucbot/internal/clock"
	"mucbot/internal/eventbus"
	"mucbot/internal/storage"
	logx "mucbot/pkg/logx"
)

const (
	Prefix = "!"

	replyGroupOnly = "This command is only available in group chats."
	replyError     = "Sorry, there was an error processing your command."
)

// Membership is the read-only room view handlers use.
type Membership interface {
	Rooms() []string
	Occupants(room string) []string
	TotalOccupantCount() int
	RoomsOf(nick string) []string
	Report(now time.Time) string
}

// SchedulerView reports the next hourly announcement. ok is false when no
// session scheduler is running or hourly announcements are off.
type SchedulerView interface {
	NextHourly() (next time.Time, ok bool)
}

// AuditLog is the optional activity history behind !history.
type AuditLog interface {
	Recent(ctx context.Context, n int) ([]storage.AuditEntry, error)
}

// Identity is static bot information shown by status and about.
type Identity struct {
	Nick      string
	Version   string
	Location  *time.Location
	StartedAt time.Time
}

// Invocation says where a command came from.
type Invocation struct {
	Group bool
	// Room is the bare room JID for group messages.
	Room string
	// From is the reply address (user JID or room).
	From string
	// Nick is the sender's room nickname for group messages.
	Nick string
}

type Request struct {
	ID         string
	Name       string
	Args       []string
	Invocation Invocation
	Logger     logx.Logger
	Now        time.Time
}

type Command struct {
	Name        string
	Usage       string
	Description string
	GroupOnly   bool
	Handle      HandlerFunc
}

type Option func(*Router)

func WithLogger(log logx.Logger) Option {
	return func(r *Router) { r.log = log }
}

func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clk = c }
}

func WithBus(bus eventbus.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithAudit enables !history. A nil log leaves it reporting "disabled".
func WithAudit(a AuditLog) Option {
	return func(r *Router) { r.audit = a }
}

// WithTimeout bounds every handler. Zero (the default) means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

type entry struct {
	cmd     Command
	handler HandlerFunc
}

// Router is safe for concurrent Handle calls; its table never changes after
// New returns.
type Router struct {
	id      Identity
	members Membership
	sched   SchedulerView

	log     logx.Logger
	clk     clock.Clock
	bus     eventbus.Bus
	audit   AuditLog
	timeout time.Duration

	order []string
	table map[string]entry
}

func New(id Identity, members Membership, sched SchedulerView, opts ...Option) *Router {
	r := &Router{
		id:      id,
		members: members,
		sched:   sched,
		log:     logx.Nop(),
		clk:     clock.Real(),
		bus:     eventbus.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.id.Location == nil {
		r.id.Location = time.UTC
	}
	if r.id.StartedAt.IsZero() {
		r.id.StartedAt = r.clk.Now()
	}

	mws := []Middleware{Recover(r.log), LogRequests(r.log), Timeout(r.timeout)}
	r.table = map[string]entry{}
	for _, c := range r.builtins() {
		r.order = append(r.order, c.Name)
		r.table[c.Name] = entry{cmd: c, handler: Chain(c.Handle, mws...)}
	}
	return r
}

// Commands lists the table in help order.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.table[name].cmd)
	}
	return out
}

// IsCommand reports whether text would be routed at all.
func IsCommand(text string) bool {
	_, _, ok := parse(text)
	return ok
}

// Handle runs the command in text. handled is false when text is not a
// command; every command (known, unknown or failing) is handled and the
// reply, if non-empty, goes back to inv.From.
func (r *Router) Handle(ctx context.Context, text string, inv Invocation) (reply string, handled bool) {
	name, args, ok := parse(text)
	if !ok {
		return "", false
	}
	req := &Request{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       args,
		Invocation: inv,
		Now:        r.clk.Now(),
	}
	req.Logger = r.log.With(logx.String("req", req.ID), logx.String("cmd", name), logx.String("from", inv.From))
	req.Logger.Info("processing command", logx.Strings("args", args))

	e, known := r.table[name]
	switch {
	case !known:
		reply = "Unknown command: " + name + ". Type " + Prefix + "help for available commands."
	case e.cmd.GroupOnly && !inv.Group:
		reply = replyGroupOnly
	default:
		out, err := e.handler(ctx, req)
		if err != nil {
			req.Logger.Error("command error", logx.Err(err))
			r.publish(req, err)
			return replyError, true
		}
		reply = out
	}
	r.publish(req, nil)
	return reply, true
}

func (r *Router) publish(req *Request, err error) {
	ev := eventbus.Event{
		Type:   eventbus.TypeCommandDone,
		Time:   req.Now,
		Room:   req.Invocation.Room,
		Actor:  req.Invocation.From,
		Detail: strings.TrimSpace(req.Name + " " + strings.Join(req.Args, " ")),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	r.bus.Publish(ev)
}

func parse(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return "", nil, false
	}
	parts := strings.Fields(text[len(Prefix):])
	if len(parts) == 0 {
		return "", nil, false
	}
	return strings.ToLower(parts[0]), parts[1:], true
}
