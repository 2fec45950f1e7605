// Package announce delivers announcements to the rooms the bot is in.
package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"mucbot/internal/eventbus"
	"mucbot/internal/transport"
	logx "mucbot/pkg/logx"
)

// RoomLister is the read side of the membership store the broadcaster needs.
type RoomLister interface {
	Rooms() []string
}

type Config struct {
	// RatePerSec bounds outbound groupchat messages; <=0 means 5.
	RatePerSec int
	// RetryMax is the number of extra attempts per room after a failed send.
	RetryMax int
}

// Result summarises one broadcast.
type Result struct {
	Total   int
	Sent    int
	Failed  []string
	lastErr error
}

// Err is non-nil only when there were targets and none received the text.
func (r Result) Err() error {
	if r.Total > 0 && r.Sent == 0 {
		return fmt.Errorf("broadcast reached none of %d rooms: %w", r.Total, r.lastErr)
	}
	return nil
}

type Option func(*Broadcaster)

func WithLogger(log logx.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(b *Broadcaster) { b.bus = bus }
}

type Broadcaster struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	rooms  RoomLister
	sender transport.Sender
	log    logx.Logger
	bus    eventbus.Bus
}

func New(cfg Config, rooms RoomLister, sender transport.Sender, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		rooms:  rooms,
		sender: sender,
		log:    logx.Nop(),
		bus:    eventbus.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	b.Apply(cfg)
	return b
}

// Apply swaps the rate and retry settings. Safe while broadcasts run.
func (b *Broadcaster) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	b.mu.Lock()
	b.cfg = cfg
	b.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	b.mu.Unlock()
}

// Broadcast sends text to every tracked room except those in exclude.
// The room list is a snapshot taken once at the start.
func (b *Broadcaster) Broadcast(ctx context.Context, name, text string, exclude ...string) Result {
	targets := lo.Without(b.rooms.Rooms(), exclude...)
	return b.SendTo(ctx, name, text, targets)
}

// SendTo sends text to each room in targets. A failing room is logged and
// skipped; it never stops the remaining sends.
func (b *Broadcaster) SendTo(ctx context.Context, name, text string, targets []string) Result {
	start := time.Now()
	res := Result{Total: len(targets)}
	for i, room := range targets {
		if err := b.sendOne(ctx, name, room, text); err != nil {
			res.Failed = append(res.Failed, room)
			res.lastErr = err
			if ctx.Err() != nil {
				// Remaining rooms are not attempted once the caller is gone.
				res.Failed = append(res.Failed, targets[i+1:]...)
				break
			}
			continue
		}
		res.Sent++
	}

	fields := []logx.Field{
		logx.String("name", name),
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Duration("dur", time.Since(start)),
	}
	if len(res.Failed) > 0 {
		b.log.Warn("broadcast finished with failures", append(fields, logx.Strings("failed", res.Failed))...)
	} else {
		b.log.Info("broadcast finished", fields...)
	}
	b.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeAnnounceSent,
		Actor:  name,
		Detail: fmt.Sprintf("%d/%d rooms: %s", res.Sent, res.Total, text),
	})
	return res
}

// SendRoom sends one groupchat message, rate-limited like broadcasts.
func (b *Broadcaster) SendRoom(ctx context.Context, room, text string) error {
	return b.sendOne(ctx, "room", room, text)
}

func (b *Broadcaster) sendOne(ctx context.Context, name, room, text string) error {
	b.mu.Lock()
	lim := b.limiter
	retry := b.cfg.RetryMax
	b.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		err := b.sender.Send(ctx, room, text, transport.KindGroupchat)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		b.log.Debug("broadcast send retry scheduled", logx.String("name", name), logx.String("room", room), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	b.log.Warn("broadcast send failed", logx.String("name", name), logx.String("room", room), logx.Err(last))
	return last
}
