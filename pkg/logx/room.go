package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"mucbot/internal/transport"
)

const (
	roomQueueSize   = 256
	roomSendTimeout = 10 * time.Second
	roomLineMax     = 1000
	roomValueMax    = 200
)

type roomLine struct{ room, body string }

// roomSink is a zerolog.LevelWriter that forwards records to a MUC room.
// Writes never block: over-rate or overflowing records are dropped.
type roomSink struct {
	sender atomic.Pointer[transport.Sender]
	queue  chan roomLine

	mu      sync.Mutex
	room    string
	min     zerolog.Level
	limiter *rate.Limiter

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

func newRoomSink() *roomSink {
	return &roomSink{queue: make(chan roomLine, roomQueueSize), done: make(chan struct{})}
}

func (r *roomSink) setSender(s transport.Sender) {
	if s == nil {
		r.sender.Store(nil)
		return
	}
	r.sender.Store(&s)
}

func (r *roomSink) configure(cfg RoomConfig) {
	rps := max(cfg.RatePerSec, 1)
	r.mu.Lock()
	r.room = strings.TrimSpace(cfg.Room)
	r.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	r.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	r.mu.Unlock()
	if cfg.Enabled {
		r.startOnce.Do(r.start)
	}
}

func (r *roomSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case l := <-r.queue:
				sp := r.sender.Load()
				if sp == nil {
					continue
				}
				sctx, cancel := context.WithTimeout(ctx, roomSendTimeout)
				// A failed send is not logged; it would loop back here.
				_ = (*sp).Send(sctx, l.room, l.body, transport.KindGroupchat)
				cancel()
			}
		}
	}()
}

func (r *roomSink) close() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
		<-r.done
	}
}

func (r *roomSink) Write(p []byte) (int, error) { return r.WriteLevel(zerolog.NoLevel, p) }

func (r *roomSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r.mu.Lock()
	room, min, lim := r.room, r.min, r.limiter
	r.mu.Unlock()

	if room == "" || level < min || !lim.Allow() {
		return len(p), nil
	}
	select {
	case r.queue <- roomLine{room: room, body: renderRecord(p)}:
	default:
	}
	return len(p), nil
}

// renderRecord turns a JSON record into "[WARN] message (k=v, k=v)" with
// keys sorted. Non-JSON input is passed through trimmed.
func renderRecord(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, roomLineMax)
	}
	lvl, _ := rec[zerolog.LevelFieldName].(string)
	msg, _ := rec[zerolog.MessageFieldName].(string)

	keys := lo.Filter(lo.Keys(rec), func(k string, _ int) bool {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "stack":
			return false
		}
		return true
	})
	slices.Sort(keys)
	pairs := lo.Map(keys, func(k string, _ int) string {
		return k + "=" + clip(fmt.Sprint(rec[k]), roomValueMax)
	})

	var b strings.Builder
	if lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	b.WriteString(msg)
	if len(pairs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(pairs, ", "))
	}
	return clip(b.String(), roomLineMax)
}

// clip keeps s within n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
