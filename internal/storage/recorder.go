package storage

import (
	"context"
	"time"

	"mucbot/internal/eventbus"
	logx "mucbot/pkg/logx"
)

// Recorder copies bus events into the audit store. It subscribes on
// construction so nothing published after NewRecorder returns is missed,
// as long as the buffer keeps up.
type Recorder struct {
	store Store
	log   logx.Logger
	ch    <-chan eventbus.Event
	unsub func()
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(256)
	return &Recorder{store: store, log: log, ch: ch, unsub: unsub}
}

// Run persists events until ctx ends or Close is called.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.record(ctx, e)
		}
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := r.store.AppendAudit(wctx, AuditEntry{
		At:     e.Time,
		Kind:   e.Type,
		Room:   e.Room,
		Actor:  e.Actor,
		Detail: e.Detail,
		Error:  e.Err,
	})
	if err != nil {
		r.log.Warn("audit append failed", logx.String("kind", e.Type), logx.Err(err))
	}
}

// Close stops the subscription; a running Run returns.
func (r *Recorder) Close() { r.unsub() }
