package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mucbot/internal/commands"
	"mucbot/internal/eventbus"
	"mucbot/internal/scheduler"
	"mucbot/internal/transport"
	logx "mucbot/pkg/logx"
)

const echoPrefix = "You said: "

// dispatch is the single consumer of transport events. Presence and
// session transitions are applied in arrival order; command handlers run
// on their own goroutines so a slow one never delays presence.
func (a *App) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

func (a *App) handle(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventSessionStart:
		a.sessionStarted(ctx)
	case transport.EventDisconnected:
		a.sessionEnded(ctx, ev.Err)
	case transport.EventOccupantJoined:
		a.recon.OccupantJoined(ctx, ev.Room, ev.Nick)
	case transport.EventOccupantLeft:
		a.recon.OccupantLeft(ctx, ev.Room, ev.Nick)
	case transport.EventDirectMessage:
		a.directMessage(ev)
	case transport.EventGroupMessage:
		a.groupMessage(ev)
	default:
		a.log.Debug("ignoring transport event", logx.String("kind", string(ev.Kind)))
	}
}

// sessionStarted joins the configured rooms and starts a fresh scheduler.
// Membership always starts empty, so everyone already present in a room is
// greeted once per session.
func (a *App) sessionStarted(ctx context.Context) {
	a.stopScheduler(ctx)
	a.members.Reset()

	live := a.cfgm.Get()
	joined := 0
	for _, room := range a.boot.Bot.AutoJoinRooms {
		if err := a.recon.JoinRoom(ctx, room, live.Room(room).Password); err != nil {
			continue
		}
		a.members.Configure(room, roomSettings(live, room))
		joined++
	}
	a.log.Info("session ready", logx.Int("rooms", joined), logx.Int("configured", len(a.boot.Bot.AutoJoinRooms)))

	a.startScheduler(ctx)
}

func (a *App) sessionEnded(ctx context.Context, err error) {
	a.stopScheduler(ctx)
	n := len(a.members.Rooms())
	a.members.Reset()

	ev := eventbus.Event{Type: eventbus.TypeSessionClosed, Detail: fmt.Sprintf("%d rooms", n)}
	if err != nil {
		ev.Err = err.Error()
		a.log.Warn("session lost; membership cleared", logx.Int("rooms", n), logx.Err(err))
	} else {
		a.log.Info("session closed", logx.Int("rooms", n))
	}
	a.bus.Publish(ev)
}

func (a *App) startScheduler(ctx context.Context) {
	cfg := a.boot
	s := scheduler.New(scheduler.Config{
		Timezone:            cfg.Bot.Timezone,
		HourlyAnnouncements: cfg.Scheduler.HourlyEnabled(),
	}, a.bcast.HourlyWork(a.opts.clk.Now, a.loc),
		scheduler.WithClock(a.opts.clk),
		scheduler.WithLogger(a.log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(a.bus))
	if err := s.Start(ctx); err != nil {
		a.log.Error("scheduler start failed", logx.Err(err))
		return
	}

	for i, d := range cfg.Scheduler.Daily {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = fmt.Sprintf("daily-%d", i+1)
		}
		if _, err := s.ScheduleDailyAt(name, a.bcast.Message(name, d.Message, d.Rooms), d.At); err != nil {
			a.log.Warn("daily message not scheduled", logx.String("name", name), logx.Err(err))
		}
	}

	a.mu.Lock()
	a.sched = s
	a.mu.Unlock()
}

func (a *App) stopScheduler(ctx context.Context) {
	a.mu.Lock()
	s := a.sched
	a.sched = nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	// ctx may already be done during shutdown; give tasks a moment anyway.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.Stop(sctx); err != nil {
		a.log.Warn("scheduler stop incomplete", logx.Err(err))
	}
}

func (a *App) directMessage(ev transport.Event) {
	if !commands.IsCommand(ev.Body) {
		a.reply(a.sup.Context(), ev.From, echoPrefix+ev.Body, transport.KindDirect)
		return
	}
	a.runCommand(ev.Body, commands.Invocation{From: ev.From}, transport.KindDirect)
}

func (a *App) groupMessage(ev transport.Event) {
	if ev.Nick == a.members.SelfNick() || !commands.IsCommand(ev.Body) {
		return
	}
	a.runCommand(ev.Body, commands.Invocation{
		Group: true,
		Room:  ev.Room,
		From:  ev.Room,
		Nick:  ev.Nick,
	}, transport.KindGroupchat)
}

func (a *App) runCommand(text string, inv commands.Invocation, kind transport.MessageKind) {
	a.sup.Go("command", func(ctx context.Context) error {
		if reply, handled := a.router.Handle(ctx, text, inv); handled {
			a.reply(ctx, inv.From, reply, kind)
		}
		return nil
	})
}

func (a *App) reply(ctx context.Context, to, body string, kind transport.MessageKind) {
	if strings.TrimSpace(body) == "" {
		return
	}
	if err := a.adapter.Send(ctx, to, body, kind); err != nil {
		a.log.Warn("reply failed", logx.String("to", to), logx.Err(err))
	}
}
