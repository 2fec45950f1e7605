// Package app wires the bot together: configuration, logging, the room
// store, presence reconciliation, commands, announcements, audit storage
// and the XMPP transport.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"mucbot/internal/announce"
	"mucbot/internal/clock"
	"mucbot/internal/commands"
	"mucbot/internal/config"
	"mucbot/internal/eventbus"
	"mucbot/internal/presence"
	"mucbot/internal/rooms"
	rtsup "mucbot/internal/runtime/supervisor"
	"mucbot/internal/scheduler"
	"mucbot/internal/storage"
	"mucbot/internal/transport"
	"mucbot/internal/transport/xmpp"
	logx "mucbot/pkg/logx"
)

type Option func(*options)

type options struct {
	adapter transport.Adapter
	clk     clock.Clock
	env     config.Env
	debug   bool
	version string
}

// WithAdapter replaces the XMPP transport.
func WithAdapter(ad transport.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithEnv sets the environment overlay applied on load and on every reload.
func WithEnv(env config.Env) Option {
	return func(o *options) { o.env = env }
}

// WithDebug forces debug level logging regardless of logging.level.
func WithDebug(on bool) Option {
	return func(o *options) { o.debug = on }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

type App struct {
	cfgm *config.Manager
	// boot is the config the process started with; restart-only sections
	// are always read from it.
	boot *config.Config
	opts options

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *storage.Recorder

	members *rooms.Store
	recon   *presence.Reconciler
	bcast   *announce.Broadcaster
	router  *commands.Router
	adapter transport.Adapter
	loc     *time.Location

	sup    *rtsup.Supervisor
	events chan transport.Event

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{clk: clock.Real(), version: "dev"}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(o.env)
	cfgm.SetLogger(logx.NewConsole("info").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg, o.debug))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc := storageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	var rec *storage.Recorder
	if store != nil {
		rec = storage.NewRecorder(store, bus, log.With(logx.String("comp", "audit")))
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ad := o.adapter
	if ad == nil {
		ad = xmpp.New(xmppConfig(cfg, o.debug), log.With(logx.String("comp", "xmpp")))
	}
	logSvc.SetSender(ad)

	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		loc = time.UTC
	}

	members := rooms.New(cfg.Bot.Nickname)
	a := &App{
		cfgm:    cfgm,
		boot:    cfg,
		opts:    o,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		rec:     rec,
		members: members,
		adapter: ad,
		loc:     loc,
		events:  make(chan transport.Event, 256),
	}
	a.recon = presence.New(members, ad, cfg.Bot.Greeting,
		presence.WithLogger(log.With(logx.String("comp", "presence"))),
		presence.WithBus(bus))
	a.bcast = announce.New(broadcastConfig(cfg), members, ad,
		announce.WithLogger(log.With(logx.String("comp", "announce"))),
		announce.WithBus(bus))

	ropts := []commands.Option{
		commands.WithLogger(log.With(logx.String("comp", "commands"))),
		commands.WithClock(o.clk),
		commands.WithBus(bus),
		commands.WithTimeout(cfg.Bot.CommandTimeoutDuration()),
	}
	if store != nil {
		ropts = append(ropts, commands.WithAudit(store))
	}
	a.router = commands.New(commands.Identity{
		Nick:      cfg.Bot.Nickname,
		Version:   o.version,
		Location:  loc,
		StartedAt: o.clk.Now(),
	}, members, a, ropts...)

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Rooms exposes the membership store, mainly for tests and diagnostics.
func (a *App) Rooms() *rooms.Store { return a.members }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "app.sup"))),
		rtsup.WithCancelOnError(true))

	if a.rec != nil {
		a.sup.Go("audit.recorder", a.rec.Run)
	}

	// Subscribe before the watcher starts so no reload is missed.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		return a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("events", a.dispatch)
	a.sup.Go("transport", func(c context.Context) error {
		return a.adapter.Start(c, a.events)
	})

	a.log.Info("bot started",
		logx.String("nick", a.boot.Bot.Nickname),
		logx.String("tz", a.loc.String()),
		logx.Strings("rooms", a.boot.Bot.AutoJoinRooms))
	return nil
}

// Stop leaves joined rooms, then tears everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("shutting down")
	for _, room := range a.members.Rooms() {
		// Failures are logged by the reconciler.
		_ = a.recon.LeaveRoom(ctx, room, "")
	}
	a.stopScheduler(ctx)

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("transport stop failed", logx.Err(err))
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.rec != nil {
		a.rec.Close()
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("storage close failed", logx.Err(cerr))
		}
	}
	_ = a.logs.Close()
	return err
}

// NextHourly implements commands.SchedulerView over the current session.
func (a *App) NextHourly() (time.Time, bool) {
	a.mu.Lock()
	s := a.sched
	a.mu.Unlock()
	if s == nil || !s.Running() || !a.boot.Scheduler.HourlyEnabled() {
		return time.Time{}, false
	}
	return s.NextHourly(), true
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			next = latest(sub, next)
			a.applyConfig(last, next)
			last = next
		}
	}
}

// latest drains queued reloads and keeps the newest.
func latest(sub chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(prev, cfg *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, cfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	for _, section := range changed {
		switch section {
		case "bot.greeting":
			a.recon.SetGreeting(cfg.Bot.Greeting)
		case "broadcast":
			a.bcast.Apply(broadcastConfig(cfg))
		case "logging":
			a.logs.Apply(logConfig(cfg, a.opts.debug))
		case "rooms":
			for _, room := range a.members.Rooms() {
				a.members.Configure(room, roomSettings(cfg, room))
			}
		}
	}
}

// roomSettings always carries the greet flag so turning it back on by
// omission replaces an earlier false.
func roomSettings(cfg *config.Config, room string) map[string]any {
	s := cfg.Room(room).SettingsMap()
	if _, ok := s[presence.SettingGreet]; !ok {
		s[presence.SettingGreet] = true
	}
	return s
}
