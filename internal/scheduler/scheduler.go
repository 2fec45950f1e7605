package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mucbot/internal/clock"
	"mucbot/internal/eventbus"
	rtsup "mucbot/internal/runtime/supervisor"
	logx "mucbot/pkg/logx"
)

const hourlyTaskName = "hourly-announcement"

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clk = c }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

type Scheduler struct {
	mu sync.Mutex

	cfg      Config
	loc      *time.Location
	clk      clock.Clock
	log      logx.Logger
	bus      eventbus.Bus
	announce Work
	hourly   cron.Schedule

	state State
	sup   *rtsup.Supervisor
	tasks map[string]*task
}

// New builds an idle scheduler. announce is the hourly side effect; it may
// be nil when hourly announcements are disabled.
func New(cfg Config, announce Work, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		clk:      clock.Real(),
		log:      logx.Nop(),
		bus:      eventbus.Nop(),
		announce: announce,
		tasks:    map[string]*task{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation()
	s.hourly, _ = specParser.Parse("@hourly")
	return s
}

func (s *Scheduler) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Location is the timezone used for wall-clock triggers.
func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Running() bool { return s.State() == StateRunning }

// Start moves Idle → Running and launches the hourly loop when enabled.
// Any other starting state is logged and rejected without side effects.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		s.log.Warn("scheduler start ignored", logx.String("state", s.state.String()))
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler.sup"))))

	if s.cfg.HourlyAnnouncements && s.announce != nil {
		s.addLocked(&task{name: hourlyTaskName, rec: RecurHourly, spec: "@hourly", sched: s.hourly, work: s.announce})
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Bool("hourly", s.cfg.HourlyAnnouncements))
	return nil
}

// Stop cancels every task and returns once all of them have unwound, or
// when ctx ends. Calling it again waits on the same shutdown.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateStopped
	sup := s.sup
	s.mu.Unlock()

	if sup == nil {
		return nil
	}
	start := s.clk.Now()
	if prev == StateRunning {
		s.log.Info("scheduler stopping")
	}
	err := sup.Stop(ctx)
	if prev == StateRunning {
		s.log.Info("scheduler stopped", logx.Duration("took", s.clk.Now().Sub(start)))
	}
	return err
}

// ScheduleOnce runs work a single time after delay.
func (s *Scheduler) ScheduleOnce(name string, work Work, delay time.Duration) (string, error) {
	if work == nil {
		return "", fmt.Errorf("schedule %q: work is nil", name)
	}
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return "", ErrNotRunning
	}
	t := &task{name: name, rec: RecurOnce, spec: "in " + delay.String(), at: s.clk.Now().Add(delay), work: work}
	return s.addLocked(t), nil
}

// ScheduleDaily runs work every day at hour:minute in the scheduler's
// timezone. If that time has already passed today (or is now), the first
// run is tomorrow.
func (s *Scheduler) ScheduleDaily(name string, work Work, hour, minute int) (string, error) {
	if work == nil {
		return "", fmt.Errorf("schedule %q: work is nil", name)
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule %q: invalid hour %d", name, hour)
	}
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule %q: invalid minute %d", name, minute)
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	sched, err := specParser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return "", ErrNotRunning
	}
	return s.addLocked(&task{name: name, rec: RecurDaily, spec: spec, sched: sched, work: work}), nil
}

// ScheduleDailyAt is ScheduleDaily with an "HH:MM" time.
func (s *Scheduler) ScheduleDailyAt(name string, work Work, atHHMM string) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.ScheduleDaily(name, work, h, m)
}

// NextHourly returns the next top-of-hour in the scheduler's timezone.
func (s *Scheduler) NextHourly() time.Time {
	return s.hourly.Next(s.clk.Now().In(s.loc))
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{State: s.state, Timezone: s.loc.String(), Tasks: make([]TaskInfo, 0, len(s.tasks))}
	for _, t := range s.tasks {
		out.Tasks = append(out.Tasks, TaskInfo{
			ID:         t.id,
			Name:       t.name,
			Recurrence: t.rec,
			Spec:       t.spec,
			Next:       t.next,
			Runs:       t.runs,
			Failures:   t.failures,
			LastError:  t.lastErr,
		})
	}
	sort.Slice(out.Tasks, func(i, j int) bool {
		if !out.Tasks[i].Next.Equal(out.Tasks[j].Next) {
			return out.Tasks[i].Next.Before(out.Tasks[j].Next)
		}
		return out.Tasks[i].Name < out.Tasks[j].Name
	})
	return out
}

// addLocked registers t and starts its goroutine. Must hold s.mu with the
// scheduler Running, so no task can be added once Stop has begun waiting.
func (s *Scheduler) addLocked(t *task) string {
	t.id = uuid.NewString()
	s.tasks[t.id] = t
	s.sup.Go(t.rec.String()+":"+t.name, func(ctx context.Context) error {
		s.loop(ctx, t)
		return nil
	})
	s.log.Debug("task scheduled", logx.String("task", t.name), logx.String("id", t.id), logx.String("recurrence", t.rec.String()), logx.String("spec", t.spec))
	return t.id
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	log := s.log.With(logx.String("task", t.name), logx.String("id", t.id))
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t.id)
		s.mu.Unlock()
	}()

	for {
		now := s.clk.Now()
		at := t.at
		if t.rec != RecurOnce {
			at = t.sched.Next(now.In(s.loc))
		}
		s.mu.Lock()
		t.next = at
		s.mu.Unlock()

		log.Debug("task sleeping", logx.Time("until", at), logx.Duration("in", at.Sub(now)))
		if !s.sleepUntil(ctx, at.Sub(now)) {
			log.Debug("task cancelled")
			return
		}
		s.execute(ctx, t, log)
		if t.rec == RecurOnce {
			return
		}
	}
}

// sleepUntil waits d on the scheduler clock. It reports false when ctx was
// cancelled first, including a cancel racing with the timer.
func (s *Scheduler) sleepUntil(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := s.clk.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task, log logx.Logger) {
	start := s.clk.Now()
	err := runWork(ctx, t.work)
	// Work unwinding because Stop cancelled it is not a failure.
	cancelled := err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled)

	s.mu.Lock()
	t.runs++
	if err != nil && !cancelled {
		t.failures++
		t.lastErr = err.Error()
	}
	s.mu.Unlock()

	switch {
	case cancelled:
		log.Debug("task cancelled", logx.Duration("dur", s.clk.Now().Sub(start)))
	case err != nil:
		log.Error("task failed", logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Time: start, Actor: t.name, Err: err.Error()})
	default:
		log.Debug("task completed", logx.Duration("dur", s.clk.Now().Sub(start)))
	}
}

func runWork(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return work(ctx)
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
