// Package supervisor runs named goroutines on a shared context, recovers
// their panics and remembers the first error.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"mucbot/internal/clock"
	logx "mucbot/pkg/logx"
)

const (
	defaultRestartMin = 500 * time.Millisecond
	defaultRestartMax = 30 * time.Second
	// A run lasting this long counts as healthy and resets the backoff.
	healthyRun = 30 * time.Second
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	waitMu sync.Once

	log         logx.Logger
	clk         clock.Clock
	cancelOnErr bool

	err    atomic.Pointer[error]
	panics atomic.Uint64

	mu      sync.Mutex
	running map[string]int
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithClock drives restart backoff; tests pass a fake clock.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clk = c }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(on bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = on }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logx.Nop(),
		clk:     clock.Real(),
		running: map[string]int{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err is the first failure seen, or nil.
func (s *Supervisor) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Panics counts recovered panics.
func (s *Supervisor) Panics() uint64 { return s.panics.Load() }

// Active lists the names of running goroutines, sorted.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	names := lo.Keys(s.running)
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

func (s *Supervisor) enter(name string) {
	s.mu.Lock()
	s.running[name]++
	s.mu.Unlock()
}

func (s *Supervisor) leave(name string) {
	s.mu.Lock()
	if s.running[name]--; s.running[name] <= 0 {
		delete(s.running, name)
	}
	s.mu.Unlock()
}

// Go starts fn. Returning context.Canceled counts as a clean exit; any
// other error or a panic is recorded and, with WithCancelOnError, stops
// every other goroutine.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.enter(name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.leave(name)
		if err := s.call(name, fn); err != nil {
			s.fail(err)
		}
	}()
}

func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	defer s.log.Debug("goroutine stopped", logx.String("name", name))
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	s.err.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

type RestartOption func(*backoff)

type backoff struct{ min, max time.Duration }

// WithRestartBackoff sets the first and the largest delay between runs.
// Non-positive values keep the defaults.
func WithRestartBackoff(first, limit time.Duration) RestartOption {
	return func(b *backoff) {
		if first > 0 {
			b.min = first
		}
		if limit > 0 {
			b.max = limit
		}
	}
}

// GoRestart keeps fn running until the context ends. Every exit, clean or
// not, is followed by a doubling delay; a healthy run resets it. Failures
// are logged, never recorded as the supervisor error.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	b := backoff{min: defaultRestartMin, max: defaultRestartMax}
	for _, o := range opts {
		o(&b)
	}
	b.max = max(b.max, b.min)

	s.Go(name+".restart", func(ctx context.Context) error {
		delay := b.min
		for {
			began := s.clk.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil {
				return nil
			}
			if s.clk.Now().Sub(began) >= healthyRun {
				delay = b.min
			}
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Duration("backoff", delay),
				logx.Err(lo.Ternary(err != nil, err, errors.New("exited"))))

			t := s.clk.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			delay = min(delay*2, b.max)
		}
	})
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until all goroutines return or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitMu.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
