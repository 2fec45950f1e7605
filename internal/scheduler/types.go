package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNotRunning     = errors.New("scheduler not running")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Work is a unit of scheduled work. The context is cancelled when the
// scheduler stops.
type Work func(ctx context.Context) error

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Recurrence int

const (
	RecurOnce Recurrence = iota
	RecurHourly
	RecurDaily
)

func (r Recurrence) String() string {
	switch r {
	case RecurOnce:
		return "once"
	case RecurHourly:
		return "hourly"
	case RecurDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// Config is read once at construction.
type Config struct {
	// Timezone is an IANA name; empty means UTC.
	Timezone string
	// HourlyAnnouncements starts the top-of-hour announcement loop on Start.
	HourlyAnnouncements bool
}

type task struct {
	id    string
	name  string
	rec   Recurrence
	spec  string
	sched cron.Schedule // hourly/daily
	at    time.Time     // once
	work  Work

	// guarded by Scheduler.mu
	next     time.Time
	runs     uint64
	failures uint64
	lastErr  string
}

// TaskInfo describes one live task.
type TaskInfo struct {
	ID         string
	Name       string
	Recurrence Recurrence
	Spec       string
	Next       time.Time
	Runs       uint64
	Failures   uint64
	LastError  string
}

type Snapshot struct {
	State    State
	Timezone string
	Tasks    []TaskInfo
}
