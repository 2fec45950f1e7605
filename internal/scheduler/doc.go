// Package scheduler runs wall-clock aligned tasks for the bot.
//
// # Recurrence
//
//   - once: runs a single time after a relative delay
//   - hourly: runs at the top of every clock hour
//   - daily: runs every day at HH:MM
//
// Hourly and daily triggers are computed from the current wall clock in the
// configured timezone on every iteration (robfig/cron schedules provide the
// calendar math), so sleep inaccuracy never accumulates and DST shifts are
// honoured.
//
// # Lifecycle
//
// A Scheduler moves Idle → Running → Stopped and never leaves Stopped; a new
// session constructs a new Scheduler. Each task is a goroutine owned by an
// internal supervisor. Stop cancels the supervisor context and waits for
// every task to return. Tasks observe cancellation only while waiting for
// their next trigger; a running work callback is not interrupted but its
// context is cancelled.
//
// # Failures
//
// An error or panic from a work callback is logged and counted, and the
// task carries on with its next trigger (one-shot tasks simply end). It
// never affects sibling tasks or the scheduler. A callback that returns
// context.Canceled because Stop cancelled it is logged at debug level and
// not counted.
package scheduler
