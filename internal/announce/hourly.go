package announce

import (
	"context"
	"time"
)

// Hourly renders the top-of-hour announcement for now, e.g.
// "🕐 15:00 on Thursday - Good afternoon! ☀️".
func Hourly(now time.Time) string {
	return "🕐 " + now.Format("15:04") + " on " + now.Weekday().String() + " - " + greetingFor(now.Hour())
}

func greetingFor(hour int) string {
	switch {
	case hour == 0:
		return "Midnight! 🌙"
	case hour == 12:
		return "Noon! ☀️"
	case hour == 18:
		return "Evening! 🌅"
	case hour >= 6 && hour < 12:
		return "Good morning! 🌄"
	case hour >= 12 && hour < 18:
		return "Good afternoon! ☀️"
	case hour >= 18 && hour < 22:
		return "Good evening! 🌆"
	default:
		return "Good night! 🌃"
	}
}

// HourlyWork adapts the broadcaster into a scheduler work callback. now and
// loc are read at fire time, so the text reflects the boundary just reached.
func (b *Broadcaster) HourlyWork(now func() time.Time, loc *time.Location) func(ctx context.Context) error {
	if loc == nil {
		loc = time.UTC
	}
	return func(ctx context.Context) error {
		res := b.Broadcast(ctx, "hourly", Hourly(now().In(loc)))
		return res.Err()
	}
}

// Message returns a work callback that sends a fixed text to rooms, or to
// every tracked room when rooms is empty.
func (b *Broadcaster) Message(name, text string, rooms []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if len(rooms) == 0 {
			return b.Broadcast(ctx, name, text).Err()
		}
		return b.SendTo(ctx, name, text, rooms).Err()
	}
}
