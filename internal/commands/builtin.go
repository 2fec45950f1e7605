package commands

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "help", Description: "Show this help message", Handle: r.cmdHelp},
		{Name: "ping", Description: "Check if bot is responsive", Handle: r.cmdPing},
		{Name: "time", Description: "Show current time", Handle: r.cmdTime},
		{Name: "status", Description: "Show bot status", Handle: r.cmdStatus},
		{Name: "rooms", Description: "List connected rooms (group chat only)", GroupOnly: true, Handle: r.cmdRooms},
		{Name: "users", Usage: "<room>", Description: "List users in a room (group chat only)", GroupOnly: true, Handle: r.cmdUsers},
		{Name: "whereis", Usage: "<nick>", Description: "List rooms where a user is present", Handle: r.cmdWhereis},
		{Name: "report", Description: "Show the room report", Handle: r.cmdReport},
		{Name: "next", Description: "Show the next hourly announcement", Handle: r.cmdNext},
		{Name: "history", Usage: "[n]", Description: "Show recent bot activity", Handle: r.cmdHistory},
		{Name: "about", Description: "Show bot information", Handle: r.cmdAbout},
	}
}

func (r *Router) cmdHelp(context.Context, *Request) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range r.Commands() {
		b.WriteString("\n" + Prefix + c.Name)
		if c.Usage != "" {
			b.WriteString(" " + c.Usage)
		}
		b.WriteString(" - " + c.Description)
	}
	return b.String(), nil
}

func (r *Router) cmdPing(context.Context, *Request) (string, error) {
	return "Pong! 🏓", nil
}

func (r *Router) cmdTime(_ context.Context, req *Request) (string, error) {
	now := req.Now.In(r.id.Location)
	return "Current time: " + now.Format("Monday, January 02, 2006 at 15:04:05 MST"), nil
}

func (r *Router) cmdStatus(_ context.Context, req *Request) (string, error) {
	lines := []string{
		"Bot Status:",
		"• Connected: ✅ Yes",
		"• Nickname: " + r.id.Nick,
		fmt.Sprintf("• Joined rooms: %d", len(r.members.Rooms())),
		fmt.Sprintf("• Total tracked users: %d", r.members.TotalOccupantCount()),
		"• Timezone: " + r.id.Location.String(),
		"• Started: " + humanize.RelTime(r.id.StartedAt, req.Now, "ago", "from now"),
		"• Go version: " + runtime.Version(),
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) cmdRooms(context.Context, *Request) (string, error) {
	rooms := r.members.Rooms()
	if len(rooms) == 0 {
		return "No rooms currently connected.", nil
	}
	return "Connected rooms:\n" + bullets(rooms), nil
}

func (r *Router) cmdUsers(_ context.Context, req *Request) (string, error) {
	room := req.Invocation.Room
	if len(req.Args) > 0 {
		room = req.Args[0]
	}
	users := r.members.Occupants(room)
	if len(users) == 0 {
		return "No users found in room: " + room, nil
	}
	return "Users in " + room + ":\n" + bullets(users), nil
}

func (r *Router) cmdWhereis(_ context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 {
		return "Usage: " + Prefix + "whereis <nick>", nil
	}
	nick := req.Args[0]
	rooms := r.members.RoomsOf(nick)
	if len(rooms) == 0 {
		return nick + " is not in any room I know of.", nil
	}
	return nick + " is in:\n" + bullets(rooms), nil
}

func (r *Router) cmdReport(_ context.Context, req *Request) (string, error) {
	return r.members.Report(req.Now.In(r.id.Location)), nil
}

func (r *Router) cmdNext(_ context.Context, req *Request) (string, error) {
	if r.sched == nil {
		return "No hourly announcement is scheduled.", nil
	}
	next, ok := r.sched.NextHourly()
	if !ok {
		return "No hourly announcement is scheduled.", nil
	}
	next = next.In(r.id.Location)
	return fmt.Sprintf("Next hourly announcement: %s (%s)", next.Format("15:04 MST"), humanize.RelTime(next, req.Now, "ago", "from now")), nil
}

const (
	historyDefault = 10
	historyMax     = 50
)

func (r *Router) cmdHistory(ctx context.Context, req *Request) (string, error) {
	if r.audit == nil {
		return "Activity history is disabled.", nil
	}
	n := historyDefault
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return "Usage: " + Prefix + "history [n]", nil
		}
		n = min(v, historyMax)
	}
	entries, err := r.audit.Recent(ctx, n)
	if err != nil {
		return "", fmt.Errorf("recent audit entries: %w", err)
	}
	if len(entries) == 0 {
		return "No recorded activity yet.", nil
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "Recent activity:")
	for _, e := range entries {
		line := "• " + e.At.In(r.id.Location).Format("Jan 02 15:04") + " " + e.Kind
		if e.Room != "" {
			line += " " + e.Room
		}
		if e.Actor != "" && e.Actor != e.Room {
			line += " " + e.Actor
		}
		if e.Detail != "" {
			line += ": " + e.Detail
		}
		if e.Error != "" {
			line += " (error: " + e.Error + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) cmdAbout(context.Context, *Request) (string, error) {
	lines := []string{
		"🤖 Bot Information:",
		"• Name: " + r.id.Nick,
		"• Version: " + r.id.Version,
		"• Platform: " + runtime.GOOS + "/" + runtime.GOARCH,
		"• Go: " + runtime.Version(),
		"• Features: Conference greetings, hourly announcements, command handling",
	}
	return strings.Join(lines, "\n"), nil
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "• " + it
	}
	return strings.Join(lines, "\n")
}
