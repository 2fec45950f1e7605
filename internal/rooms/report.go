package rooms

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// reportMembersMax counts characters, not bytes.
const reportMembersMax = 80

// Report renders a human-readable summary of every tracked room.
func (s *Store) Report(now time.Time) string {
	snap := s.snapshot()

	lines := []string{"📊 Conference Room Report", strings.Repeat("=", 30)}
	if len(snap) == 0 {
		lines = append(lines, "No rooms currently connected.")
		return strings.Join(lines, "\n")
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := 0
	for _, k := range keys {
		members := snap[k]
		total += len(members)
		lines = append(lines, "", "🏠 Room: "+k, fmt.Sprintf("   Users: %d", len(members)))
		if len(members) > 0 {
			lines = append(lines, "   Members: "+clipRunes(strings.Join(members, ", "), reportMembersMax))
		}
	}
	lines = append(lines,
		"",
		fmt.Sprintf("📈 Total: %d rooms, %d users", len(keys), total),
		"⏰ Generated: "+now.Format("2006-01-02 15:04:05"),
	)
	return strings.Join(lines, "\n")
}

// clipRunes shortens s to at most n characters, ending in "..." when cut.
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
