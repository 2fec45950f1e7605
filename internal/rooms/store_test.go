package rooms

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestJoinReportsNetNewOnly(t *testing.T) {
	s := New("bot")

	require.True(t, s.Join("room1", "alice"))
	require.False(t, s.Join("room1", "alice"))
	require.True(t, s.Join("room2", "alice"))
	require.Equal(t, []string{"alice"}, s.Occupants("room1"))
}

func TestJoinFiltersSelfNick(t *testing.T) {
	s := New("bot")

	require.False(t, s.Join("room1", "bot"))
	require.False(t, s.Tracked("room1"))
	require.Empty(t, s.Occupants("room1"))

	s.SetSelfNick("helper")
	require.True(t, s.Join("room1", "bot"))
	require.False(t, s.Join("room1", "helper"))
}

func TestLeaveIsNoopForUnknown(t *testing.T) {
	s := New("bot")
	s.Leave("nowhere", "ghost")

	s.Join("room1", "alice")
	s.Leave("room1", "bob")
	require.Equal(t, []string{"alice"}, s.Occupants("room1"))

	s.Leave("room1", "alice")
	require.Empty(t, s.Occupants("room1"))
	require.True(t, s.Tracked("room1"), "room with zero occupants stays tracked")
	require.Equal(t, []string{"room1"}, s.Rooms())
}

func TestForgetRoomLooksUntracked(t *testing.T) {
	s := New("bot")
	s.Join("room1", "alice")
	s.Join("room2", "bob")
	s.Configure("room1", map[string]any{"greet": false})

	s.ForgetRoom("room1")

	require.Equal(t, s.Occupants("never-seen"), s.Occupants("room1"))
	require.Equal(t, []string{"room2"}, s.Rooms())
	require.True(t, s.BoolSetting("room1", "greet", true), "settings are discarded with the room")
	_, ok := s.Info("room1")
	require.False(t, ok)
}

func TestTrackKeepsExistingState(t *testing.T) {
	s := New("bot")
	s.Track("room1")
	require.True(t, s.Tracked("room1"))
	require.Empty(t, s.Occupants("room1"))

	s.Join("room1", "alice")
	s.Track("room1")
	require.Equal(t, []string{"alice"}, s.Occupants("room1"))
}

func TestCountsAndLookups(t *testing.T) {
	s := New("bot")
	s.Join("b@conf", "carol")
	s.Join("a@conf", "alice")
	s.Join("a@conf", "bob")
	s.Join("b@conf", "alice")

	require.Equal(t, []string{"a@conf", "b@conf"}, s.Rooms())
	require.Equal(t, 4, s.TotalOccupantCount())
	require.Equal(t, []string{"a@conf", "b@conf"}, s.RoomsOf("alice"))
	require.Equal(t, []string{"b@conf"}, s.RoomsOf("carol"))
	require.Empty(t, s.RoomsOf("dave"))
	require.True(t, s.Contains("a@conf", "bob"))
	require.False(t, s.Contains("b@conf", "bob"))

	s.Reset()
	require.Empty(t, s.Rooms())
	require.Zero(t, s.TotalOccupantCount())
}

func TestSettings(t *testing.T) {
	s := New("bot")
	require.Equal(t, "dflt", s.Setting("room1", "motd", "dflt"))

	s.Configure("room1", map[string]any{"greet": false, "motd": "hi"})
	s.Configure("room1", map[string]any{"motd": "hello"})

	require.False(t, s.BoolSetting("room1", "greet", true))
	require.True(t, s.BoolSetting("room1", "motd", true), "non-bool falls back to default")
	require.Equal(t, "hello", s.Setting("room1", "motd", nil))

	info, ok := s.Info("room1")
	require.True(t, ok)
	info.Settings["greet"] = true
	require.False(t, s.BoolSetting("room1", "greet", true), "Info returns a copy")
}

// Replaying a random sequence of joins and leaves must match a plain set
// model with duplicate joins suppressed and the self nick filtered.
func TestOccupantsMatchReplayModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	nicks := []string{"alice", "bob", "carol", "bot"}

	for round := 0; round < 50; round++ {
		s := New("bot")
		model := map[string]bool{}
		for i := 0; i < 40; i++ {
			nick := nicks[rng.Intn(len(nicks))]
			if rng.Intn(3) == 0 {
				s.Leave("r", nick)
				delete(model, nick)
				continue
			}
			isNew := s.Join("r", nick)
			wantNew := nick != "bot" && !model[nick]
			require.Equal(t, wantNew, isNew, "round %d step %d join %s", round, i, nick)
			if nick != "bot" {
				model[nick] = true
			}
		}
		want := make([]string, 0, len(model))
		for n := range model {
			want = append(want, n)
		}
		sort.Strings(want)
		require.Equal(t, want, s.Occupants("r"))
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	s := New("bot")
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				nick := fmt.Sprintf("u%d-%d", w, i)
				s.Join("room", nick)
				_ = s.Occupants("room")
				_ = s.TotalOccupantCount()
				if i%2 == 0 {
					s.Leave("room", nick)
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 8*100, s.TotalOccupantCount())
}

func TestReport(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	empty := New("bot").Report(now)
	require.Contains(t, empty, "No rooms currently connected.")

	s := New("bot")
	s.Join("team@conf", "bob")
	s.Join("team@conf", "alice")
	s.Track("quiet@conf")
	for i := 0; i < 20; i++ {
		s.Join("big@conf", fmt.Sprintf("participant%02d", i))
	}

	out := s.Report(now)
	require.Contains(t, out, "🏠 Room: team@conf\n   Users: 2\n   Members: alice, bob")
	require.Contains(t, out, "🏠 Room: quiet@conf\n   Users: 0")
	require.Contains(t, out, "📈 Total: 3 rooms, 22 users")
	require.Contains(t, out, "⏰ Generated: 2026-03-04 05:06:07")

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "   Members: participant") {
			require.True(t, strings.HasSuffix(line, "..."))
			require.Len(t, strings.TrimPrefix(line, "   Members: "), reportMembersMax)
		}
	}
}

func TestReportClipsOnCharacters(t *testing.T) {
	s := New("bot")
	for _, nick := range []string{"Алексей", "Борис", "Виктория", "Григорий", "Дмитрий", "Екатерина", "Жанна", "Зоя", "Игорь", "Константин", "Людмила"} {
		s.Join("ru@conf", nick)
	}
	s.Join("short@conf", "Фёдор")

	out := s.Report(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	require.True(t, utf8.ValidString(out))
	require.Contains(t, out, "   Members: Фёдор\n")

	var clipped string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "   Members: Алексей") {
			clipped = strings.TrimPrefix(line, "   Members: ")
		}
	}
	require.True(t, strings.HasSuffix(clipped, "..."))
	require.Equal(t, reportMembersMax, utf8.RuneCountInString(clipped))
}
