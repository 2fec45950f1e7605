// Package rooms tracks which occupants are present in which MUC rooms.
//
// Store is the only owner of membership state. Callers never see the
// underlying maps; every query returns a copy taken under the lock, so a
// reader can never observe a half-applied join or leave.
package rooms

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type room struct {
	occupants map[string]struct{}
	settings  map[string]any
}

func newRoom() *room {
	return &room{occupants: map[string]struct{}{}, settings: map[string]any{}}
}

type Store struct {
	mu    sync.RWMutex
	self  string
	rooms map[string]*room
}

// New returns an empty store that never records selfNick as an occupant.
func New(selfNick string) *Store {
	return &Store{self: selfNick, rooms: map[string]*room{}}
}

// SetSelfNick changes the nickname filtered out by Join.
func (s *Store) SetSelfNick(nick string) {
	s.mu.Lock()
	s.self = nick
	s.mu.Unlock()
}

func (s *Store) SelfNick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Join adds nick to room, creating the room entry if needed, and reports
// whether nick was not present before. The bot's own nick is never added.
func (s *Store) Join(roomKey, nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nick == "" || nick == s.self {
		return false
	}
	r, ok := s.rooms[roomKey]
	if !ok {
		r = newRoom()
		s.rooms[roomKey] = r
	}
	if _, present := r.occupants[nick]; present {
		return false
	}
	r.occupants[nick] = struct{}{}
	return true
}

// Leave removes nick from room. Unknown rooms and nicks are ignored.
func (s *Store) Leave(roomKey, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomKey]; ok {
		delete(r.occupants, nick)
	}
}

// Track creates an empty room entry if none exists. Existing occupants and
// settings are kept.
func (s *Store) Track(roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomKey]; !ok {
		s.rooms[roomKey] = newRoom()
	}
}

// ForgetRoom drops the room together with its occupants and settings.
func (s *Store) ForgetRoom(roomKey string) {
	s.mu.Lock()
	delete(s.rooms, roomKey)
	s.mu.Unlock()
}

// Reset forgets every room. Used when a session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.rooms = map[string]*room{}
	s.mu.Unlock()
}

func (s *Store) Tracked(roomKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomKey]
	return ok
}

// Occupants returns the sorted occupants of room; empty for an untracked room.
func (s *Store) Occupants(roomKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		return []string{}
	}
	return sortedKeys(r.occupants)
}

func (s *Store) Contains(roomKey, nick string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		return false
	}
	_, present := r.occupants[nick]
	return present
}

// Rooms returns the tracked room keys, sorted.
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.rooms)
}

func (s *Store) TotalOccupantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.SumBy(lo.Values(s.rooms), func(r *room) int { return len(r.occupants) })
}

// RoomsOf returns the sorted rooms in which nick is present.
func (s *Store) RoomsOf(nick string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(lo.Keys(s.rooms), func(k string, _ int) bool {
		_, ok := s.rooms[k].occupants[nick]
		return ok
	})
	sort.Strings(out)
	return out
}

// Configure merges settings into the room's settings, creating the room
// entry if needed.
func (s *Store) Configure(roomKey string, settings map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		r = newRoom()
		s.rooms[roomKey] = r
	}
	for k, v := range settings {
		r.settings[strings.TrimSpace(k)] = v
	}
}

// Setting returns a room setting or def when the room or key is unknown.
func (s *Store) Setting(roomKey, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		return def
	}
	v, ok := r.settings[key]
	if !ok {
		return def
	}
	return v
}

// BoolSetting is Setting for boolean flags; non-bool values yield def.
func (s *Store) BoolSetting(roomKey, key string, def bool) bool {
	v, ok := s.Setting(roomKey, key, def).(bool)
	if !ok {
		return def
	}
	return v
}

// Info is a point-in-time copy of one room.
type Info struct {
	Room      string
	Occupants []string
	Settings  map[string]any
	SelfNick  string
}

func (s *Store) Info(roomKey string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		return Info{}, false
	}
	settings := make(map[string]any, len(r.settings))
	for k, v := range r.settings {
		settings[k] = v
	}
	return Info{
		Room:      roomKey,
		Occupants: sortedKeys(r.occupants),
		Settings:  settings,
		SelfNick:  s.self,
	}, true
}

// snapshot copies every room's occupants under one lock acquisition.
func (s *Store) snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.rooms))
	for k, r := range s.rooms {
		out[k] = sortedKeys(r.occupants)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := lo.Keys(m)
	sort.Strings(out)
	return out
}
