package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks admitted sessions and the rooms each one belongs to.
// A single lock covers both directions of the membership relation so that a
// join, the member count it reports, and a concurrent disconnect sweep are
// observed in one consistent order.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // sessionID -> session
	rooms    map[string]map[string]*Session // room -> sessionID -> session
	joined   map[string]map[string]struct{} // sessionID -> rooms
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// Register records s as a live session. Only registered sessions may join rooms.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.id] = s
	r.joined[s.id] = make(map[string]struct{})
}

// Join adds s to room and returns the member count including s. Joining a
// room twice has no further effect; added reports whether this call changed
// the member set.
func (r *Registry) Join(s *Session, room string) (count int, added bool, err error) {
	if room == "" {
		return 0, false, fmt.Errorf("%w: room is required", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, live := r.joined[s.id]
	if !live {
		return 0, false, ErrSessionClosed
	}

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	if _, ok := members[s.id]; !ok {
		members[s.id] = s
		rooms[room] = struct{}{}
		added = true
		r.logger.Debug().Str("room", room).Str("session", s.id).Int("members", len(members)).Msg("joined")
	}
	return len(members), added, nil
}

// Leave removes s from room and returns the remaining member count. Leaving a
// room s is not in is a no-op; removed reports whether anything changed.
func (r *Registry) Leave(s *Session, room string) (count int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed = r.removeLocked(s.id, room)
	return len(r.rooms[room]), removed
}

func (r *Registry) removeLocked(sessionID, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[sessionID]; !ok {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, room)
	}
	r.logger.Debug().Str("room", room).Str("session", sessionID).Int("members", len(members)).Msg("left")
	return true
}

// RemoveSession closes s and removes it from every room it belongs to,
// returning those rooms in sorted order. Once it starts, no join by s can
// succeed. A second call returns nil.
func (r *Registry) RemoveSession(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.close()

	rooms, ok := r.joined[s.id]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	sort.Strings(left)
	for _, room := range left {
		r.removeLocked(s.id, room)
	}
	delete(r.joined, s.id)
	delete(r.sessions, s.id)
	return left
}

// MemberCount returns the number of sessions in room.
func (r *Registry) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// MembersOf returns the rooms s currently belongs to, sorted.
func (r *Registry) MembersOf(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.joined[s.id]))
	for room := range r.joined[s.id] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Members returns a snapshot of the sessions in room.
func (r *Registry) Members(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		members = append(members, s)
	}
	return members
}

// Rooms returns the member count of every room with at least one member.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		counts[room] = len(members)
	}
	return counts
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
