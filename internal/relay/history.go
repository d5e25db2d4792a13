package relay

import "sync"

// History keeps the most recent messages of every room in a fixed-capacity
// ring. A room's ring is created on its first append and is never deleted.
type History struct {
	capacity int

	mu    sync.RWMutex
	rooms map[string]*ring
}

// NewHistory returns a store holding at most capacity messages per room.
// A non-positive capacity falls back to DefaultHistoryLimit.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &History{
		capacity: capacity,
		rooms:    make(map[string]*ring),
	}
}

// Capacity returns the per-room bound.
func (h *History) Capacity() int { return h.capacity }

// Append records msg as the newest entry of room, evicting the oldest entry
// once the room is full.
func (h *History) Append(room string, msg Message) {
	h.ringFor(room).push(msg.clone())
}

// Get returns a copy of room's messages, oldest first.
func (h *History) Get(room string) []Message {
	h.mu.RLock()
	r, ok := h.rooms[room]
	h.mu.RUnlock()
	if !ok {
		return []Message{}
	}
	return r.snapshot()
}

// Rooms returns the history size of every room that has received a message.
func (h *History) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sizes := make(map[string]int, len(h.rooms))
	for room, r := range h.rooms {
		sizes[room] = r.len()
	}
	return sizes
}

func (h *History) ringFor(room string) *ring {
	h.mu.RLock()
	r, ok := h.rooms[room]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.rooms[room]; !ok {
		r = &ring{capacity: h.capacity}
		h.rooms[room] = r
	}
	return r
}

type ring struct {
	mu       sync.Mutex
	capacity int
	buf      []Message
	start    int
}

func (r *ring) push(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, msg)
		return
	}
	r.buf[r.start] = msg
	r.start = (r.start + 1) % r.capacity
}

func (r *ring) snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, 0, len(r.buf))
	for _, msg := range r.buf[r.start:] {
		out = append(out, msg.clone())
	}
	for _, msg := range r.buf[:r.start] {
		out = append(out, msg.clone())
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
