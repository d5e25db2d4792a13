package relay

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the number of outbound frames a session may queue
// before it is treated as a slow peer.
const DefaultSendBuffer = 256

// Session is one admitted client connection. Its username never changes.
type Session struct {
	id       string
	username string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newSession(username string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		id:       uuid.NewString(),
		username: username,
		send:     make(chan []byte, buffer),
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Username returns the trimmed display name accepted at admission.
func (s *Session) Username() string { return s.username }

// Outbound returns the queue of encoded frames waiting to be written to the
// client. It is closed once the session has been disconnected.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Closed reports whether disconnect cleanup has started for the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deliver queues frame without blocking. ok reports whether the frame was
// queued; full is true only when it was refused because the queue is full.
// A closed session refuses frames with ok and full both false.
func (s *Session) deliver(frame []byte) (ok bool, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, false
	}
	select {
	case s.send <- frame:
		return true, false
	default:
		return false, true
	}
}

// close marks the session closed and closes its outbound queue. It is safe to
// call more than once.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}
