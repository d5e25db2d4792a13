package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Handler.
type Options struct {
	// HistoryLimit bounds the number of messages kept per room.
	HistoryLimit int
	// SendBuffer is the outbound queue length of every session.
	SendBuffer int
	// Adapter, when set, shares room events with other processes.
	Adapter Adapter
	// Node identifies this process on the adapter bus. Generated when empty.
	Node string
	// Logger receives the handler's logs; the node id is attached to every entry.
	Logger zerolog.Logger
}

// Handler services client requests against the shared registry, history and
// broadcaster. It is safe for concurrent use by any number of sessions.
type Handler struct {
	registry    *Registry
	history     *History
	broadcaster *Broadcaster
	rooms       keyedMutex
	sendBuffer  int
	logger      zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewHandler builds a Handler and the components it owns.
func NewHandler(opts Options) *Handler {
	node := opts.Node
	if node == "" {
		node = uuid.NewString()
	}
	logger := opts.Logger.With().Str("node", node).Logger()

	registry := NewRegistry(logger.With().Str("component", "registry").Logger())
	h := &Handler{
		registry:   registry,
		history:    NewHistory(opts.HistoryLimit),
		sendBuffer: opts.SendBuffer,
		logger:     logger.With().Str("component", "handler").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	h.broadcaster = NewBroadcaster(node, registry, opts.Adapter, logger.With().Str("component", "broadcaster").Logger())
	h.broadcaster.OnSlowPeer(func(s *Session) { h.Disconnect(s, "slow consumer") })
	h.logger.Debug().
		Int("history", h.history.Capacity()).
		Int("send_buffer", h.sendBuffer).
		Bool("adapter", opts.Adapter != nil).
		Msg("relay handler ready")
	return h
}

// Registry returns the room membership registry.
func (h *Handler) Registry() *Registry { return h.registry }

// HistoryStore returns the per-room message history.
func (h *Handler) HistoryStore() *History { return h.history }

// Broadcaster returns the room fan-out primitive.
func (h *Handler) Broadcaster() *Broadcaster { return h.broadcaster }

// Run drives the broadcaster's adapter traffic until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	return h.broadcaster.Run(ctx)
}

// Admit creates a session for the claimed display name and sends the client
// its identity. A blank name is refused with ErrAdmission and no session is
// created.
func (h *Handler) Admit(claimed string) (*Session, error) {
	username, err := validateUsername(claimed)
	if err != nil {
		h.logger.Warn().Err(err).Msg("connection refused")
		return nil, err
	}

	s := newSession(username, h.sendBuffer)
	h.registry.Register(s)
	if err := h.broadcaster.EmitToSession(s, EventSession, SessionInfo{ID: s.id, Username: s.username}); err != nil {
		h.registry.RemoveSession(s)
		return nil, fmt.Errorf("%w: %v", ErrInternalFault, err)
	}
	h.logger.Info().Str("session", s.id).Str("username", s.username).Msg("session admitted")
	return s, nil
}

// Join adds s to room, tells the other members and returns the member count
// seen right after the join together with the room's history.
func (h *Handler) Join(s *Session, room string) Ack {
	room, err := validateRoom(room)
	if err != nil {
		return Failure(err)
	}

	unlock := h.rooms.lock(room)
	defer unlock()

	count, added, err := h.registry.Join(s, room)
	if err != nil {
		return Failure(err)
	}
	history := h.history.Get(room)
	if added {
		h.emit(room, EventUserJoined, h.presence(s, room, count), s)
	}
	return joinAck(room, count, history)
}

// Leave removes s from room. Leaving a room twice is harmless and the second
// call emits nothing.
func (h *Handler) Leave(s *Session, room string) Ack {
	room, err := validateRoom(room)
	if err != nil {
		return Failure(err)
	}

	unlock := h.rooms.lock(room)
	defer unlock()

	count, removed := h.registry.Leave(s, room)
	if removed {
		h.emit(room, EventUserLeft, h.presence(s, room, count), s)
	}
	return leaveAck(room, count)
}

// SendMessage records a message from s in room's history and delivers it to
// every member of the room, s included.
func (h *Handler) SendMessage(s *Session, room, text string, meta json.RawMessage) Ack {
	room, err := validateRoom(room)
	if err != nil {
		return Failure(err)
	}
	if text, err = validateText(text); err != nil {
		return Failure(err)
	}
	if meta, err = validateMeta(meta); err != nil {
		return Failure(err)
	}
	if s.Closed() {
		return Failure(ErrSessionClosed)
	}

	msg := Message{
		ID:        h.newID(),
		Room:      room,
		Text:      text,
		Author:    s.username,
		Meta:      meta,
		Timestamp: h.now(),
	}

	unlock := h.rooms.lock(room)
	defer unlock()

	h.history.Append(room, msg)
	h.emit(room, EventMessage, msg, nil)
	return messageAck(msg.ID)
}

// Typing tells the other members of room that s started or stopped typing.
func (h *Handler) Typing(s *Session, room string, isTyping bool) error {
	room, err := validateRoom(room)
	if err != nil {
		return err
	}
	if s.Closed() {
		return ErrSessionClosed
	}
	h.emit(room, EventTyping, Typing{Room: room, SessionID: s.id, Username: s.username, IsTyping: isTyping}, s)
	return nil
}

// RoomHistory returns the history currently held for room.
func (h *Handler) RoomHistory(room string) Ack {
	room, err := validateRoom(room)
	if err != nil {
		return Failure(err)
	}
	return historyAck(room, h.history.Get(room))
}

// Disconnect removes s from every room it joined and notifies the remaining
// members of each. It is idempotent.
func (h *Handler) Disconnect(s *Session, reason string) {
	rooms := h.registry.RemoveSession(s)
	if rooms == nil {
		return
	}
	for _, room := range rooms {
		unlock := h.rooms.lock(room)
		h.emit(room, EventUserLeft, h.presence(s, room, h.registry.MemberCount(room)), s)
		unlock()
	}
	h.logger.Info().
		Str("session", s.id).
		Str("username", s.username).
		Str("reason", reason).
		Strs("rooms", rooms).
		Msg("session disconnected")
}

// Dispatch decodes and services one named client request. reply is false for
// requests that take no acknowledgment. Panics are recovered and reported as
// ErrInternalFault.
func (h *Handler) Dispatch(s *Session, event string, data json.RawMessage) (ack Ack, reply bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Str("session", s.id).Str("request", event).Interface("panic", r).Msg("request failed")
			ack, reply = Failure(fmt.Errorf("%w: %v", ErrInternalFault, r)), event != RequestTyping
		}
	}()

	switch event {
	case RequestJoin:
		var req roomRequest
		if err := decode(data, &req); err != nil {
			return Failure(err), true
		}
		return h.Join(s, req.Room), true

	case RequestLeave:
		var req roomRequest
		if err := decode(data, &req); err != nil {
			return Failure(err), true
		}
		return h.Leave(s, req.Room), true

	case RequestMessage:
		var req messageRequest
		if err := decode(data, &req); err != nil {
			return Failure(err), true
		}
		return h.SendMessage(s, req.Room, req.Text, req.Meta), true

	case RequestTyping:
		var req typingRequest
		if err := decode(data, &req); err != nil {
			h.logger.Debug().Err(err).Str("session", s.id).Msg("typing ignored")
			return Ack{}, false
		}
		if err := h.Typing(s, req.Room, req.IsTyping); err != nil {
			h.logger.Debug().Err(err).Str("session", s.id).Msg("typing ignored")
		}
		return Ack{}, false

	case RequestHistory:
		var req roomRequest
		if err := decode(data, &req); err != nil {
			return Failure(err), true
		}
		return h.RoomHistory(req.Room), true
	}

	return Failure(fmt.Errorf("%w: unknown request %q", ErrInvalidArgument, event)), true
}

func (h *Handler) presence(s *Session, room string, count int) Presence {
	return Presence{
		Room:        room,
		SessionID:   s.id,
		Username:    s.username,
		MemberCount: count,
		Timestamp:   h.now(),
	}
}

// emit logs encoding failures instead of failing the request: the state change
// has already been applied.
func (h *Handler) emit(room, event string, payload any, exclude *Session) {
	if err := h.broadcaster.EmitToRoom(room, event, payload, exclude); err != nil {
		h.logger.Error().Err(err).Str("room", room).Str("event", event).Msg("broadcast failed")
	}
}

type roomRequest struct {
	Room string `json:"room"`
}

type messageRequest struct {
	Room string          `json:"room"`
	Text string          `json:"text"`
	Meta json.RawMessage `json:"meta"`
}

type typingRequest struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

func decode(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidArgument)
			}
			return fmt.Errorf("%w: field %q must be a %s", ErrInvalidArgument, typeErr.Field, typeErr.Type)
		}
		return fmt.Errorf("%w: malformed payload", ErrInvalidArgument)
	}
	return nil
}
