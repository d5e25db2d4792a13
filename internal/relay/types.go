package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Client requests understood by Handler.Dispatch.
const (
	RequestJoin    = "join"
	RequestLeave   = "leave"
	RequestMessage = "message"
	RequestTyping  = "typing"
	RequestHistory = "history"
)

// Events pushed to sessions.
const (
	EventSession    = "session"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventAck        = "ack"
	EventError      = "error"
)

// Input limits.
const (
	MaxUsernameLength = 64
	MaxRoomNameLength = 128
	MaxTextLength     = 4000
)

// DefaultHistoryLimit is the per-room history capacity used when none is configured.
const DefaultHistoryLimit = 100

// Message is one chat message. It is never modified after creation.
type Message struct {
	ID        string          `json:"id"`
	Room      string          `json:"room"`
	Text      string          `json:"text"`
	Author    string          `json:"author"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// clone returns a copy that shares no memory with m.
func (m Message) clone() Message {
	if m.Meta != nil {
		m.Meta = bytes.Clone(m.Meta)
	}
	return m
}

// SessionInfo is sent to a client once its connection is admitted.
type SessionInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Presence is the payload of user_joined and user_left events.
type Presence struct {
	Room        string    `json:"room"`
	SessionID   string    `json:"sessionId"`
	Username    string    `json:"username"`
	MemberCount int       `json:"memberCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// Typing is the payload of typing events.
type Typing struct {
	Room      string `json:"room"`
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
}

// Ack is the result of a single client request.
type Ack struct {
	OK          bool
	Error       string
	ID          string
	Room        string
	MemberCount int
	History     []Message

	hasCount   bool
	hasHistory bool
}

// MarshalJSON emits only the fields that belong to the request the ack answers.
func (a Ack) MarshalJSON() ([]byte, error) {
	type wire struct {
		OK          bool       `json:"ok"`
		Error       string     `json:"error,omitempty"`
		ID          string     `json:"id,omitempty"`
		Room        string     `json:"room,omitempty"`
		MemberCount *int       `json:"memberCount,omitempty"`
		History     *[]Message `json:"history,omitempty"`
	}
	w := wire{OK: a.OK, Error: a.Error, ID: a.ID, Room: a.Room}
	if a.hasCount {
		count := a.MemberCount
		w.MemberCount = &count
	}
	if a.hasHistory {
		history := a.History
		if history == nil {
			history = []Message{}
		}
		w.History = &history
	}
	return json.Marshal(w)
}

func joinAck(room string, count int, history []Message) Ack {
	return Ack{OK: true, Room: room, MemberCount: count, History: history, hasCount: true, hasHistory: true}
}

func leaveAck(room string, count int) Ack {
	return Ack{OK: true, Room: room, MemberCount: count, hasCount: true}
}

func messageAck(id string) Ack {
	return Ack{OK: true, ID: id}
}

func historyAck(room string, history []Message) Ack {
	return Ack{OK: true, Room: room, History: history, hasHistory: true}
}

// Failure builds a negative acknowledgment carrying err's message.
func Failure(err error) Ack {
	return Ack{OK: false, Error: err.Error()}
}

// Frame is the envelope of every event exchanged with a client.
type Frame struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals data and wraps it in a Frame for event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// EncodeAck wraps ack in an ack frame correlated with the client's request id.
func EncodeAck(id uint64, ack Ack) ([]byte, error) {
	raw, err := json.Marshal(ack)
	if err != nil {
		return nil, fmt.Errorf("encode ack: %w", err)
	}
	return json.Marshal(Frame{Event: EventAck, Ack: &id, Data: raw})
}

func validateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: username is required", ErrAdmission)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: username is not valid UTF-8", ErrAdmission)
	case len(name) > MaxUsernameLength:
		return "", fmt.Errorf("%w: username exceeds %d bytes", ErrAdmission, MaxUsernameLength)
	}
	return name, nil
}

func validateRoom(room string) (string, error) {
	room = strings.TrimSpace(room)
	switch {
	case room == "":
		return "", fmt.Errorf("%w: room is required", ErrInvalidArgument)
	case !utf8.ValidString(room):
		return "", fmt.Errorf("%w: room is not valid UTF-8", ErrInvalidArgument)
	case len(room) > MaxRoomNameLength:
		return "", fmt.Errorf("%w: room exceeds %d bytes", ErrInvalidArgument, MaxRoomNameLength)
	}
	return room, nil
}

func validateText(text string) (string, error) {
	switch {
	case strings.TrimSpace(text) == "":
		return "", fmt.Errorf("%w: text is required", ErrInvalidArgument)
	case !utf8.ValidString(text):
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidArgument)
	case len(text) > MaxTextLength:
		return "", fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidArgument, MaxTextLength)
	}
	return text, nil
}

// validateMeta accepts an absent or null meta and any JSON object.
func validateMeta(meta json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(meta)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: meta must be a JSON object", ErrInvalidArgument)
	}
	return bytes.Clone(trimmed), nil
}
