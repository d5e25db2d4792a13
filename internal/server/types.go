// Package server defines the inbound frame format and utility helpers that
// are reused across client and hub logic.
package server

import (
	"encoding/json"
	"errors"
	"strings"
)

// inboundFrame is a client request. Ack, when present, asks for an ack frame
// carrying the same number.
type inboundFrame struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errRateLimited = errors.New("rate limit exceeded")

// errorPayload is the body of an error event.
type errorPayload struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
