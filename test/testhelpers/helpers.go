// Package testhelpers provides common utilities for exercising a running
// RoomRelay server in integration tests.
//
// It provides functions for starting a server on an httptest listener, dialing
// WebSocket sessions and exchanging relay frames so test files stay focused on
// behavior.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

// TestOrigin is the browser origin test clients present by default.
const TestOrigin = "http://localhost:8080"

// readTimeout bounds every wait for a frame.
const readTimeout = 3 * time.Second

// TestServer bundles a started relay server with its httptest listener.
type TestServer struct {
	HTTP    *httptest.Server
	Server  *server.Server
	Handler *relay.Handler
}

// StartServer starts a relay server listening on a random local port. The
// optional mutate function adjusts the configuration before the server is
// built. The server is shut down when the test ends.
func StartServer(t *testing.T, opts relay.Options, mutate func(cfg *server.Config)) *TestServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	if mutate != nil {
		mutate(cfg)
	}

	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = cfg.HistoryLimit
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = cfg.SendBuffer
	}
	opts.Logger = zerolog.Nop()

	handler := relay.NewHandler(opts)
	srv := server.New(*cfg, handler, zerolog.Nop())
	srv.Start()

	httpServer := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		httpServer.Close()
	})

	return &TestServer{HTTP: httpServer, Server: srv, Handler: handler}
}

// WebSocketURL converts the listener URL into the ws:// endpoint for username.
func (ts *TestServer) WebSocketURL(username string) string {
	u := "ws" + strings.TrimPrefix(ts.HTTP.URL, "http") + "/ws"
	if username != "" {
		u += "?username=" + url.QueryEscape(username)
	}
	return u
}

// Dial opens a WebSocket session with the given origin. The response is
// returned for handshake failures so callers can inspect the status code.
func Dial(rawURL, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(rawURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect dials the server as username and consumes the session event. The
// connection is closed when the test ends.
func (ts *TestServer) Connect(t *testing.T, username string) (*websocket.Conn, relay.SessionInfo) {
	t.Helper()

	conn, _, err := Dial(ts.WebSocketURL(username), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect as %q: %v", username, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	frame := ReadFrame(t, conn)
	if frame.Event != relay.EventSession {
		t.Fatalf("Expected %q event first, got %q", relay.EventSession, frame.Event)
	}
	return conn, DecodeData[relay.SessionInfo](t, frame)
}

// Frame is a decoded server frame.
type Frame struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// AckPayload mirrors the ack body for decoding in tests.
type AckPayload struct {
	OK          bool            `json:"ok"`
	Error       string          `json:"error,omitempty"`
	ID          string          `json:"id,omitempty"`
	Room        string          `json:"room,omitempty"`
	MemberCount *int            `json:"memberCount,omitempty"`
	History     []relay.Message `json:"history,omitempty"`
}

// SendFrame writes a request frame. A zero ack sends a fire-and-forget frame.
func SendFrame(t *testing.T, conn *websocket.Conn, event string, ack uint64, data any) {
	t.Helper()

	frame := map[string]any{"event": event, "data": data}
	if ack != 0 {
		frame["ack"] = ack
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send %q frame: %v", event, err)
	}
}

// ReadFrame reads the next frame or fails the test after a timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// ReadUntil reads frames until one with the given event arrives and returns it.
func ReadUntil(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()

	for {
		frame := ReadFrame(t, conn)
		if frame.Event == event {
			return frame
		}
	}
}

// Request sends a frame with an ack id and returns the matching ack. Events
// that arrive first are skipped.
func Request(t *testing.T, conn *websocket.Conn, event string, ack uint64, data any) AckPayload {
	t.Helper()

	SendFrame(t, conn, event, ack, data)
	for {
		frame := ReadUntil(t, conn, relay.EventAck)
		if frame.Ack != nil && *frame.Ack == ack {
			return DecodeData[AckPayload](t, frame)
		}
	}
}

// ExpectNoFrame asserts that nothing arrives within wait.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no frame, got %s", raw)
	}
}

// DecodeData unmarshals the data field of frame into T.
func DecodeData[T any](t *testing.T, frame Frame) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(frame.Data, &v); err != nil {
		t.Fatalf("Failed to decode %q data %s: %v", frame.Event, frame.Data, err)
	}
	return v
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
