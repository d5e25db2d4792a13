// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, room listings and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// usernameHeader is consulted when the username query parameter is absent.
const usernameHeader = "X-Username"

const healthCheckTimeout = 2 * time.Second

// RoomSummary describes one room in the REST listing.
type RoomSummary struct {
	Room        string `json:"room"`
	MemberCount int    `json:"memberCount"`
	HistorySize int    `json:"historySize"`
}

// WebSocketHandler admits a client and upgrades the connection. The claimed
// display name comes from the username query parameter or the X-Username
// header; a blank name is refused before the upgrade and no session is created.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !s.origins.allows(r) {
		s.logger.Warn().Str("origin", r.Header.Get("Origin")).Str("addr", r.RemoteAddr).Msg("blocked WebSocket connection from disallowed origin")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	session, err := s.relay.Admit(claimedUsername(r))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrAdmission) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		s.relay.Disconnect(session, "upgrade failed")
		return
	}

	client := NewClient(conn, session, s.relay, s.hub, r.RemoteAddr, s.cfg, s.logger)
	if !s.hub.Register(client) {
		s.relay.Disconnect(session, "server shutting down")
		_ = conn.Close()
	}
}

func claimedUsername(r *http.Request) string {
	if name := r.URL.Query().Get("username"); strings.TrimSpace(name) != "" {
		return name
	}
	return r.Header.Get(usernameHeader)
}

// BannerHandler responds with a plain text message indicating the server is running.
func BannerHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomRelay server is running!")
}

// HealthHandler reports liveness together with basic occupancy figures and
// the result of every registered health check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"node":     s.relay.Broadcaster().Node(),
		"sessions": s.relay.Registry().SessionCount(),
		"clients":  s.hub.ClientCount(),
		"rooms":    len(s.relay.Registry().Rooms()),
	}

	status := http.StatusOK
	if checks := s.healthChecks(); len(checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				s.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
				body[name] = "error"
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "ok"
		}
	}

	s.writeJSON(w, status, body)
}

// RoomsHandler lists every room that currently has members or history.
func (s *Server) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	members := s.relay.Registry().Rooms()
	sizes := s.relay.HistoryStore().Rooms()

	names := make(map[string]struct{}, len(members)+len(sizes))
	for room := range members {
		names[room] = struct{}{}
	}
	for room := range sizes {
		names[room] = struct{}{}
	}

	rooms := make([]RoomSummary, 0, len(names))
	for room := range names {
		rooms = append(rooms, RoomSummary{Room: room, MemberCount: members[room], HistorySize: sizes[room]})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Room < rooms[j].Room })

	s.writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// RoomHistoryHandler returns the retained history of one room.
func (s *Server) RoomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	room, err := url.PathUnescape(chi.URLParam(r, "room"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room"})
		return
	}

	ack := s.relay.RoomHistory(room)
	if !ack.OK {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": ack.Error})
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("writing JSON response")
	}
}

// TestPageHandler serves an HTML page for trying out rooms by hand. It
// connects to /ws on the same host, joins rooms and exchanges messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>RoomRelay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #typing { color: gray; font-style: italic; height: 1em; }
    </style>
</head>
<body>
    <h1>RoomRelay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="Username">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="room" placeholder="Room" value="lobby">
        <button onclick="request('join', {room: room()})">Join</button>
        <button onclick="request('leave', {room: room()})">Leave</button>
        <button onclick="request('history', {room: room()})">History</button>
    </div>

    <div id="log"></div>
    <div id="typing"></div>

    <div>
        <input type="text" id="text" placeholder="Type a message..." style="width: 300px">
        <button onclick="sendMessage()">Send</button>
    </div>

    <script>
        let ws = null;
        let nextAck = 1;
        let typingTimer = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const textInput = document.getElementById('text');

        function room() { return document.getElementById('room').value.trim(); }

        function log(line, color) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = color || 'gray';
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(text, connected) {
            statusDiv.textContent = text;
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(event, data, ack) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            const frame = {event: event, data: data};
            if (ack) frame.ack = nextAck++;
            ws.send(JSON.stringify(frame));
        }

        function request(event, data) { send(event, data, true); }

        function connect() {
            const name = encodeURIComponent(document.getElementById('username').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?username=' + name);

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                const data = frame.data || {};
                switch (frame.event) {
                case 'session':
                    updateStatus('Connected as ' + data.username, true);
                    break;
                case 'message':
                    log('[' + data.room + '] ' + data.author + ': ' + data.text, 'black');
                    break;
                case 'user_joined':
                    log(data.username + ' joined ' + data.room + ' (' + data.memberCount + ' online)');
                    break;
                case 'user_left':
                    log(data.username + ' left ' + data.room + ' (' + data.memberCount + ' online)');
                    break;
                case 'typing':
                    document.getElementById('typing').textContent = data.isTyping ? data.username + ' is typing...' : '';
                    break;
                case 'ack':
                    if (!data.ok) { log('error: ' + data.error, 'red'); break; }
                    if (data.history) data.history.forEach(m => log('[' + m.room + '] ' + m.author + ': ' + m.text, 'blue'));
                    if (data.memberCount !== undefined) log('room ' + data.room + ': ' + data.memberCount + ' member(s)');
                    break;
                case 'error':
                    log('error: ' + data.error, 'red');
                    break;
                }
            };

            ws.onclose = function() {
                log('Connection closed');
                updateStatus('Disconnected', false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws) { ws.close(); } else { connect(); }
        }

        function sendMessage() {
            const text = textInput.value.trim();
            if (!text) return;
            request('message', {room: room(), text: text});
            send('typing', {room: room(), isTyping: false});
            textInput.value = '';
        }

        textInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); return; }
            send('typing', {room: room(), isTyping: true});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send('typing', {room: room(), isTyping: false}), 2000);
        });
    </script>
</body>
</html>`
