// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each relay session.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Client couples one WebSocket connection with the relay session admitted
// for it. The read pump feeds client requests to the relay handler; the write
// pump drains the session's outbound frames.
type Client struct {
	conn    *websocket.Conn
	session *relay.Session
	relay   *relay.Handler
	hub     *Hub
	addr    string

	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger
}

// NewClient creates a Client for an upgraded connection and its admitted session.
func NewClient(conn *websocket.Conn, session *relay.Session, handler *relay.Handler, hub *Hub, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		session:        session,
		relay:          handler,
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   cfg.PingInterval,
		pongTimeout:    cfg.PongTimeout,
		rateLimiter:    newRateLimiter(cfg.RateLimit, time.Now),
		rateLimit:      cfg.RateLimit,
		logger: logger.With().
			Str("addr", addr).
			Str("session", session.ID()).
			Str("username", session.Username()).
			Logger(),
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
			c.logger.Warn().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read failure and returns the disconnect reason.
func (c *Client) handleReadError(err error) string {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
		return "message too big"
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway) {
		c.logger.Debug().Err(err).Msg("client closed connection")
		return "client closed"
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("connection closed")
		return "connection closed"
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway) {
		c.logger.Info().Err(err).Msg("unexpected WebSocket close")
		return "connection lost"
	}

	c.logger.Info().Err(err).Msg("WebSocket read error")
	return "read error"
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Uint64("rejected", c.rateLimiter.rejectedCount()).
			Msg("rate limit exceeded; discarding frame")
		return false
	}
	return true
}

// processFrame decodes one client frame, services it and queues the ack.
func (c *Client) processFrame(raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		c.logger.Debug().Err(err).Msg("invalid frame")
		c.sendError("malformed frame")
		return
	}

	if !c.checkRateLimit() {
		c.reply(in.Ack, relay.Failure(errRateLimited))
		return
	}

	ack, reply := c.relay.Dispatch(c.session, in.Event, in.Data)
	if reply {
		c.reply(in.Ack, ack)
	}
}

// reply sends ack when the client asked for one. Failures of
// fire-and-forget requests are reported as error events instead.
func (c *Client) reply(id *uint64, ack relay.Ack) {
	if id == nil {
		if !ack.OK {
			c.sendError(ack.Error)
		}
		return
	}

	frame, err := relay.EncodeAck(*id, ack)
	if err != nil {
		c.logger.Error().Err(err).Msg("encoding ack")
		return
	}
	c.relay.Broadcaster().Send(c.session, frame)
}

func (c *Client) sendError(message string) {
	if err := c.relay.Broadcaster().EmitToSession(c.session, relay.EventError, errorPayload{Error: message}); err != nil {
		c.logger.Error().Err(err).Msg("encoding error event")
	}
}

func (c *Client) readPump() {
	reason := "connection closed"
	defer func() {
		c.relay.Disconnect(c.session, reason)
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.handleReadError(err)
			return
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.session.Outbound():
		return c.handleFrame(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("closing connection in writePump")
		}
	}
}

// handleFrame writes one outbound frame and returns false if the connection
// should be closed. A closed outbound queue means the session was
// disconnected.
func (c *Client) handleFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info().Err(err).Msg("writing frame")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("writing close message")
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info().Err(err).Msg("writing ping")
		}
		return false
	}
	return true
}
