// Package server wires configuration, the relay handler and the client hub
// into a single Server value.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/logx"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Server is the transport in front of a relay handler.
type Server struct {
	cfg      Config
	relay    *relay.Handler
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	checksMu sync.RWMutex
	checks   map[string]HealthCheck
	logger   zerolog.Logger
}

// New builds a Server for handler using the sanitized form of cfg.
func New(cfg Config, handler *relay.Handler, logger zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	origins := newOriginPolicy(cfg.AllowedOrigins, logx.Component(logger, "origin"))

	return &Server{
		cfg:     cfg,
		relay:   handler,
		hub:     NewHub(logx.Component(logger, "hub")),
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logx.Component(logger, "http"),
	}
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// AddHealthCheck registers check under name, replacing any earlier check of
// that name. /health reports every check and answers 503 when any fails.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	if s.checks == nil {
		s.checks = make(map[string]HealthCheck)
	}
	s.checks[name] = check
}

func (s *Server) healthChecks() map[string]HealthCheck {
	s.checksMu.RLock()
	defer s.checksMu.RUnlock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	return checks
}

// Start launches the hub's event loop. It must be called before serving
// WebSocket requests.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info().Msg("hub started and ready to manage WebSocket connections")
}

// Shutdown closes every client connection and waits for their pumps, up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
