// Package server implements the HTTP and WebSocket transport of the relay.
//
// The implementation is organized into specialized files for configuration,
// origin policy, rate limiting, the client hub, per-connection pumps, routing
// and HTTP handlers. Room semantics are delegated to the relay package.
package server
