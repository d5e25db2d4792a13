// Package integration contains multi-client tests for room fan-out.
//
// These tests verify that many sessions can share a room concurrently, that
// messages reach every member exactly once and that history order matches
// delivery order.
package integration

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/test/testhelpers"
)

// readMessages collects n message events from conn, skipping everything else.
func readMessages(conn *websocket.Conn, n int) ([]relay.Message, error) {
	messages := make([]relay.Message, 0, n)
	for len(messages) < n {
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return nil, err
		}
		var frame testhelpers.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil, fmt.Errorf("after %d messages: %w", len(messages), err)
		}
		if frame.Event != relay.EventMessage {
			continue
		}
		var msg relay.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// TestMultipleClientsShareRoom verifies that every member sees every message in history order
func TestMultipleClientsShareRoom(t *testing.T) {
	ts := testhelpers.StartServer(t, relay.Options{}, nil)

	const clients = 5
	const perClient = 4

	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conn, _ := ts.Connect(t, fmt.Sprintf("user-%d", i))
		ack := testhelpers.Request(t, conn, relay.RequestJoin, 1, map[string]string{"room": "party"})
		if !ack.OK {
			t.Fatalf("Join failed for client %d: %s", i, ack.Error)
		}
		conns[i] = conn
	}

	if count := ts.Handler.Registry().MemberCount("party"); count != clients {
		t.Fatalf("Expected %d members, got %d", clients, count)
	}

	received := make([][]relay.Message, clients)
	var readers errgroup.Group
	for i, conn := range conns {
		i, conn := i, conn
		readers.Go(func() error {
			msgs, err := readMessages(conn, clients*perClient)
			received[i] = msgs
			return err
		})
	}

	// Writes are confined to this goroutine per connection.
	var writers errgroup.Group
	for i, conn := range conns {
		i, conn := i, conn
		writers.Go(func() error {
			for j := 0; j < perClient; j++ {
				frame := map[string]any{
					"event": relay.RequestMessage,
					"data":  map[string]string{"room": "party", "text": fmt.Sprintf("%d-%d", i, j)},
				}
				if err := conn.WriteJSON(frame); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := writers.Wait(); err != nil {
		t.Fatalf("Writing messages: %v", err)
	}
	if err := readers.Wait(); err != nil {
		t.Fatalf("Reading messages: %v", err)
	}

	history := ts.Handler.HistoryStore().Get("party")
	if len(history) != clients*perClient {
		t.Fatalf("Expected %d history entries, got %d", clients*perClient, len(history))
	}

	for i, msgs := range received {
		for j := range msgs {
			if msgs[j].ID != history[j].ID {
				t.Errorf("Client %d saw message %d out of history order", i, j)
				break
			}
		}
	}
}

// TestHistoryReplayOnJoin verifies that a late joiner receives existing history in its join ack
func TestHistoryReplayOnJoin(t *testing.T) {
	ts := testhelpers.StartServer(t, relay.Options{HistoryLimit: 3}, nil)

	author, _ := ts.Connect(t, "author")
	testhelpers.Request(t, author, relay.RequestJoin, 1, map[string]string{"room": "r1"})
	for i := 0; i < 5; i++ {
		ack := testhelpers.Request(t, author, relay.RequestMessage, uint64(i+2), map[string]string{
			"room": "r1",
			"text": fmt.Sprintf("m%d", i),
		})
		if !ack.OK {
			t.Fatalf("Message %d failed: %s", i, ack.Error)
		}
	}

	late, _ := ts.Connect(t, "late")
	ack := testhelpers.Request(t, late, relay.RequestJoin, 1, map[string]string{"room": "r1"})

	if len(ack.History) != 3 {
		t.Fatalf("Expected history trimmed to 3, got %d", len(ack.History))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if ack.History[i].Text != want {
			t.Errorf("History[%d] = %q, want %q", i, ack.History[i].Text, want)
		}
	}
}

// TestConcurrentConnections verifies that many clients can connect and join at once
func TestConcurrentConnections(t *testing.T) {
	ts := testhelpers.StartServer(t, relay.Options{}, nil)

	const clients = 20
	conns := make([]*websocket.Conn, clients)
	var g errgroup.Group
	for i := range conns {
		i := i
		g.Go(func() error {
			conn, _, err := testhelpers.Dial(ts.WebSocketURL(fmt.Sprintf("c%d", i)), testhelpers.TestOrigin)
			if err != nil {
				return err
			}
			conns[i] = conn
			frame := map[string]any{"event": relay.RequestJoin, "ack": 1, "data": map[string]string{"room": "crowd"}}
			return conn.WriteJSON(frame)
		})
	}
	err := g.Wait()
	t.Cleanup(func() {
		for _, conn := range conns {
			if conn != nil {
				_ = conn.Close()
			}
		}
	})
	if err != nil {
		t.Fatalf("Connecting clients: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for ts.Handler.Registry().MemberCount("crowd") != clients {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d members, got %d", clients, ts.Handler.Registry().MemberCount("crowd"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
