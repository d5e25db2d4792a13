package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBus is an in-process Adapter shared by several handlers.
type memoryBus struct {
	mu     sync.Mutex
	subs   []chan Envelope
	failed bool
}

type memoryAdapter struct {
	bus *memoryBus
}

func (b *memoryBus) adapter() *memoryAdapter { return &memoryAdapter{bus: b} }

func (a *memoryAdapter) Publish(_ context.Context, env Envelope) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	if a.bus.failed {
		return errors.New("bus down")
	}
	for _, ch := range a.bus.subs {
		ch <- env
	}
	return nil
}

func (a *memoryAdapter) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	ch := make(chan Envelope, 64)
	a.bus.mu.Lock()
	a.bus.subs = append(a.bus.subs, ch)
	a.bus.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-ch:
			deliver(env)
		}
	}
}

func (a *memoryAdapter) Close() error { return nil }

func (b *memoryBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func startNode(t *testing.T, node string, bus *memoryBus) *Handler {
	t.Helper()
	h := newTestHandler(t, Options{Node: node, Adapter: bus.adapter()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func TestBroadcasterLocalFanOut(t *testing.T) {
	h := newTestHandler(t, Options{})
	alice := admit(t, h, "alice")
	bob := admit(t, h, "bob")
	carol := admit(t, h, "carol")
	h.Registry().Join(alice, "r1")
	h.Registry().Join(bob, "r1")
	h.Registry().Join(carol, "r2")

	require.NoError(t, h.Broadcaster().EmitToRoom("r1", "ping", map[string]int{"n": 1}, alice))

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, carol))
	frames := drain(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
	assert.JSONEq(t, `{"n":1}`, string(frames[0].Data))
}

func TestBroadcasterPreservesOrderWithinRequest(t *testing.T) {
	h := newTestHandler(t, Options{})
	alice := admit(t, h, "alice")
	h.Registry().Join(alice, "r1")

	b := h.Broadcaster()
	require.NoError(t, b.EmitToRoom("r1", "first", nil, nil))
	require.NoError(t, b.EmitToRoom("r1", "second", nil, nil))
	require.NoError(t, b.EmitToRoom("r1", "third", nil, nil))

	assert.Equal(t, []string{"first", "second", "third"}, eventsOf(drain(t, alice)))
}

func TestBroadcasterRejectsUnencodablePayload(t *testing.T) {
	h := newTestHandler(t, Options{})
	err := h.Broadcaster().EmitToRoom("r1", "bad", make(chan int), nil)
	assert.Error(t, err)
}

func TestBroadcasterWithoutAdapterRunWaitsForCancel(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBroadcasterFansOutAcrossNodes(t *testing.T) {
	bus := &memoryBus{}
	east := startNode(t, "east", bus)
	west := startNode(t, "west", bus)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	alice := admit(t, east, "alice")
	bob := admit(t, west, "bob")
	require.True(t, east.Join(alice, "r1").OK)
	require.True(t, west.Join(bob, "r1").OK)

	ack := east.SendMessage(alice, "r1", "hello west", nil)
	require.True(t, ack.OK)

	remote := nextFrame(t, bob)
	if remote.Event == EventUserJoined {
		remote = nextFrame(t, bob)
	}
	assert.Equal(t, EventMessage, remote.Event)
	assert.Equal(t, ack.ID, decodeData[Message](t, remote).ID)

	// The publishing node delivers once locally and ignores its own echo.
	var messages int
	for _, f := range drain(t, alice) {
		if f.Event == EventMessage {
			messages++
		}
	}
	time.Sleep(50 * time.Millisecond)
	for _, f := range drain(t, alice) {
		if f.Event == EventMessage {
			messages++
		}
	}
	assert.Equal(t, 1, messages)
}

func TestBroadcasterRemoteExclusion(t *testing.T) {
	bus := &memoryBus{}
	east := startNode(t, "east", bus)
	west := startNode(t, "west", bus)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	bob := admit(t, west, "bob")
	require.True(t, west.Join(bob, "r1").OK)

	alice := admit(t, east, "alice")
	require.True(t, east.Join(alice, "r1").OK)
	require.NoError(t, east.Typing(alice, "r1", true))

	joined := nextFrame(t, bob)
	assert.Equal(t, EventUserJoined, joined.Event)
	typing := nextFrame(t, bob)
	assert.Equal(t, EventTyping, typing.Event)

	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, eventsOf(drain(t, alice)), EventTyping)
}

func TestBroadcasterPublishFailureDoesNotFailRequest(t *testing.T) {
	bus := &memoryBus{failed: true}
	h := startNode(t, "solo", bus)
	alice := admit(t, h, "alice")
	h.Join(alice, "r1")

	ack := h.SendMessage(alice, "r1", "still delivered locally", nil)
	assert.True(t, ack.OK)
	assert.Equal(t, []string{EventMessage}, eventsOf(drain(t, alice)))
}

type brokenAdapter struct{ *memoryAdapter }

func (brokenAdapter) Subscribe(context.Context, func(Envelope)) error {
	return errors.New("connection refused")
}

func TestBroadcasterRunReportsSubscriptionFailure(t *testing.T) {
	h := newTestHandler(t, Options{Adapter: brokenAdapter{}})

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "adapter subscription")
	case <-time.After(time.Second):
		t.Fatal("Run kept going after the subscription failed")
	}
}
