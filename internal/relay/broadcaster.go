package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	publishQueueSize = 1024
	publishTimeout   = 5 * time.Second
)

// Envelope is a room event as carried between relay processes.
type Envelope struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Exclude string          `json:"exclude,omitempty"`
}

// Adapter is a cross-process event bus. Every envelope published by one
// process is handed to the subscribers of every process, including the
// publisher itself.
type Adapter interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls deliver for each envelope received until ctx is done.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// Broadcaster fans events out to the members of a room. Local members are
// served synchronously from the registry; when an Adapter is configured the
// event is also forwarded to the other processes sharing the bus.
type Broadcaster struct {
	node     string
	registry *Registry
	adapter  Adapter
	queue    chan Envelope
	onSlow   func(*Session)
	logger   zerolog.Logger
}

// NewBroadcaster returns a broadcaster serving the members of registry.
// adapter may be nil for single-process operation.
func NewBroadcaster(node string, registry *Registry, adapter Adapter, logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		node:     node,
		registry: registry,
		adapter:  adapter,
		logger:   logger,
	}
	if adapter != nil {
		b.queue = make(chan Envelope, publishQueueSize)
	}
	return b
}

// Node returns the identifier this process stamps on published envelopes.
func (b *Broadcaster) Node() string { return b.node }

// OnSlowPeer sets the function called for a session whose outbound queue
// overflowed. It must be set before the broadcaster is used.
func (b *Broadcaster) OnSlowPeer(fn func(*Session)) { b.onSlow = fn }

// EmitToRoom delivers event to every member of room except exclude, which may
// be nil. Delivery never waits on a member: a member whose queue is full
// misses the event and is reported as a slow peer.
func (b *Broadcaster) EmitToRoom(room, event string, payload any, exclude *Session) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	env := Envelope{Node: b.node, Room: room, Event: event, Payload: raw}
	if exclude != nil {
		env.Exclude = exclude.id
	}

	if err := b.deliverLocal(env); err != nil {
		return err
	}
	b.forward(env)
	return nil
}

// EmitToSession delivers event to s alone.
func (b *Broadcaster) EmitToSession(s *Session, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	b.send(s, frame)
	return nil
}

// Send queues an already encoded frame for s.
func (b *Broadcaster) Send(s *Session, frame []byte) {
	b.send(s, frame)
}

func (b *Broadcaster) deliverLocal(env Envelope) error {
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", env.Event, err)
	}

	members := b.registry.Members(env.Room)
	delivered := 0
	for _, s := range members {
		if s.id == env.Exclude {
			continue
		}
		if b.send(s, frame) {
			delivered++
		}
	}
	b.logger.Debug().
		Str("room", env.Room).
		Str("event", env.Event).
		Int("delivered", delivered).
		Msg("fan-out")
	return nil
}

func (b *Broadcaster) send(s *Session, frame []byte) bool {
	ok, full := s.deliver(frame)
	if full {
		b.logger.Warn().Str("session", s.id).Str("username", s.username).Msg("outbound queue full; evicting slow peer")
		if b.onSlow != nil {
			go b.onSlow(s)
		}
	}
	return ok
}

// forward queues env for the adapter without blocking the caller. The queue
// is drained by Run in order.
func (b *Broadcaster) forward(env Envelope) {
	if b.queue == nil {
		return
	}
	select {
	case b.queue <- env:
	default:
		b.logger.Warn().Str("room", env.Room).Str("event", env.Event).Msg("publish queue full; dropping remote delivery")
	}
}

// Run pumps events between the adapter and local members until ctx is done.
// Without an adapter it simply waits for ctx. A subscription that fails while
// ctx is still live stops the loop with an error.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.adapter == nil {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.adapter.Subscribe(gctx, b.receive); err != nil && ctx.Err() == nil {
			return fmt.Errorf("adapter subscription: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case env := <-b.queue:
				b.publish(gctx, env)
			}
		}
	})
	return g.Wait()
}

func (b *Broadcaster) publish(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.adapter.Publish(ctx, env); err != nil {
		b.logger.Error().Err(err).Str("room", env.Room).Str("event", env.Event).Msg("publish failed")
	}
}

// receive fans out an envelope that arrived from the bus. Envelopes this
// process published were already delivered locally.
func (b *Broadcaster) receive(env Envelope) {
	if env.Node == b.node {
		return
	}
	if err := b.deliverLocal(env); err != nil {
		b.logger.Error().Err(err).Str("node", env.Node).Str("room", env.Room).Msg("remote delivery failed")
	}
}
