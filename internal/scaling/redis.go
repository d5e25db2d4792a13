// Package scaling provides cross-process event buses that let several relay
// servers share room broadcasts.
package scaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// DefaultChannel is the Redis pub/sub channel used when none is configured.
const DefaultChannel = "roomrelay:events"

// RedisAdapter carries relay envelopes over a single Redis pub/sub channel.
// Redis pub/sub is fire-and-forget, so delivery to other processes is best effort.
type RedisAdapter struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisAdapter connects to the Redis server at url (redis://host:port/db)
// and verifies the connection.
func NewRedisAdapter(ctx context.Context, url, channel string, logger zerolog.Logger) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisAdapterFromClient(client, channel, logger), nil
}

// NewRedisAdapterFromClient wraps an existing client. The adapter takes
// ownership of client and closes it in Close.
func NewRedisAdapterFromClient(client *redis.Client, channel string, logger zerolog.Logger) *RedisAdapter {
	if channel == "" {
		channel = DefaultChannel
	}
	logger.Info().Str("addr", client.Options().Addr).Str("channel", channel).Msg("redis adapter ready")
	return &RedisAdapter{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Channel returns the pub/sub channel name.
func (a *RedisAdapter) Channel() string { return a.channel }

// Publish sends env to every subscribed process.
func (a *RedisAdapter) Publish(ctx context.Context, env relay.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := a.client.Publish(ctx, a.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", a.channel, err)
	}
	return nil
}

// Subscribe delivers envelopes from the channel until ctx is done. Messages
// that do not decode are logged and skipped.
func (a *RedisAdapter) Subscribe(ctx context.Context, deliver func(relay.Envelope)) error {
	pubsub := a.client.Subscribe(ctx, a.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("closing subscription")
		}
	}()

	// Wait for the subscription to be confirmed so no publish is missed after
	// Subscribe has been observed as running.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", a.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env relay.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				a.logger.Warn().Err(err).Msg("discarding malformed envelope")
				continue
			}
			deliver(env)
		}
	}
}

// Ping checks connectivity to Redis.
func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (a *RedisAdapter) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

var _ relay.Adapter = (*RedisAdapter)(nil)
