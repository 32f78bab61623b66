package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/platform/websocket"
)

// bridgeChannel is the Redis pub/sub channel shared by all instances.
const bridgeChannel = "clinicore:events"

// RedisBridge relays events between instances through Redis pub/sub so
// that a client connected to one instance still sees events produced on
// another. It implements websocket.EventPublisher for the outbound side.
type RedisBridge struct {
	client *redis.Client
	hub    *websocket.Hub
	logger zerolog.Logger
	cancel context.CancelFunc
}

// NewRedisBridge connects to Redis at the given URL, starts relaying
// inbound events into the local hub, and returns a publisher for the
// outbound side.
func NewRedisBridge(ctx context.Context, redisURL string, hub *websocket.Hub, logger zerolog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client: client,
		hub:    hub,
		logger: logger,
		cancel: cancel,
	}

	go b.run(runCtx)
	return b, nil
}

// Publish relays an event to all instances via the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, event websocket.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, bridgeChannel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBridge) run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event websocket.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error().Err(err).Msg("notify: malformed bridge event")
				continue
			}
			b.hub.Broadcast(event.Topic, event)
		}
	}
}

// Close stops the relay loop and closes the Redis connection.
func (b *RedisBridge) Close() error {
	b.cancel()
	return b.client.Close()
}
