package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus backed by Redis pub/sub, for deployments where
// participants connect through different processes. Redis pub/sub is
// fire-and-forget: a message published while a user has no subscriber is
// lost, which matches the signaling contract.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis wraps an existing Redis client as a signaling bus.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		logger: logger.With("subsystem", "bus"),
	}
}

// OpenRedis initializes a Redis client with conservative timeouts and
// validates connectivity via PING.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Publish sends the event on the user's topic. Delivery is not awaited.
func (b *Redis) Publish(ctx context.Context, userID, event string, payload any) error {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Topic(userID), data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", Topic(userID), err)
	}
	return nil
}

// Subscribe opens a Redis subscription on the user's topic. It waits for
// the subscription to be confirmed by the server before returning, so a
// successful return means the topic is live and offers will be seen.
func (b *Redis) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	sub := b.client.Subscribe(ctx, Topic(userID))

	// Receive blocks until the server acknowledges the SUBSCRIBE.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("confirming subscription to %s: %w", Topic(userID), err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for raw := range sub.Channel() {
			msg, err := decodeEnvelope([]byte(raw.Payload))
			if err != nil {
				b.logger.Warn("discarding malformed signaling message",
					"topic", raw.Channel, "error", err)
				continue
			}
			select {
			case out <- msg:
			default:
				b.logger.Warn("dropping message for slow subscriber",
					"topic", raw.Channel, "event", msg.Event)
			}
		}
	}()

	cancel := func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("closing subscription", "topic", Topic(userID), "error", err)
		}
	}
	return out, cancel, nil
}
