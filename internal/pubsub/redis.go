// Package pubsub publishes request notifications to external consumers
// over Redis pub/sub. The wire format is the request kind byte followed
// by the raw notification payload.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reinferio/saltfish/internal/listener"
)

// Config holds the Redis endpoint and the channel key notifications are
// published to.
type Config struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Key  string `json:"key" yaml:"key"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host: "localhost",
		Port: 6379,
		Key:  "saltfish:notifications",
	}
}

// Publisher forwards listener-bus publications to a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ClientName:   "saltfish-" + uuid.NewString(),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		client:  client,
		channel: cfg.Key,
		logger:  logger,
	}, nil
}

// Handler returns the listener.Handler that forwards publications.
// Register it for listener.All so external consumers see every kind.
func (p *Publisher) Handler() listener.Handler {
	return func(kind listener.Kind, payload []byte) {
		message := make([]byte, 0, 1+len(payload))
		message = append(message, byte(kind))
		message = append(message, payload...)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := p.client.Publish(ctx, p.channel, message).Err(); err != nil {
			p.logger.Warn("failed to publish notification",
				slog.String("kind", kind.String()),
				slog.String("channel", p.channel),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close releases the Redis connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}
