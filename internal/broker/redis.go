// Package broker provides Redis access for the stream-backed delivery path.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker wraps the Redis client used for the click event stream.
//
// go-redis maintains its own connection pool and lazily re-establishes
// broken connections on the next command, which gives the invalidate-on-
// error, reconnect-on-use lifecycle the stream publisher and consumer rely
// on without any state held here.
type Broker struct {
	client *redis.Client
}

// New creates a new Broker from a Redis URL.
func New(ctx context.Context, redisURL string) (*Broker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool settings
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Broker{client: client}, nil
}

// Ping checks Redis connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Client returns the underlying Redis client.
func (b *Broker) Client() *redis.Client {
	return b.client
}
