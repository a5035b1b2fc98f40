package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/roach88/txdict/internal/txdict"
)

// RedisOptions configures a RedisPublisher.
type RedisOptions struct {
	// Address of the Redis server.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// Channel batches are published on.
	Channel string

	// Retries is how many times a failed publish is retried, with
	// Fibonacci backoff starting at RetryBase.
	Retries   uint64
	RetryBase time.Duration
}

// DefaultRedisOptions returns options for a local server.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address:   "localhost:6379",
		Channel:   "txdict:changes",
		Retries:   3,
		RetryBase: 100 * time.Millisecond,
	}
}

// RedisPublisher publishes encoded batches on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	options RedisOptions
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher. No connection is made until the
// first publish.
func NewRedisPublisher(options RedisOptions) (*RedisPublisher, error) {
	if options.Address == "" {
		return nil, fmt.Errorf("redis publisher: address is required")
	}
	if options.Channel == "" {
		return nil, fmt.Errorf("redis publisher: channel is required")
	}
	if options.RetryBase <= 0 {
		options.RetryBase = DefaultRedisOptions().RetryBase
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})
	return &RedisPublisher{client: client, options: options}, nil
}

// Client returns the underlying Redis client.
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

// Channel returns the channel batches are published on.
func (p *RedisPublisher) Channel() string {
	return p.options.Channel
}

// Publish encodes b and publishes it, retrying transient failures.
func (p *RedisPublisher) Publish(ctx context.Context, b txdict.Batch) error {
	payload, err := Encode(b)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(p.options.Retries, retry.NewFibonacci(p.options.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.client.Publish(ctx, p.options.Channel, payload).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish batch %d to %s: %w", b.Seq, p.options.Channel, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
