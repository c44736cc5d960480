package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hylla/taskgate/internal/app"
)

// DefaultRedisChannel receives review notices when no channel is configured.
const DefaultRedisChannel = "taskgate:review"

// Redis publishes review notices on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedisClient returns a client tuned for short publish calls.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
	})
}

// NewRedis constructs a Redis notifier over client.
func NewRedis(client *redis.Client, channel string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}, nil
}

// Channel returns the destination channel.
func (r *Redis) Channel() string {
	return r.channel
}

// NotifyReview publishes notice as JSON. Zero subscribers is not an error.
func (r *Redis) NotifyReview(ctx context.Context, notice app.ReviewNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode review notice: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", r.channel, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
