package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_window.lua
var rateWindowScript string

// Client wraps Redis for concerns that must stay accurate across service
// instances, currently the webhook rate-limit counters.
type Client struct {
	rdb        *redis.Client
	rateScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:        rdb,
		rateScript: redis.NewScript(rateWindowScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IncrWindow atomically bumps the counter for key and returns the count
// observed within the current window. The TTL is stamped on the first hit so
// the window slides per key, not globally.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	result, err := c.rateScript.Run(ctx, c.rdb, []string{fmt.Sprintf("ratelimit:%s", key)}, window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("rate window script failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return count, nil
}
