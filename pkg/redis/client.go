// Package redis wraps go-redis/v9 for the two things the platform keeps in
// Redis: the job dispatch list and per-job processing leases.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

// releaseScript deletes a lease only while it still holds the caller's
// token; a lease that expired and was taken by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// NewClient connects and checks the server with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Push adds values at the head of the list at key.
func (c *Client) Push(ctx context.Context, key string, values ...any) error {
	return c.rdb.LPush(ctx, key, values...).Err()
}

// Pop waits up to timeout for the tail of the list at key. ok is false when
// the wait ran out with the list still empty.
func (c *Client) Pop(ctx context.Context, key string, timeout time.Duration) (value string, ok bool, err error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	// [key, value]
	return res[1], true, nil
}

// Len is the number of queued entries at key.
func (c *Client) Len(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

// Acquire takes the lease at key for owner unless someone holds it. The
// lease lapses after ttl.
func (c *Client) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, owner, ttl).Result()
}

// Release gives up the lease at key if owner still holds it and reports
// whether it did.
func (c *Client) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
