package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "portal:ratelimit:"

// Counter counts events per key in a fixed window that opens with the first
// event of the key.
type Counter interface {
	// Count returns the events recorded for key and the time until its
	// window closes.
	Count(ctx context.Context, key string) (int, time.Duration, error)
	// Incr records one event and returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int, error)
	// Reset forgets key.
	Reset(ctx context.Context, key string) error
}

type bucket struct {
	count   int
	expires time.Time
}

// MemoryCounter keeps windows in process memory.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Count implements Counter.
func (c *MemoryCounter) Count(_ context.Context, key string) (int, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.live(key)
	if b == nil {
		return 0, 0, nil
	}
	return b.count, b.expires.Sub(c.now()), nil
}

// Incr implements Counter.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.live(key)
	if b == nil {
		b = &bucket{expires: c.now().Add(window)}
		c.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// Reset implements Counter.
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.buckets, key)
	return nil
}

// Sweep drops closed windows and returns how many were removed.
func (c *MemoryCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, b := range c.buckets {
		if !now.Before(b.expires) {
			delete(c.buckets, key)
			removed++
		}
	}
	return removed
}

// live returns the open bucket for key. Caller holds mu.
func (c *MemoryCounter) live(key string) *bucket {
	b, ok := c.buckets[key]
	if !ok {
		return nil
	}
	if !c.now().Before(b.expires) {
		delete(c.buckets, key)
		return nil
	}
	return b
}

// RedisCounter keeps windows in Redis under portal:ratelimit:<key>, so
// every portal instance sees the same attempts.
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter creates a RedisCounter.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Count implements Counter.
func (c *RedisCounter) Count(ctx context.Context, key string) (int, time.Duration, error) {
	count, err := c.client.Get(ctx, keyPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read attempt count: %w", err)
	}

	ttl, err := c.client.TTL(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read attempt window: %w", err)
	}
	return count, ttl, nil
}

// Incr implements Counter. The first event of a window sets its expiry.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := c.client.Incr(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, keyPrefix+key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set attempt window: %w", err)
		}
	}
	return int(count), nil
}

// Reset implements Counter.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
