package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/jobstream/internal/job"
)

const keyPrefix = "jobstream:result:"

// RedisCache is a Cache stored in Redis with native key expiry. The caller
// owns the client lifecycle.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. A non-positive ttl selects
// DefaultTTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func resultKey(jobID string) string { return keyPrefix + jobID }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, jobID string) (*job.Job, bool, error) {
	data, err := c.client.Get(ctx, resultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached result: %w", err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &j, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return ErrNotTerminal
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.client.Set(ctx, resultKey(j.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached result: %w", err)
	}
	return nil
}
