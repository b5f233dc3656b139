package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ReportCache caches rendered replay reports in Redis. Cache keys embed
// a per-item version counter; mutations bump the counter instead of
// scanning for keys, so invalidation is a single INCR.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewReportCache constructs ReportCache. A nil client disables caching.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

// Get returns the cached payload for the key, or nil on miss.
func (c *ReportCache) Get(ctx context.Context, key string) []byte {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	return data
}

// Set stores the payload under the key for the configured TTL.
func (c *ReportCache) Set(ctx context.Context, key string, payload []byte) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Key builds a versioned cache key for one replay request.
func (c *ReportCache) Key(ctx context.Context, itemCode, from, to string) string {
	version := int64(0)
	if c != nil && c.client != nil {
		if v, err := c.client.Get(ctx, versionKey(itemCode)).Int64(); err == nil {
			version = v
		}
	}
	return fmt.Sprintf("ledger:replay:%s:v%d:%s:%s", itemCode, version, from, to)
}

// Invalidate bumps the item's version so existing entries go stale and
// expire on their own.
func (c *ReportCache) Invalidate(ctx context.Context, itemCode string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Incr(ctx, versionKey(itemCode)).Err()
}

// Do collapses concurrent builds of the same report into one execution.
func (c *ReportCache) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return fn(ctx)
	}
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func versionKey(itemCode string) string {
	return fmt.Sprintf("ledger:ver:%s", itemCode)
}
