package statements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/periodledger/internal/shared"
)

// BumpChannel carries "<period>:<version>" whenever a period's statements go stale.
const BumpChannel = "ledger.statements.bump"

// Cache is a Redis cache versioned per period. Bumping the version orphans
// every key built under the previous one; the TTL reaps them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds the cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the period's cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context, periodID string) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	key := shared.StatementVersionKey(periodID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX so two first readers agree on the initial version.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a key under the period's current version.
func (c *Cache) BuildKey(ctx context.Context, periodID string, parts ...string) (string, error) {
	ver, err := c.Version(ctx, periodID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:period:%s:statements:%s:v%d", periodID, strings.Join(parts, ":"), ver), nil
}

// FetchJSON decodes the cached value into dest, or runs loader and caches
// its result. hit reports whether the value came from Redis.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) (hit bool, err error) {
	if loader == nil {
		return false, errors.New("statements: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return true, json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return false, err
		}
	}
	return false, json.Unmarshal(raw, dest)
}

// Bump invalidates every cached statement of the period and announces the
// new version on BumpChannel.
func (c *Cache) Bump(ctx context.Context, periodID string) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, shared.StatementVersionKey(periodID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, periodID+":"+strconv.FormatInt(ver, 10)).Err()
}
