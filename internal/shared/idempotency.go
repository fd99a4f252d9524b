package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client-chosen key of a write request.
const IdempotencyHeader = "Idempotency-Key"

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore remembers processed keys in Redis until they expire.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store. A nil client disables it.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Enabled reports whether keys are checked at all.
func (s *IdempotencyStore) Enabled() bool {
	return s != nil && s.client != nil
}

// IdempotencyKey builds the redis key of key within scope.
func IdempotencyKey(scope, key string) string {
	return fmt.Sprintf("ledger:idempotency:%s:%s", scope, key)
}

// CheckAndInsert claims key within scope, or returns ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, scope string) error {
	if !s.Enabled() {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	ok, err := s.client.SetNX(ctx, IdempotencyKey(scope, key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a key, typically after the request failed.
func (s *IdempotencyStore) Delete(ctx context.Context, key, scope string) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Del(ctx, IdempotencyKey(scope, key)).Err()
}
