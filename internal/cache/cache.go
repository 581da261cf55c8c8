package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/domain"
)

// TTLs per cache namespace. The cache is a pure accelerator: absence of an
// entry always means "regenerate", never an error. Rate-limit counters are
// not cached here; their lifetime is the limiter's window.
const (
	ResultTTL   = 24 * time.Hour
	AssetTTL    = 7 * 24 * time.Hour
	InFlightTTL = 60 * time.Second
)

// Store is a Redis-backed TTL key-value store. Values are JSON-serialized.
type Store struct {
	client *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Set serializes value and stores it under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, errors.Join(domain.ErrStoreUnavailable, err))
	}
	return nil
}

// Get loads the value stored under key into dest. The boolean reports whether
// an entry was found; a store outage is returned as an error so callers can
// tell "miss" from "store down" even when both degrade to regeneration.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache: get %s: %w", key, errors.Join(domain.ErrStoreUnavailable, err))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the given keys and returns how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: delete: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	return int(n), nil
}

// DeletePattern removes all keys matching a glob pattern and returns the
// count. Intended for administrative invalidation, not hot paths.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: keys %s: %w", pattern, errors.Join(domain.ErrStoreUnavailable, err))
	}
	return s.Delete(ctx, keys...)
}

// SetNX stores value only if key is absent, returning whether it was set.
// Used for per-user in-flight deduplication.
func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, errors.Join(domain.ErrStoreUnavailable, err))
	}
	return ok, nil
}

// ResultKey derives the deterministic cache key for a generation result from
// the template kind and the normalized prompt text.
func ResultKey(kind domain.TemplateKind, prompt string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	sum := sha256.Sum256([]byte(string(kind) + "|" + normalized))
	return "gen:result:" + hex.EncodeToString(sum[:])
}

// AssetKey derives the cache key for a generated asset descriptor.
func AssetKey(namespace, key string) string {
	sum := sha256.Sum256([]byte(namespace + "|" + key))
	return "gen:asset:" + hex.EncodeToString(sum[:])
}

// InFlightKey tracks a user's in-flight generation for short-window dedup.
func InFlightKey(userID string, kind domain.TemplateKind, prompt string) string {
	return "gen:inflight:" + userID + ":" + ResultKey(kind, prompt)
}
