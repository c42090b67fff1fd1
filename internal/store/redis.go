package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary SnapshotStore with a Redis read-through
// cache. Saves write to the primary and refresh the cache; loads check
// Redis first and fall back to the primary on a miss.
type CachedStore struct {
	primary SnapshotStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary SnapshotStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache unavailable; the primary is still authoritative.
		return s.primary.Load(ctx, key)
	}

	data, err = s.primary.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	s.rdb.Set(ctx, cacheKey(key), data, s.ttl)
	return data, nil
}

func (s *CachedStore) Save(ctx context.Context, key string, doc []byte) error {
	if err := s.primary.Save(ctx, key, doc); err != nil {
		return err
	}
	s.rdb.Set(ctx, cacheKey(key), doc, s.ttl)
	return nil
}

func cacheKey(key string) string {
	return "market:doc:" + key
}
