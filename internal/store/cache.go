package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// SetCache stores value under key until ttl elapses.
func (s *Store) SetCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}
	data, err := json.Marshal(cacheEntry{Value: raw, ExpiresAt: s.now().Add(ttl).UTC()})
	if err != nil {
		return err
	}
	if err := s.engine.Put(ctx, CachePartition, key, data, nil); err != nil {
		return fmt.Errorf("failed to set cache %s: %w", key, err)
	}
	return nil
}

// GetCache decodes the cached value into dst. It reports false when the key
// is absent or expired; expired entries are evicted.
func (s *Store) GetCache(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.engine.Get(ctx, CachePartition, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache %s: %w", key, err)
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, fmt.Errorf("failed to decode cache %s: %w", key, err)
	}
	if !s.now().Before(entry.ExpiresAt) {
		if _, err := s.evictExpired(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}
	if dst != nil {
		if err := json.Unmarshal(entry.Value, dst); err != nil {
			return false, fmt.Errorf("failed to decode cache %s: %w", key, err)
		}
	}
	return true, nil
}

// SweepExpiredCache deletes every expired cache entry and returns how many were removed.
func (s *Store) SweepExpiredCache(ctx context.Context) (int, error) {
	items, err := s.engine.List(ctx, CachePartition)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache: %w", err)
	}
	now := s.now()
	removed := 0
	for _, it := range items {
		if !expired(it.Value, now) {
			continue
		}
		ok, err := s.evictExpired(ctx, it.Key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// evictExpired deletes key if it is still expired when locked. An entry
// refreshed by SetCache after it was read is kept.
func (s *Store) evictExpired(ctx context.Context, key string) (bool, error) {
	evicted := false
	err := s.engine.Update(ctx, CachePartition, key, func(current []byte, found bool) (kv.Change, error) {
		if !found || !expired(current, s.now()) {
			return kv.Change{}, kv.ErrSkip
		}
		evicted = true
		return kv.Change{Delete: true}, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to evict cache %s: %w", key, err)
	}
	return evicted, nil
}

// expired reports whether data is a cache entry past its expiry. Undecodable
// entries count as expired.
func expired(data []byte, now time.Time) bool {
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return true
	}
	return !now.Before(entry.ExpiresAt)
}

// RunCacheSweeper sweeps the cache every interval until ctx is done.
func (s *Store) RunCacheSweeper(ctx context.Context, interval time.Duration) {
	logger := logrus.WithField("component", "cache")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cache sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpiredCache(ctx)
			if err != nil {
				logger.WithError(err).Error("Cache sweep failed")
				continue
			}
			if n > 0 {
				logger.WithField("removed", n).Debug("Expired cache entries removed")
			}
		}
	}
}
