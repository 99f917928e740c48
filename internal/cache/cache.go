package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Standard TTLs for the TTL tier. Reference lists churn on the daily sync;
// measure units are close to static.
const (
	ListTTL = 10 * time.Minute
	UnitTTL = 30 * time.Minute
)

// Cache is a typed view over a Backend. Values are JSON-encoded; concurrent
// misses for one key share a single fill.
type Cache struct {
	b     Backend
	group singleflight.Group
}

func New(b Backend) *Cache {
	return &Cache{b: b}
}

// GetOrFill returns the cached value for key, filling it with ttl on a miss.
// A backend read error falls through to fill (degraded, not broken).
func GetOrFill[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fill func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, ok, err := c.b.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, filling direct")
	} else if ok {
		var v T
		if uerr := json.Unmarshal(raw, &v); uerr == nil {
			return v, nil
		}
		// Stored shape changed (deploy); drop and refill.
		_ = c.b.Del(ctx, key)
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if raw, merr := json.Marshal(v); merr == nil {
			if serr := c.b.Set(ctx, key, raw, ttl); serr != nil {
				log.Warn().Err(serr).Str("key", key).Msg("cache write failed")
			}
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	v, ok2 := res.(T)
	if !ok2 {
		return zero, fmt.Errorf("cache: unexpected type for key %s", key)
	}
	return v, nil
}

// Invalidate drops keys from the cache (mutating events in the session
// tier).
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if err := c.b.Del(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate failed")
	}
}
