package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doeshing/flowcard/internal/ports"
)

// GetAs decodes the cached value for key into T. A value that no longer
// decodes into T is reported as an error, not a hit.
func GetAs[T any](ctx context.Context, store ports.CacheStore, key string) (T, bool, error) {
	var out T
	data, ok := store.Get(ctx, key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false, fmt.Errorf("cache decode %q: %w", key, err)
	}
	return out, true, nil
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. Load errors are returned and nothing is cached.
func GetOrLoad[T any](ctx context.Context, store ports.CacheStore, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if cached, ok, err := GetAs[T](ctx, store, key); err == nil && ok {
		return cached, nil
	}
	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := store.Set(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}
