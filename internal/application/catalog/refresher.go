// Package catalog serves the card list through the cache and keeps it fresh
// in the background.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

// RefreshOutcome says what a refresh did.
type RefreshOutcome string

const (
	// RefreshSkipped means another refresh was running or the cooldown had
	// not elapsed.
	RefreshSkipped RefreshOutcome = "skipped"
	// RefreshUnchanged means the fetched value equals the cached one; nothing
	// was written or published.
	RefreshUnchanged RefreshOutcome = "unchanged"
	// RefreshUpdated means the cache was rewritten and a change published.
	RefreshUpdated RefreshOutcome = "updated"
)

// Refresher re-fetches one cached value. At most one refresh runs at a time
// and a new one is skipped until Cooldown has passed since the last start.
type Refresher[T any] struct {
	Cache    ports.CacheStore
	Key      string
	TTL      time.Duration
	Cooldown time.Duration
	Load     func(ctx context.Context) (T, error)
	Notifier ports.Notifier
	Logger   ports.Logger
	Now      func() time.Time

	mu       sync.Mutex
	inFlight bool
	lastSync time.Time
}

// Refresh fetches the value and stores it when it differs from the cache.
func (r *Refresher[T]) Refresh(ctx context.Context) (RefreshOutcome, error) {
	now := r.now()
	r.mu.Lock()
	if r.inFlight || (!r.lastSync.IsZero() && now.Sub(r.lastSync) < r.Cooldown) {
		r.mu.Unlock()
		return RefreshSkipped, nil
	}
	r.inFlight = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	fresh, err := r.Load(ctx)
	if err != nil {
		return RefreshSkipped, fmt.Errorf("refresh %s: %w", r.Key, err)
	}
	// Only a successful load starts the cooldown.
	r.mu.Lock()
	r.lastSync = now
	r.mu.Unlock()
	cached, ok, err := cache.GetAs[T](ctx, r.Cache, r.Key)
	if err == nil && ok && cmp.Equal(cached, fresh, cmpopts.EquateEmpty()) {
		r.log().Debug("refresh found no change", map[string]interface{}{"key": r.Key})
		return RefreshUnchanged, nil
	}
	if err := r.Cache.Set(ctx, r.Key, fresh, r.TTL); err != nil {
		return RefreshSkipped, fmt.Errorf("refresh %s: %w", r.Key, err)
	}
	if r.Notifier != nil {
		event := domain.Event{Type: domain.EventCatalogChanged, Key: r.Key, Timestamp: r.now().UnixMilli()}
		if err := r.Notifier.Publish(ctx, event); err != nil {
			r.log().Warn("publish refresh", map[string]interface{}{"key": r.Key, "error": err.Error()})
		}
	}
	r.log().Info("cached value refreshed", map[string]interface{}{"key": r.Key})
	return RefreshUpdated, nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (r *Refresher[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = domain.DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.log().Warn("background refresh failed", map[string]interface{}{"key": r.Key, "error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LastSync reports when the latest refresh started.
func (r *Refresher[T]) LastSync() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSync
}

func (r *Refresher[T]) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Refresher[T]) log() ports.Logger {
	if r.Logger == nil {
		return logger.Nop()
	}
	return r.Logger
}
