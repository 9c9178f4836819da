package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/ports"
)

// Service is the cached card list.
type Service struct {
	source    ports.CardSource
	cache     ports.CacheStore
	ttl       time.Duration
	refresher *Refresher[[]domain.Card]
}

// Options tune a Service.
type Options struct {
	TTL      time.Duration
	Cooldown time.Duration
	Notifier ports.Notifier
	Logger   ports.Logger
	Now      func() time.Time
}

// NewService builds the catalog over source, caching under cards:list.
func NewService(source ports.CardSource, store ports.CacheStore, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = domain.DefaultCatalogTTL
	}
	return &Service{
		source: source,
		cache:  store,
		ttl:    opts.TTL,
		refresher: &Refresher[[]domain.Card]{
			Cache:    store,
			Key:      domain.CardsCacheKey,
			TTL:      opts.TTL,
			Cooldown: opts.Cooldown,
			Load:     source.ListCards,
			Notifier: opts.Notifier,
			Logger:   opts.Logger,
			Now:      opts.Now,
		},
	}
}

// List returns the cards, loading them on a cache miss.
func (s *Service) List(ctx context.Context) ([]domain.Card, error) {
	return cache.GetOrLoad(ctx, s.cache, domain.CardsCacheKey, s.ttl, s.source.ListCards)
}

// Find returns one card by id.
func (s *Service) Find(ctx context.Context, id string) (domain.Card, error) {
	cards, err := s.List(ctx)
	if err != nil {
		return domain.Card{}, err
	}
	for _, card := range cards {
		if card.ID == id {
			return card, nil
		}
	}
	return domain.Card{}, fmt.Errorf("card %q: %w", id, domain.ErrNotFound)
}

// Sync refreshes the cached list now, subject to the refresh cooldown.
func (s *Service) Sync(ctx context.Context) (RefreshOutcome, error) {
	return s.refresher.Refresh(ctx)
}

// RunSync keeps the list fresh until ctx is done.
func (s *Service) RunSync(ctx context.Context, interval time.Duration) {
	s.refresher.Run(ctx, interval)
}

// Invalidate drops the cached list.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, domain.CardsCacheKey)
}
