package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/metrics"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

const (
	tierMemory     = "memory"
	tierPersistent = "persistent"
)

// Lookup is the answer of one tier for one key. Hit with a JSON null Data is
// still a hit. Expired marks a miss caused by a stale entry that was dropped.
type Lookup struct {
	Hit       bool
	Data      json.RawMessage
	ExpiresAt int64
	Expired   bool
}

func miss() Lookup { return Lookup{} }

// Options tune a Store. Zero values fall back to defaults.
type Options struct {
	DefaultTTL time.Duration
	Metrics    ports.Metrics
	Logger     ports.Logger
	Now        func() time.Time
}

// Store is the two-tier expiring cache: a memory map in front of
// KeyValueStore slots named cache:<key>. The memory tier is authoritative for
// the running process; the persistent tier is written best-effort.
type Store struct {
	kv         ports.KeyValueStore
	defaultTTL time.Duration
	metrics    ports.Metrics
	log        ports.Logger
	now        func() time.Time

	mu  sync.Mutex
	mem map[string]domain.CacheEntry
	// gone holds keys whose persistent slot could not be removed. They are
	// treated as absent until the next Set.
	gone map[string]struct{}
}

// New builds a Store over kv.
func New(kv ports.KeyValueStore, opts Options) *Store {
	s := &Store{
		kv:         kv,
		defaultTTL: opts.DefaultTTL,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		now:        opts.Now,
		mem:        make(map[string]domain.CacheEntry),
		gone:       make(map[string]struct{}),
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = domain.DefaultCacheTTL
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Set caches value under key for ttl (the store default when ttl <= 0).
// Only an encoding failure is returned; persistent tier failures are logged.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("cache set: %w: empty key", domain.ErrInvalidArgument)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %q: encode: %w", key, err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	entry := domain.CacheEntry{Data: data, ExpiresAt: s.now().Add(ttl).UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[key] = entry
	delete(s.gone, key)
	s.persist(ctx, key, entry)
	return nil
}

func (s *Store) persist(ctx context.Context, key string, entry domain.CacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		s.writeFailed(key, err)
		return
	}
	err = s.kv.Set(ctx, slotKey(key), raw)
	if errors.Is(err, domain.ErrStorageFull) {
		if _, purgeErr := s.purgeExpiredLocked(ctx); purgeErr == nil {
			err = s.kv.Set(ctx, slotKey(key), raw)
		}
	}
	if err != nil {
		s.writeFailed(key, err)
	}
}

func (s *Store) writeFailed(key string, err error) {
	s.metrics.CacheWriteFailed()
	s.log.Warn("cache persistent write failed", map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	})
}

// Get returns the cached JSON for key. The memory tier is consulted first; an
// unexpired persistent entry is promoted back into memory.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMS := s.now().UnixMilli()
	memHit := s.lookupMemory(key, nowMS)
	if memHit.Hit {
		s.metrics.CacheHit(tierMemory)
		return cloneRaw(memHit.Data), true
	}
	hit := s.lookupPersistent(ctx, key, nowMS)
	if !hit.Hit {
		if memHit.Expired || hit.Expired {
			s.metrics.CacheExpired()
		}
		s.metrics.CacheMiss()
		return nil, false
	}
	s.mem[key] = domain.CacheEntry{Data: hit.Data, ExpiresAt: hit.ExpiresAt}
	s.metrics.CacheHit(tierPersistent)
	return cloneRaw(hit.Data), true
}

// Has reports whether Get would return a value.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

func (s *Store) lookupMemory(key string, nowMS int64) Lookup {
	entry, ok := s.mem[key]
	if !ok {
		return miss()
	}
	if entry.Expired(nowMS) {
		delete(s.mem, key)
		return Lookup{Expired: true}
	}
	return Lookup{Hit: true, Data: entry.Data, ExpiresAt: entry.ExpiresAt}
}

func (s *Store) lookupPersistent(ctx context.Context, key string, nowMS int64) Lookup {
	if _, removed := s.gone[key]; removed {
		return miss()
	}
	raw, ok, err := s.kv.Get(ctx, slotKey(key))
	if err != nil {
		s.log.Warn("cache persistent read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return miss()
	}
	if !ok {
		return miss()
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Data == nil {
		s.log.Debug("dropping unreadable cache slot", map[string]interface{}{"key": key})
		_ = s.kv.Delete(ctx, slotKey(key))
		return miss()
	}
	if entry.Expired(nowMS) {
		_ = s.kv.Delete(ctx, slotKey(key))
		return Lookup{Expired: true}
	}
	return Lookup{Hit: true, Data: entry.Data, ExpiresAt: entry.ExpiresAt}
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem, key)
	if err := s.kv.Delete(ctx, slotKey(key)); err != nil {
		s.gone[key] = struct{}{}
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	delete(s.gone, key)
	return nil
}

// Clear drops every cached entry from both tiers.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.mem {
		delete(s.mem, key)
	}
	slots, err := s.kv.Keys(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return fmt.Errorf("cache clear: list slots: %w", err)
	}
	var errs []error
	for _, slot := range slots {
		if err := s.kv.Delete(ctx, slot); err != nil {
			s.gone[strings.TrimPrefix(slot, domain.CacheKeyPrefix)] = struct{}{}
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cache clear: %w", errors.Join(errs...))
	}
	return nil
}

// Keys lists the keys that currently hold an unexpired value, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMS := s.now().UnixMilli()
	seen := make(map[string]struct{})
	for key, entry := range s.mem {
		if !entry.Expired(nowMS) {
			seen[key] = struct{}{}
		}
	}
	slots, err := s.kv.Keys(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	for _, slot := range slots {
		key := strings.TrimPrefix(slot, domain.CacheKeyPrefix)
		if _, ok := seen[key]; ok {
			continue
		}
		if _, removed := s.gone[key]; removed {
			continue
		}
		entry, ok := s.readSlot(ctx, slot)
		if ok && !entry.Expired(nowMS) {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Entry returns the live entry for key with its expiry, for inspection.
func (s *Store) Entry(ctx context.Context, key string) (domain.CacheEntry, bool) {
	data, ok := s.Get(ctx, key)
	if !ok {
		return domain.CacheEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.mem[key]
	return domain.CacheEntry{Key: key, Data: data, ExpiresAt: entry.ExpiresAt}, true
}

// PurgeExpired deletes every expired persistent slot and memory entry.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(ctx)
}

func (s *Store) purgeExpiredLocked(ctx context.Context) (int, error) {
	nowMS := s.now().UnixMilli()
	for key, entry := range s.mem {
		if entry.Expired(nowMS) {
			delete(s.mem, key)
		}
	}
	slots, err := s.kv.Keys(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	purged := 0
	for _, slot := range slots {
		entry, ok := s.readSlot(ctx, slot)
		if ok && !entry.Expired(nowMS) {
			continue
		}
		if err := s.kv.Delete(ctx, slot); err != nil {
			return purged, fmt.Errorf("cache purge %q: %w", slot, err)
		}
		purged++
	}
	if purged > 0 {
		s.log.Debug("purged expired cache slots", map[string]interface{}{"count": purged})
	}
	return purged, nil
}

// readSlot decodes one persistent slot. Unreadable slots report ok=false.
func (s *Store) readSlot(ctx context.Context, slot string) (domain.CacheEntry, bool) {
	raw, ok, err := s.kv.Get(ctx, slot)
	if err != nil || !ok {
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Data == nil {
		return domain.CacheEntry{}, false
	}
	return entry, true
}

func slotKey(key string) string {
	return domain.CacheKeyPrefix + key
}

func cloneRaw(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}

var _ ports.CacheStore = (*Store)(nil)
