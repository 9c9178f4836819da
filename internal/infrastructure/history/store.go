package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/metrics"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

// Options tune a Store. Zero values fall back to defaults.
type Options struct {
	Key         string
	MaxItems    int
	CleanupKeep int
	Metrics     ports.Metrics
	Logger      ports.Logger
	Now         func() time.Time
	NewID       func() (string, error)
}

// Store keeps execution history as one bounded JSON list under a single
// KeyValueStore slot. The list is held in memory after the first read and
// every mutation writes memory and storage under one mutex.
type Store struct {
	kv          ports.KeyValueStore
	key         string
	maxItems    int
	cleanupKeep int
	metrics     ports.Metrics
	log         ports.Logger
	now         func() time.Time
	newID       func() (string, error)

	mu     sync.Mutex
	loaded bool
	// items is most-recent-first.
	items []domain.HistoryItem
}

// New builds a Store over kv.
func New(kv ports.KeyValueStore, opts Options) *Store {
	s := &Store{
		kv:          kv,
		key:         opts.Key,
		maxItems:    opts.MaxItems,
		cleanupKeep: opts.CleanupKeep,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.key == "" {
		s.key = domain.HistoryStorageKey
	}
	if s.maxItems <= 0 {
		s.maxItems = domain.DefaultMaxHistoryItems
	}
	if s.cleanupKeep <= 0 {
		s.cleanupKeep = domain.DefaultHistoryCleanupKeep
	}
	if s.cleanupKeep > s.maxItems {
		s.cleanupKeep = s.maxItems
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
	if s.newID == nil {
		s.newID = newUUIDv7
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create stores a pending record and returns its id.
func (s *Store) Create(ctx context.Context, item domain.NewHistoryItem) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("history id: %w", err)
	}
	record := domain.HistoryItem{
		ID:         id,
		CardID:     item.CardID,
		CardTitle:  item.CardTitle,
		WorkflowID: item.WorkflowID,
		Inputs:     domain.CloneParameters(item.Inputs),
		Timestamp:  s.now().UnixMilli(),
	}
	if record.Inputs == nil {
		record.Inputs = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return "", err
	}
	next := make([]domain.HistoryItem, 0, len(s.items)+1)
	next = append(next, record)
	next = append(next, s.items...)
	if err := s.commit(ctx, next); err != nil {
		return "", fmt.Errorf("history create: %w", err)
	}
	return id, nil
}

// Update applies patch to the record with id. It returns false when the id
// is unknown.
func (s *Store) Update(ctx context.Context, id string, patch domain.HistoryPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return false, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return false, nil
	}
	next := make([]domain.HistoryItem, len(s.items))
	copy(next, s.items)
	next[idx] = s.items[idx].WithPatch(patch)
	if err := s.commit(ctx, next); err != nil {
		return false, fmt.Errorf("history update %s: %w", id, err)
	}
	// Cleanup after a full store may have dropped the record.
	return s.indexOf(id) >= 0, nil
}

// Get returns a copy of one record.
func (s *Store) Get(ctx context.Context, id string) (domain.HistoryItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return domain.HistoryItem{}, false, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.HistoryItem{}, false, nil
	}
	return s.items[idx].Clone(), true, nil
}

// Query filters, sorts and pages the records.
func (s *Store) Query(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	matched := make([]domain.HistoryItem, 0, len(s.items))
	for _, item := range s.items {
		if q.CardID != "" && item.CardID != q.CardID {
			continue
		}
		if q.Status != "" && item.Status() != q.Status {
			continue
		}
		matched = append(matched, item)
	}

	sortItems(matched, q.SortBy, q.SortOrder)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []domain.HistoryItem{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	out := make([]domain.HistoryItem, len(matched))
	for i, item := range matched {
		out[i] = item.Clone()
	}
	return out, nil
}

func sortItems(items []domain.HistoryItem, by domain.HistorySortKey, order domain.SortOrder) {
	desc := order != domain.SortAsc
	key := func(item domain.HistoryItem) float64 {
		if by == domain.SortByExecutionTime {
			if item.ExecutionTimeSeconds == nil {
				return 0
			}
			return *item.ExecutionTimeSeconds
		}
		return float64(item.Timestamp)
	}
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := key(items[i]), key(items[j])
		if ki == kj {
			if desc {
				return items[i].ID > items[j].ID
			}
			return items[i].ID < items[j].ID
		}
		if desc {
			return ki > kj
		}
		return ki < kj
	})
}

// Stats aggregates the records of one card, or of all cards when cardID is
// empty. Pending records count as running.
func (s *Store) Stats(ctx context.Context, cardID string) (domain.HistoryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return domain.HistoryStats{}, err
	}

	var (
		stats  domain.HistoryStats
		timed  int
		sumSec float64
	)
	for _, item := range s.items {
		if cardID != "" && item.CardID != cardID {
			continue
		}
		stats.Total++
		switch item.Status() {
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		case domain.StatusRunning:
			stats.Running++
		default:
			stats.Running++
			stats.Pending++
		}
		if item.ExecutionTimeSeconds != nil {
			timed++
			sumSec += *item.ExecutionTimeSeconds
		}
	}
	if timed > 0 {
		avg := sumSec / float64(timed)
		stats.AvgExecutionTime = &avg
	}
	return stats, nil
}

// DeleteMany removes the given ids and returns how many were removed.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	next := make([]domain.HistoryItem, 0, len(s.items))
	for _, item := range s.items {
		if _, ok := drop[item.ID]; ok {
			continue
		}
		next = append(next, item)
	}
	removed := len(s.items) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.commit(ctx, next); err != nil {
		return 0, fmt.Errorf("history delete: %w", err)
	}
	return removed, nil
}

// ClearAll drops every record.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	s.items = nil
	s.loaded = true
	s.metrics.HistorySize(0)
	return nil
}

// ExportAll serializes the records of one card (or all) as an indented JSON
// array in storage order.
func (s *Store) ExportAll(ctx context.Context, cardID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.HistoryItem, 0, len(s.items))
	for _, item := range s.items {
		if cardID == "" || item.CardID == cardID {
			out = append(out, item)
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("history export: %w", err)
	}
	return data, nil
}

// ImportAll loads a JSON array of records. With merge, ids already present
// are skipped; otherwise the imported set replaces the current one. Malformed
// records are dropped. It returns the number of records taken.
func (s *Store) ImportAll(ctx context.Context, data []byte, merge bool) (int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return 0, fmt.Errorf("history import: %w: expected a JSON array: %v", domain.ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}

	var next []domain.HistoryItem
	seen := make(map[string]struct{})
	if merge {
		next = make([]domain.HistoryItem, 0, len(s.items)+len(raws))
		for _, item := range s.items {
			next = append(next, item)
			seen[item.ID] = struct{}{}
		}
	}
	imported := 0
	for _, raw := range raws {
		item, ok := decodeRecord(raw)
		if !ok {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		next = append(next, item)
		imported++
	}
	sortItems(next, domain.SortByTimestamp, domain.SortDesc)
	if err := s.commit(ctx, next); err != nil {
		return 0, fmt.Errorf("history import: %w", err)
	}
	s.log.Info("history imported", map[string]interface{}{
		"imported": imported,
		"merge":    merge,
		"total":    len(s.items),
	})
	return imported, nil
}

// load reads the persisted list once. Unreadable records are dropped.
func (s *Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("history load: %w", err)
	}
	s.loaded = true
	s.items = nil
	if !ok {
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		s.log.Warn("history slot unreadable, starting empty", map[string]interface{}{"error": err.Error()})
		return nil
	}
	items := make([]domain.HistoryItem, 0, len(raws))
	for _, r := range raws {
		if item, ok := decodeRecord(r); ok {
			items = append(items, item)
		}
	}
	sortItems(items, domain.SortByTimestamp, domain.SortDesc)
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}
	s.items = items
	s.metrics.HistorySize(len(items))
	return nil
}

// commit caps next and persists it. When storage is full only the most
// recent cleanupKeep records are kept and the write is retried once.
func (s *Store) commit(ctx context.Context, next []domain.HistoryItem) error {
	if len(next) > s.maxItems {
		next = next[:s.maxItems]
	}
	err := s.write(ctx, next)
	if errors.Is(err, domain.ErrStorageFull) && len(next) > s.cleanupKeep {
		s.log.Warn("history storage full, trimming", map[string]interface{}{
			"from": len(next),
			"to":   s.cleanupKeep,
		})
		next = next[:s.cleanupKeep]
		err = s.write(ctx, next)
	}
	if err != nil {
		return err
	}
	s.items = next
	s.metrics.HistorySize(len(next))
	return nil
}

func (s *Store) write(ctx context.Context, items []domain.HistoryItem) error {
	if items == nil {
		items = []domain.HistoryItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}

func (s *Store) indexOf(id string) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// decodeRecord accepts records carrying an id, a card id and a creation time.
func decodeRecord(raw json.RawMessage) (domain.HistoryItem, bool) {
	var item domain.HistoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.HistoryItem{}, false
	}
	if item.ID == "" || item.CardID == "" || item.Timestamp <= 0 {
		return domain.HistoryItem{}, false
	}
	if item.Result != nil {
		if !item.Result.Status.Valid() {
			return domain.HistoryItem{}, false
		}
		res := item.Result.Normalize()
		item.Result = &res
	}
	if item.Inputs == nil {
		item.Inputs = map[string]any{}
	}
	return item, true
}

var _ ports.HistoryStore = (*Store)(nil)
