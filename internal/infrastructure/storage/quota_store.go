package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

// QuotaStore enforces a byte budget over another store, the way browser
// local storage does: the budget counts key and value bytes of every slot.
type QuotaStore struct {
	inner ports.KeyValueStore
	quota int64

	mu    sync.Mutex
	used  int64
	sizes map[string]int64
}

// NewQuotaStore wraps inner, measuring the bytes it already holds.
// A quota <= 0 disables the limit.
func NewQuotaStore(ctx context.Context, inner ports.KeyValueStore, quota int64) (*QuotaStore, error) {
	q := &QuotaStore{inner: inner, quota: quota, sizes: make(map[string]int64)}
	keys, err := inner.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("measure storage: %w", err)
	}
	for _, k := range keys {
		v, ok, err := inner.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("measure storage: %w", err)
		}
		if ok {
			q.sizes[k] = slotSize(k, v)
			q.used += q.sizes[k]
		}
	}
	return q, nil
}

// Get reads through.
func (q *QuotaStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return q.inner.Get(ctx, key)
}

// Set fails with domain.ErrStorageFull when the write would exceed the quota.
func (q *QuotaStore) Set(ctx context.Context, key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := slotSize(key, value)
	next := q.used - q.sizes[key] + size
	if q.quota > 0 && next > q.quota {
		return fmt.Errorf("write %q (%d bytes, %d/%d used): %w", key, size, q.used, q.quota, domain.ErrStorageFull)
	}
	if err := q.inner.Set(ctx, key, value); err != nil {
		return err
	}
	q.used = next
	q.sizes[key] = size
	return nil
}

// Delete releases the slot's bytes.
func (q *QuotaStore) Delete(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.Delete(ctx, key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

// Keys reads through.
func (q *QuotaStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return q.inner.Keys(ctx, prefix)
}

// Used returns the bytes currently counted against the quota.
func (q *QuotaStore) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Quota returns the configured budget.
func (q *QuotaStore) Quota() int64 {
	return q.quota
}

// Close closes the wrapped store.
func (q *QuotaStore) Close() error {
	return q.inner.Close()
}

func slotSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

var _ ports.KeyValueStore = (*QuotaStore)(nil)
