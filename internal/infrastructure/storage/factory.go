// Package storage provides the local persistent key/value backends that
// both the history store and the persistent cache tier write to.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

// Open builds the configured backend under dir, wrapped in the quota guard.
func Open(ctx context.Context, backend, dir string, quota int64) (ports.KeyValueStore, error) {
	var inner ports.KeyValueStore
	switch backend {
	case "", "bolt":
		store, err := NewBoltStore(filepath.Join(dir, "flowcard.db"))
		if err != nil {
			return nil, err
		}
		inner = store
	case "sqlite":
		store, err := NewSQLiteStore(filepath.Join(dir, "flowcard.sqlite"))
		if err != nil {
			return nil, err
		}
		inner = store
	case "file":
		inner = NewFileStore(filepath.Join(dir, "slots"))
	case "memory":
		inner = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}

	store, err := NewQuotaStore(ctx, inner, quota)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return store, nil
}

// DefaultQuota returns quota, or the default budget when quota is unset.
func DefaultQuota(quota int64) int64 {
	if quota <= 0 {
		return domain.DefaultQuotaBytes
	}
	return quota
}
