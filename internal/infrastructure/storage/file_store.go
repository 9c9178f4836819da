package storage

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

// FileStore stores each slot as its own file, named by the base64url key.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Get reads a slot.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set writes a slot through a temp file so readers never see half a value.
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(f.dir, domain.DirectoryPermissions); err != nil {
		return err
	}
	path := f.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, domain.SecureFilePermissions); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes a slot.
func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys lists slot names (best-effort: undecodable file names are skipped).
func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	files, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(file.Name(), ".json"))
		if err != nil {
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Dir exposes the storage directory path.
func (f *FileStore) Dir() string {
	return f.dir
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) pathFor(key string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

var _ ports.KeyValueStore = (*FileStore)(nil)
