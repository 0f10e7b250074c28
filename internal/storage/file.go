package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// fileBackend is the durable backend: a single msgpack snapshot file
// holding the full key map, rewritten atomically after every mutation.
type fileBackend struct {
	path string

	mu    sync.Mutex
	items map[string][]byte
}

func newFileBackend(path string) *fileBackend {
	return &fileBackend{path: path, items: make(map[string][]byte)}
}

func (f *fileBackend) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(data, &f.items); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

// save rewrites the snapshot via a temp file + rename so a crash mid-write
// cannot truncate the previous snapshot. Callers hold f.mu.
func (f *fileBackend) save() error {
	data, err := msgpack.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *fileBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (f *fileBackend) Set(ctx context.Context, key string, data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.items[key] = cp
	return f.save()
}

func (f *fileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return nil
	}
	delete(f.items, key)
	return f.save()
}

func (f *fileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fileBackend) Close() error { return nil }
