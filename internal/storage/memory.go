package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryBackend keeps values in a process-local map. Nothing survives a
// restart; it backs the "memory" and "ephemeral" storage types.
type memoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{items: make(map[string][]byte)}
}

func (m *memoryBackend) Open(ctx context.Context) error { return nil }

func (m *memoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *memoryBackend) Set(ctx context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.items[key] = cp
	return nil
}

func (m *memoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memoryBackend) Close() error { return nil }
