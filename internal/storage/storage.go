// Package storage provides the persistent key-value store used by the
// identity and session stores. Keys are namespaced with a configured
// prefix, values are wrapped in a msgpack envelope carrying the write
// timestamp and an optional TTL, and the backend is pluggable.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// BackendType selects the persistence backend.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendFile   BackendType = "file"
	BackendRedis  BackendType = "redis"
)

// DefaultMaxValueBytes caps one serialized stored value at 1 MiB.
const DefaultMaxValueBytes = 1 << 20

// DefaultKeyPrefix namespaces all keys touched by the SDK.
const DefaultKeyPrefix = "pulsekit_"

// Config configures the store and its backend.
type Config struct {
	Type          BackendType `env:"TYPE" envDefault:"memory"`
	KeyPrefix     string      `env:"KEY_PREFIX" envDefault:"pulsekit_"`
	MaxValueBytes int         `env:"MAX_VALUE_BYTES" envDefault:"1048576"`
	// Path is the snapshot file location for the file backend.
	Path string `env:"PATH"`
	// RedisURL configures the redis backend, e.g. "redis://127.0.0.1/".
	RedisURL string `env:"REDIS_URL"`
}

// Backend is the raw byte-level contract the store drives. Keys arriving
// here are already prefixed. The ttl passed to Set is advisory: backends
// with native expiry may honor it, the envelope TTL is authoritative.
type Backend interface {
	Open(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// item is the serialized envelope around every stored value.
type item struct {
	Value       []byte `msgpack:"value"`
	TimestampMS int64  `msgpack:"timestamp_ms"`
	TTLMS       int64  `msgpack:"ttl_ms"`
}

func (it item) expired(now time.Time) bool {
	if it.TTLMS <= 0 {
		return false
	}
	return now.UnixMilli()-it.TimestampMS > it.TTLMS
}

// Store is the prefixed, TTL-aware key-value store.
type Store struct {
	backend       Backend
	prefix        string
	maxValueBytes int
	now           func() time.Time
}

// New builds a store for the configured backend. The backend is not
// touched until Open is called.
func New(cfg Config) (*Store, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.MaxValueBytes <= 0 {
		cfg.MaxValueBytes = DefaultMaxValueBytes
	}

	var backend Backend
	switch cfg.Type {
	case BackendMemory, "", "ephemeral":
		backend = newMemoryBackend()
	case BackendFile, "durable":
		if cfg.Path == "" {
			return nil, &Error{Op: OpInit, Err: fmt.Errorf("file backend requires a path")}
		}
		backend = newFileBackend(cfg.Path)
	case BackendRedis:
		rb, err := newRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, &Error{Op: OpInit, Err: err}
		}
		backend = rb
	default:
		return nil, &Error{Op: OpInit, Err: fmt.Errorf("unknown backend type %q", cfg.Type)}
	}

	return &Store{
		backend:       backend,
		prefix:        cfg.KeyPrefix,
		maxValueBytes: cfg.MaxValueBytes,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewWithBackend builds a store over a caller-supplied backend.
func NewWithBackend(backend Backend, keyPrefix string, maxValueBytes int) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if maxValueBytes <= 0 {
		maxValueBytes = DefaultMaxValueBytes
	}
	return &Store{
		backend:       backend,
		prefix:        keyPrefix,
		maxValueBytes: maxValueBytes,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Open readies the backend (file load, redis ping).
func (s *Store) Open(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return &Error{Op: OpInit, Err: err}
	}
	return nil
}

// Close releases backend resources.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Set serializes value into the TTL envelope and writes it. A ttl of zero
// means the item never expires. Fails with ErrCapacityExceeded when the
// serialized envelope is larger than the configured ceiling.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{
		Value:       value,
		TimestampMS: s.now().UnixMilli(),
	}
	if ttl > 0 {
		it.TTLMS = ttl.Milliseconds()
	}
	data, err := msgpack.Marshal(it)
	if err != nil {
		return &Error{Op: OpSet, Key: key, Err: err}
	}
	if len(data) > s.maxValueBytes {
		return &Error{Op: OpSet, Key: key, Err: fmt.Errorf("%w: %d bytes > %d", ErrCapacityExceeded, len(data), s.maxValueBytes)}
	}
	if err := s.backend.Set(ctx, s.prefix+key, data, ttl); err != nil {
		return &Error{Op: OpSet, Key: key, Err: err}
	}
	return nil
}

// Get returns the stored value, or ok=false when the key is absent.
// Expired items are purged on read and reported as absent; there is no
// background sweep (see Cleanup).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.backend.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, false, &Error{Op: OpGet, Key: key, Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	var it item
	if err := msgpack.Unmarshal(data, &it); err != nil {
		return nil, false, &Error{Op: OpGet, Key: key, Err: err}
	}
	if it.expired(s.now()) {
		if err := s.backend.Delete(ctx, s.prefix+key); err != nil {
			return nil, false, &Error{Op: OpRemove, Key: key, Err: err}
		}
		return nil, false, nil
	}
	return it.Value, true, nil
}

// Remove deletes one key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.prefix+key); err != nil {
		return &Error{Op: OpRemove, Key: key, Err: err}
	}
	return nil
}

// Clear removes every key under the store's prefix. Keys outside the
// prefix are never touched.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return &Error{Op: OpClear, Err: err}
	}
	for _, k := range keys {
		if err := s.backend.Delete(ctx, k); err != nil {
			return &Error{Op: OpClear, Key: k, Err: err}
		}
	}
	return nil
}

// Keys lists the unprefixed keys currently present in the backend.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return nil, &Error{Op: OpGet, Err: err}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(s.prefix):])
	}
	return out, nil
}

// SizeBytes reports the total serialized size of all stored values.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, &Error{Op: OpGet, Err: err}
	}
	var total int64
	for _, k := range keys {
		data, ok, err := s.backend.Get(ctx, k)
		if err != nil {
			return 0, &Error{Op: OpGet, Key: k, Err: err}
		}
		if ok {
			total += int64(len(data))
		}
	}
	return total, nil
}

// Cleanup eagerly sweeps all keys, purging expired items. Callers that
// can live with lazy purge-on-read never need it.
func (s *Store) Cleanup(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, _, err := s.Get(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
