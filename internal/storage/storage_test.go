package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Config{Type: BackendMemory, KeyPrefix: "t_"})
	require.NoError(t, err)
	require.NoError(t, st.Open(context.Background()))
	return st
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)

	require.NoError(t, st.Set(ctx, "user", []byte(`{"id":"u1"}`), 0))

	got, ok, err := st.Get(ctx, "user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"id":"u1"}`), got)
}

func TestGetAbsentKey(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)

	_, ok, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiryPurgesOnRead(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	require.NoError(t, st.Set(ctx, "k", []byte("v"), time.Second))

	got, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(1500 * time.Millisecond)

	_, ok, err = st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "k")
}

func TestCleanupSweepsExpired(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	require.NoError(t, st.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, st.Set(ctx, "long", []byte("b"), time.Hour))
	require.NoError(t, st.Set(ctx, "forever", []byte("c"), 0))

	now = now.Add(2 * time.Second)
	require.NoError(t, st.Cleanup(ctx))

	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"long", "forever"}, keys)
}

func TestCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	st, err := New(Config{Type: BackendMemory, KeyPrefix: "t_", MaxValueBytes: 64})
	require.NoError(t, err)
	require.NoError(t, st.Open(ctx))

	err = st.Set(ctx, "big", make([]byte, 128), 0)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, OpSet, serr.Op)

	_, ok, err := st.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	a := NewWithBackend(backend, "a_", 0)
	b := NewWithBackend(backend, "b_", 0)

	require.NoError(t, a.Set(ctx, "k", []byte("from-a"), 0))
	require.NoError(t, b.Set(ctx, "k", []byte("from-b"), 0))

	got, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-a"), got)

	// Clearing one namespace must not touch the other.
	require.NoError(t, a.Clear(ctx))

	_, ok, err = a.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-b"), got)
}

func TestKeysAndSizeBytes(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)

	require.NoError(t, st.Set(ctx, "one", []byte("1"), 0))
	require.NoError(t, st.Set(ctx, "two", []byte("22"), 0))

	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, keys)

	size, err := st.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(t)
	require.NoError(t, st.Remove(ctx, "never-set"))
}

func TestFileBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	st, err := New(Config{Type: BackendFile, KeyPrefix: "t_", Path: path})
	require.NoError(t, err)
	require.NoError(t, st.Open(ctx))
	require.NoError(t, st.Set(ctx, "user", []byte("persisted"), 0))
	require.NoError(t, st.Close())

	st2, err := New(Config{Type: BackendFile, KeyPrefix: "t_", Path: path})
	require.NoError(t, err)
	require.NoError(t, st2.Open(ctx))

	got, ok, err := st2.Get(ctx, "user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
}

func TestFileBackendRequiresPath(t *testing.T) {
	_, err := New(Config{Type: BackendFile})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, OpInit, serr.Op)
}

func TestStorageTypeAliases(t *testing.T) {
	st, err := New(Config{Type: "ephemeral"})
	require.NoError(t, err)
	require.NoError(t, st.Open(context.Background()))

	_, err = New(Config{Type: "durable", Path: filepath.Join(t.TempDir(), "kv")})
	require.NoError(t, err)

	_, err = New(Config{Type: "bogus"})
	require.Error(t, err)
}
