package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/provider/memory"
)

func newStorageBackend(t *testing.T) (*StorageBackend, *memory.Provider) {
	t.Helper()
	store := memory.New(memory.Config{})
	cfg := &Config{Size: "1M"}
	backend, err := NewStorageBackend("remote", store, cfg)
	require.NoError(t, err)
	return backend, store
}

func TestStorageBackendPopulatesBackingStore(t *testing.T) {
	backend, store := newStorageBackend(t)
	ctx := context.Background()
	var fetches atomic.Int64

	data, err := backend.Read(ctx, "obj", "e1", fetchBytes("remote body", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("remote body"), data)
	require.EqualValues(t, 1, fetches.Load())

	// The body now lives in the backing store under the fingerprint.
	ok, err := store.IsFile(ctx, Fingerprint("remote", "obj"))
	require.NoError(t, err)
	require.True(t, ok)

	// Subsequent reads with the same ETag come from the backing store.
	data, err = backend.Read(ctx, "obj", "e1", fetchBytes("remote body", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("remote body"), data)
	require.EqualValues(t, 1, fetches.Load())
}

func TestStorageBackendETagInvalidates(t *testing.T) {
	backend, _ := newStorageBackend(t)
	ctx := context.Background()
	var fetches atomic.Int64

	_, err := backend.Read(ctx, "obj", "A", fetchBytes("old", &fetches))
	require.NoError(t, err)

	data, err := backend.Read(ctx, "obj", "B", fetchBytes("new", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), data)
	require.EqualValues(t, 2, fetches.Load())
}

func TestStorageBackendHasNoLocalPaths(t *testing.T) {
	backend, _ := newStorageBackend(t)

	_, ok, err := backend.LocalPath(context.Background(), "obj", "", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStorageBackendDeleteAndRefreshAreSafe(t *testing.T) {
	backend, _ := newStorageBackend(t)
	ctx := context.Background()

	_, err := backend.Read(ctx, "obj", "", fetchBytes("x", nil))
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, "obj"))
	require.NoError(t, backend.Delete(ctx, "obj"), "missing entry is not an error")

	// Eviction is a no-op in this mode.
	require.NoError(t, backend.Refresh(ctx))
}
