package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/cache"
	"github.com/voegtlel/multi-storage-client/pkg/provider/memory"
	"github.com/voegtlel/multi-storage-client/pkg/provider/posix"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

func newMemoryClient(t *testing.T) *StorageClient {
	t.Helper()
	c, err := New(Options{Profile: "test", Storage: memory.New(memory.Config{})})
	require.NoError(t, err)
	return c
}

func newPosixClient(t *testing.T, basePath string) *StorageClient {
	t.Helper()
	p, err := posix.New(posix.Config{BasePath: basePath})
	require.NoError(t, err)
	c, err := New(Options{Profile: "default", Storage: p})
	require.NoError(t, err)
	return c
}

func TestPosixRoundTrip(t *testing.T) {
	c := newPosixClient(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "a/b.txt", []byte("hello")))

	data, err := c.Read(ctx, "a/b.txt", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	meta, err := c.Info(ctx, "a/b.txt", true)
	require.NoError(t, err)
	require.EqualValues(t, 5, meta.ContentLength)
}

func TestReadRange(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "r", []byte("0123456789")))

	data, err := c.Read(ctx, "r", &types.Range{Offset: 4, Size: 3})
	require.NoError(t, err)
	require.Equal(t, []byte("456"), data)
}

func TestDeleteIdempotence(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "victim", []byte("x")))
	require.NoError(t, c.Delete(ctx, "victim"))

	// Deleting again succeeds.
	require.NoError(t, c.Delete(ctx, "victim"))

	_, err := c.Read(ctx, "victim", nil)
	require.ErrorIs(t, err, types.ErrNotFound)

	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "read", storageErr.Op)
	require.Equal(t, "test", storageErr.Profile)
}

func TestInfoStrictAndSentinel(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	_, err := c.Info(ctx, "missing", true)
	require.ErrorIs(t, err, types.ErrNotFound)

	meta, err := c.Info(ctx, "missing", false)
	require.NoError(t, err)
	require.Equal(t, types.ObjectTypeFile, meta.Type)
	require.EqualValues(t, 0, meta.ContentLength)
}

func TestGlobSemantics(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	for _, key := range []string{"a/b/c.tar", "a/d.tar", "a/b/e.txt"} {
		require.NoError(t, c.Write(ctx, key, []byte("x")))
	}

	matched, err := c.Glob(ctx, "**/*.tar")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a/b/c.tar", "a/d.tar"}, matched)

	matched, err = c.Glob(ctx, "a/*.tar")
	require.NoError(t, err)
	require.Equal(t, []string{"a/d.tar"}, matched)
}

func TestCopy(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "src", []byte("body")))
	require.NoError(t, c.Copy(ctx, "src", "dst"))

	data, err := c.Read(ctx, "dst", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("body"), data)
}

func TestIsFileAndIsEmpty(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	empty, err := c.IsEmpty(ctx, "pre/")
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, c.Write(ctx, "pre/obj", []byte("x")))

	ok, err := c.IsFile(ctx, "pre/obj")
	require.NoError(t, err)
	require.True(t, ok)

	empty, err = c.IsEmpty(ctx, "pre/")
	require.NoError(t, err)
	require.False(t, empty)
}

func TestOpenWriteCommitsOnClose(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	handle, err := c.Open(ctx, "written/file", "wb")
	require.NoError(t, err)
	_, err = handle.Write([]byte("first "))
	require.NoError(t, err)
	_, err = handle.Write([]byte("second"))
	require.NoError(t, err)

	// Nothing visible until the handle commits.
	_, err = c.Read(ctx, "written/file", nil)
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, handle.Close())

	data, err := c.Read(ctx, "written/file", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("first second"), data)
}

func TestOpenReadStagesObject(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "readable", []byte("staged body")))

	handle, err := c.Open(ctx, "readable", "rb")
	require.NoError(t, err)
	defer handle.Close()

	buf := make([]byte, 6)
	_, err = handle.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), buf)

	// Seek works on the staged copy.
	_, err = handle.Seek(7, 0)
	require.NoError(t, err)
	rest := make([]byte, 4)
	_, err = handle.Read(rest)
	require.NoError(t, err)
	require.Equal(t, []byte("body"), rest)
}

func TestOpenPosixReadsInPlace(t *testing.T) {
	dir := t.TempDir()
	c := newPosixClient(t, dir)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "local.txt", []byte("posix")))

	handle, err := c.Open(ctx, "local.txt", "rb")
	require.NoError(t, err)
	defer handle.Close()

	buf := make([]byte, 5)
	_, err = handle.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("posix"), buf)
}

func TestOpenRejectsUnknownMode(t *testing.T) {
	c := newMemoryClient(t)
	_, err := c.Open(context.Background(), "x", "rw+")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestUploadDownloadFile(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()
	dir := t.TempDir()

	local := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(local, []byte("file content"), 0o644))

	require.NoError(t, c.UploadFile(ctx, "remote/in.bin", local))

	out := filepath.Join(dir, "nested", "out.bin")
	require.NoError(t, c.DownloadFile(ctx, "remote/in.bin", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, []byte("file content"), data)
}

func TestCachedReadServesRepeats(t *testing.T) {
	cacheCfg := &cache.Config{
		Size:           "1M",
		EvictionPolicy: cache.EvictionPolicyConfig{Policy: cache.PolicyFIFO, RefreshInterval: 3600},
		CacheBackend:   cache.BackendConfig{CachePath: t.TempDir()},
	}
	backend, err := cache.NewFSBackend("cached", cacheCfg)
	require.NoError(t, err)

	store := memory.New(memory.Config{})
	c, err := New(Options{Profile: "cached", Storage: store, Cache: backend})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Write(ctx, "hot", []byte("hot body")))

	// First read is under the threshold and bypasses the cache; the second
	// read of the same key routes through it.
	for i := 0; i < 3; i++ {
		data, err := c.Read(ctx, "hot", nil)
		require.NoError(t, err)
		require.Equal(t, []byte("hot body"), data)
	}
	require.True(t, backend.Contains(ctx, "hot", ""))
}

func TestCachedReadObservesETagChange(t *testing.T) {
	cacheCfg := &cache.Config{
		Size:           "1M",
		EvictionPolicy: cache.EvictionPolicyConfig{Policy: cache.PolicyFIFO, RefreshInterval: 3600},
		CacheBackend:   cache.BackendConfig{CachePath: t.TempDir()},
	}
	backend, err := cache.NewFSBackend("etags", cacheCfg)
	require.NoError(t, err)

	store := memory.New(memory.Config{})
	c, err := New(Options{Profile: "etags", Storage: store, Cache: backend})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Write(ctx, "k", []byte("version A")))

	for i := 0; i < 2; i++ {
		data, err := c.Read(ctx, "k", nil)
		require.NoError(t, err)
		require.Equal(t, []byte("version A"), data)
	}

	// The backend updates the object; the next cached read observes the
	// new ETag and replaces the stale body.
	require.NoError(t, c.Write(ctx, "k", []byte("version B")))

	data, err := c.Read(ctx, "k", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("version B"), data)
}
