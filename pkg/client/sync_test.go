package client

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

func keysUnder(t *testing.T, c *StorageClient, prefix string) []string {
	t.Helper()
	var keys []string
	for meta, err := range c.List(context.Background(), prefix, &types.ListOptions{Recursive: true}) {
		require.NoError(t, err)
		keys = append(keys, meta.Key)
	}
	sort.Strings(keys)
	return keys
}

func TestSyncCopiesEverything(t *testing.T) {
	source := newMemoryClient(t)
	target := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, source.Write(ctx, "p/x", []byte("xx")))
	require.NoError(t, source.Write(ctx, "p/deep/y", []byte("yy")))

	require.NoError(t, target.SyncFrom(ctx, source, "p/", "p/", false))

	require.Equal(t, []string{"p/deep/y", "p/x"}, keysUnder(t, target, "p/"))

	data, err := target.Read(ctx, "p/deep/y", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("yy"), data)
}

func TestSyncWithDeleteUnmatched(t *testing.T) {
	source := newMemoryClient(t)
	target := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, source.Write(ctx, "p/x", []byte("x-body")))
	require.NoError(t, source.Write(ctx, "p/y", []byte("y-body")))

	require.NoError(t, target.Write(ctx, "p/x_old", []byte("stale")))
	require.NoError(t, target.Write(ctx, "p/y", []byte("y-body")))
	require.NoError(t, target.Write(ctx, "p/z", []byte("stale too")))

	require.NoError(t, target.SyncFrom(ctx, source, "p/", "p/", true))

	// The target mirrors the source: x and y present, x_old and z gone.
	require.Equal(t, []string{"p/x", "p/y"}, keysUnder(t, target, "p/"))

	for _, key := range []string{"p/x", "p/y"} {
		want, err := source.Read(ctx, key, nil)
		require.NoError(t, err)
		got, err := target.Read(ctx, key, nil)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSyncWithoutDeleteKeepsExtraneous(t *testing.T) {
	source := newMemoryClient(t)
	target := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, source.Write(ctx, "p/a", []byte("a")))
	require.NoError(t, target.Write(ctx, "p/extra", []byte("keep me")))

	require.NoError(t, target.SyncFrom(ctx, source, "p/", "p/", false))

	require.Equal(t, []string{"p/a", "p/extra"}, keysUnder(t, target, "p/"))
}

func TestSyncIntoDifferentPrefix(t *testing.T) {
	source := newMemoryClient(t)
	target := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, source.Write(ctx, "src/one", []byte("1")))

	require.NoError(t, target.SyncFrom(ctx, source, "src/", "mirror/", true))

	require.Equal(t, []string{"mirror/one"}, keysUnder(t, target, "mirror/"))
}

func TestSyncSameClientUsesServerSideCopy(t *testing.T) {
	c := newMemoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "from/a", []byte("payload")))

	require.NoError(t, c.SyncFrom(ctx, c, "from/", "to/", false))

	data, err := c.Read(ctx, "to/a", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestSyncWorkerCountFromEnv(t *testing.T) {
	t.Setenv(EnvNumProcesses, "3")
	t.Setenv(EnvNumThreadsPerProcess, "4")
	require.Equal(t, 12, syncWorkerCount())

	t.Setenv(EnvNumProcesses, "bogus")
	t.Setenv(EnvNumThreadsPerProcess, "5")
	require.Equal(t, 5, syncWorkerCount())
}
