package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/provider/memory"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

func putObject(t *testing.T, store types.StorageProvider, key, body string) {
	t.Helper()
	err := store.PutObject(context.Background(), key, bytes.NewReader([]byte(body)), int64(len(body)), nil)
	require.NoError(t, err)
}

// seedGeneration writes a single-part generation the way a committer would.
func seedGeneration(t *testing.T, store types.StorageProvider, generation string, lines []string) {
	t.Helper()
	base := ".msc_manifests/" + generation
	part := ""
	for _, line := range lines {
		part += line + "\n"
	}
	putObject(t, store, base+"/parts/msc_manifest_part000001.jsonl", part)
	putObject(t, store, base+"/"+IndexFileName,
		`{"version":"1.0","parts":[{"path":"parts/msc_manifest_part000001.jsonl"}]}`)
}

func TestListServedFromManifestWithoutBackendListing(t *testing.T) {
	store := memory.New(memory.Config{})
	seedGeneration(t, store, "2024-01-02T00:00:00.000000000Z", []string{
		`{"key":"x/1","size_bytes":3,"last_modified":"2024-01-01T00:00:00Z"}`,
		`{"key":"x/2","size_bytes":5,"last_modified":"2024-01-01T00:00:00Z"}`,
	})

	provider, err := New(context.Background(), store, Config{})
	require.NoError(t, err)
	defer provider.Close()

	// The listing is exactly the cataloged entries; objects the backend
	// holds (the manifest files themselves) do not appear.
	var keys []string
	var sizes []int64
	for meta, err := range provider.ListObjects(context.Background(), "x/", nil) {
		require.NoError(t, err)
		keys = append(keys, meta.Key)
		sizes = append(sizes, meta.ContentLength)
	}
	require.Equal(t, []string{"x/1", "x/2"}, keys)
	require.Equal(t, []int64{3, 5}, sizes)

	meta, err := provider.GetObjectMetadata(context.Background(), "x/2", false)
	require.NoError(t, err)
	require.EqualValues(t, 5, meta.ContentLength)
	require.Equal(t, "2024-01-01T00:00:00Z", meta.LastModified.UTC().Format(time.RFC3339))
}

func TestGreatestGenerationWins(t *testing.T) {
	store := memory.New(memory.Config{})
	seedGeneration(t, store, "2024-01-01T00:00:00.000000000Z", []string{
		`{"key":"old","size_bytes":1,"last_modified":"2024-01-01T00:00:00Z"}`,
	})
	seedGeneration(t, store, "2024-06-01T00:00:00.000000000Z", []string{
		`{"key":"new","size_bytes":1,"last_modified":"2024-06-01T00:00:00Z"}`,
	})

	provider, err := New(context.Background(), store, Config{})
	require.NoError(t, err)
	defer provider.Close()

	_, err = provider.GetObjectMetadata(context.Background(), "new", false)
	require.NoError(t, err)
	_, err = provider.GetObjectMetadata(context.Background(), "old", false)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestMissingPartIsManifestCorrupt(t *testing.T) {
	store := memory.New(memory.Config{})
	putObject(t, store, ".msc_manifests/2024-01-01T00:00:00.000000000Z/"+IndexFileName,
		`{"version":"1.0","parts":[{"path":"parts/msc_manifest_part000001.jsonl"}]}`)

	_, err := New(context.Background(), store, Config{})
	require.ErrorIs(t, err, types.ErrManifestCorrupt)
}

func TestUnsupportedVersionIsManifestCorrupt(t *testing.T) {
	store := memory.New(memory.Config{})
	putObject(t, store, ".msc_manifests/2024-01-01T00:00:00.000000000Z/"+IndexFileName,
		`{"version":"9.9","parts":[]}`)

	_, err := New(context.Background(), store, Config{})
	require.ErrorIs(t, err, types.ErrManifestCorrupt)
}

func TestEmptyManifestDirectoryYieldsEmptyProvider(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{})
	require.NoError(t, err)
	defer provider.Close()

	require.Equal(t, "", provider.Generation())
	_, err = provider.GetObjectMetadata(context.Background(), "anything", false)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestPendingMutationsVisibleBeforeCommit(t *testing.T) {
	store := memory.New(memory.Config{})
	seedGeneration(t, store, "2024-01-01T00:00:00.000000000Z", []string{
		`{"key":"base/a","size_bytes":1,"last_modified":"2024-01-01T00:00:00Z"}`,
		`{"key":"base/b","size_bytes":2,"last_modified":"2024-01-01T00:00:00Z"}`,
	})

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	require.NoError(t, provider.AddFile("base/c", &types.ObjectMetadata{
		ContentLength: 3,
		LastModified:  time.Now().UTC(),
	}))
	require.NoError(t, provider.RemoveFile("base/a"))

	var keys []string
	for meta, err := range provider.ListObjects(context.Background(), "base/", nil) {
		require.NoError(t, err)
		keys = append(keys, meta.Key)
	}
	require.Equal(t, []string{"base/b", "base/c"}, keys)

	// Pending state is visible only with includePending.
	_, err = provider.GetObjectMetadata(context.Background(), "base/c", false)
	require.ErrorIs(t, err, types.ErrNotFound)
	meta, err := provider.GetObjectMetadata(context.Background(), "base/c", true)
	require.NoError(t, err)
	require.EqualValues(t, 3, meta.ContentLength)
}

func TestCommitCreatesNewGenerationAndClearsPending(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	require.NoError(t, provider.AddFile("data/one", &types.ObjectMetadata{
		ContentLength: 11,
		LastModified:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ETag:          "e-one",
	}))

	generation, err := provider.CommitUpdates(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, generation)
	require.Equal(t, generation, provider.Generation())

	// A fresh provider over the same store observes the committed state.
	reloaded, err := New(context.Background(), store, Config{})
	require.NoError(t, err)
	defer reloaded.Close()
	meta, err := reloaded.GetObjectMetadata(context.Background(), "data/one", false)
	require.NoError(t, err)
	require.EqualValues(t, 11, meta.ContentLength)
	require.Equal(t, "e-one", meta.ETag)
}

func TestCommitMonotonicity(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	var generations []string
	for i := 0; i < 3; i++ {
		require.NoError(t, provider.AddFile(fmt.Sprintf("k%d", i), &types.ObjectMetadata{
			ContentLength: 1,
			LastModified:  time.Now().UTC(),
		}))
		generation, err := provider.CommitUpdates(context.Background())
		require.NoError(t, err)
		generations = append(generations, generation)
	}

	require.Less(t, generations[0], generations[1])
	require.Less(t, generations[1], generations[2])
}

func TestCommitWithoutPendingIsNoOp(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	generation, err := provider.CommitUpdates(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", generation)
}

func TestMutationsRejectedWhenNotWritable(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{})
	require.NoError(t, err)
	defer provider.Close()

	err = provider.AddFile("x", &types.ObjectMetadata{})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	err = provider.RemoveFile("x")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = provider.CommitUpdates(context.Background())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	require.False(t, provider.IsWritable())
}

func TestGenerateFromLiveStore(t *testing.T) {
	store := memory.New(memory.Config{})
	putObject(t, store, "data/a", "aaa")
	putObject(t, store, "data/b", "bbbbb")

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	generation, err := provider.Generate(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, generation)

	// Manifest equivalence: the catalog mirrors the backend listing.
	var fromManifest []string
	for meta, err := range provider.ListObjects(context.Background(), "data/", nil) {
		require.NoError(t, err)
		fromManifest = append(fromManifest, meta.Key)
	}
	var fromBackend []string
	for meta, err := range store.ListObjects(context.Background(), "data/", nil) {
		require.NoError(t, err)
		fromBackend = append(fromBackend, meta.Key)
	}
	require.Equal(t, fromBackend, fromManifest)
}

func TestPartCacheSpeedsReload(t *testing.T) {
	store := memory.New(memory.Config{})
	seedGeneration(t, store, "2024-01-01T00:00:00.000000000Z", []string{
		`{"key":"cached/a","size_bytes":1,"last_modified":"2024-01-01T00:00:00Z"}`,
	})

	cacheDir := t.TempDir()

	first, err := New(context.Background(), store, Config{LocalCachePath: cacheDir})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Drop the part from the backend; a warm cache still loads it.
	require.NoError(t, store.DeleteObject(context.Background(),
		".msc_manifests/2024-01-01T00:00:00.000000000Z/parts/msc_manifest_part000001.jsonl"))

	second, err := New(context.Background(), store, Config{LocalCachePath: cacheDir})
	require.NoError(t, err)
	defer second.Close()

	_, err = second.GetObjectMetadata(context.Background(), "cached/a", false)
	require.NoError(t, err)
}

func TestNewGenerationIDBreaksTies(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := newGenerationID("", now)

	// Committing again at the same wall-clock instant still moves forward.
	second := newGenerationID(first, now)
	require.Greater(t, second, first)

	parsed, err := time.Parse(generationTimeFormat, second)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Nanosecond), parsed)
}

func TestRemoveFileOfUnknownKeyFails(t *testing.T) {
	store := memory.New(memory.Config{})

	provider, err := New(context.Background(), store, Config{Writable: true})
	require.NoError(t, err)
	defer provider.Close()

	err = provider.RemoveFile("never-existed")
	require.True(t, errors.Is(err, types.ErrNotFound))
}
