package msc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/config"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

func configure(t *testing.T, raw map[string]any) {
	t.Helper()
	cfg, err := config.FromMap(raw)
	require.NoError(t, err)
	Configure(cfg)
	t.Cleanup(func() { Shutdown(context.Background()) })
}

func TestShortcutsRoundTrip(t *testing.T) {
	configure(t, map[string]any{
		"profiles": map[string]any{
			"mem": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
		},
	})
	ctx := context.Background()

	require.NoError(t, Write(ctx, "msc://mem/a/b.txt", []byte("hello")))

	data, err := Read(ctx, "msc://mem/a/b.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	meta, err := Info(ctx, "msc://mem/a/b.txt")
	require.NoError(t, err)
	require.EqualValues(t, 5, meta.ContentLength)

	ok, err := IsFile(ctx, "msc://mem/a/b.txt")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, Delete(ctx, "msc://mem/a/b.txt"))
	_, err = Read(ctx, "msc://mem/a/b.txt")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolveSameProfileReturnsSameClient(t *testing.T) {
	configure(t, map[string]any{
		"profiles": map[string]any{
			"mem": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
		},
	})
	ctx := context.Background()

	first, _, err := ResolveClient(ctx, "msc://mem/one")
	require.NoError(t, err)
	second, path, err := ResolveClient(ctx, "msc://mem/two/three")
	require.NoError(t, err)

	require.Same(t, first, second, "clients are constructed once per profile")
	require.Equal(t, "two/three", path)
}

func TestResolveUnknownProfileFails(t *testing.T) {
	configure(t, map[string]any{})

	_, _, err := ResolveClient(context.Background(), "msc://nonexistent/key")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestResolveRejectsMalformedProfile(t *testing.T) {
	configure(t, map[string]any{})

	_, _, err := ResolveClient(context.Background(), "msc://-bad-/key")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestPosixPathUsesImplicitFileProfile(t *testing.T) {
	configure(t, map[string]any{})
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, Write(ctx, dir+"/posix.txt", []byte("on disk")))

	data, err := Read(ctx, dir+"/posix.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("on disk"), data)

	c, path, err := ResolveClient(ctx, dir+"/posix.txt")
	require.NoError(t, err)
	require.Equal(t, ImplicitFileProfile, c.Profile())
	require.Equal(t, dir+"/posix.txt", path)
}

func TestImplicitProfileNamingIsStable(t *testing.T) {
	configure(t, map[string]any{})

	profile, path, err := resolveURL("s3://bucket1/prefix/key")
	require.NoError(t, err)
	require.Equal(t, "_s3-bucket1", profile)
	require.Equal(t, "prefix/key", path)

	// Resolving again maps onto the same implicit profile.
	again, _, err := resolveURL("s3://bucket1/other")
	require.NoError(t, err)
	require.Equal(t, profile, again)

	gs, _, err := resolveURL("gs://gbucket/key")
	require.NoError(t, err)
	require.Equal(t, "_gs-gbucket", gs)

	ais, _, err := resolveURL("ais://abucket/key")
	require.NoError(t, err)
	require.Equal(t, "_ais-abucket", ais)
}

func TestUnknownSchemeFails(t *testing.T) {
	configure(t, map[string]any{})

	_, _, err := resolveURL("ftp://host/file")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestPathMappingWinsOverImplicitProfile(t *testing.T) {
	configure(t, map[string]any{
		"profiles": map[string]any{
			"mapped": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
		},
		"path_mapping": map[string]any{
			"s3://legacy-bucket/": "msc://mapped/migrated/",
		},
	})

	profile, path, err := resolveURL("s3://legacy-bucket/dir/file")
	require.NoError(t, err)
	require.Equal(t, "mapped", profile)
	require.Equal(t, "migrated/dir/file", path)
}

func TestGlobShortcutKeepsMSCPrefix(t *testing.T) {
	configure(t, map[string]any{
		"profiles": map[string]any{
			"mem": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
		},
	})
	ctx := context.Background()

	for _, key := range []string{"a/b/c.tar", "a/d.tar", "a/b/e.txt"} {
		require.NoError(t, Write(ctx, "msc://mem/"+key, []byte("x")))
	}

	matched, err := Glob(ctx, "msc://mem/**/*.tar")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"msc://mem/a/b/c.tar", "msc://mem/a/d.tar"}, matched)
}

func TestSyncShortcut(t *testing.T) {
	configure(t, map[string]any{
		"profiles": map[string]any{
			"src": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
			"dst": map[string]any{
				"storage_provider": map[string]any{"type": "memory"},
			},
		},
	})
	ctx := context.Background()

	require.NoError(t, Write(ctx, "msc://src/p/x", []byte("x")))
	require.NoError(t, Write(ctx, "msc://src/p/y", []byte("y")))
	require.NoError(t, Write(ctx, "msc://dst/p/z", []byte("z")))

	require.NoError(t, Sync(ctx, "msc://src/p/", "msc://dst/p/", true))

	matched, err := Glob(ctx, "msc://dst/p/*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"msc://dst/p/x", "msc://dst/p/y"}, matched)
}
