// Package testing provides a reusable conformance suite for StorageProvider
// implementations. Each backend's test file constructs the suite with a
// factory and runs it, so every provider is held to the same contract.
package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ProviderTestSuite runs the shared StorageProvider contract tests.
type ProviderTestSuite struct {
	// NewProvider returns a fresh, empty provider for each test.
	NewProvider func(t *testing.T) types.StorageProvider
}

// Run executes the complete suite.
func (s *ProviderTestSuite) Run(t *testing.T) {
	t.Run("PutGetRoundTrip", s.testPutGetRoundTrip)
	t.Run("RangedGet", s.testRangedGet)
	t.Run("GetMissing", s.testGetMissing)
	t.Run("DeleteIdempotence", s.testDeleteIdempotence)
	t.Run("Copy", s.testCopy)
	t.Run("Metadata", s.testMetadata)
	t.Run("List", s.testList)
	t.Run("ListNonRecursive", s.testListNonRecursive)
	t.Run("IsFile", s.testIsFile)
}

func put(t *testing.T, p types.StorageProvider, key string, body []byte) {
	t.Helper()
	err := p.PutObject(context.Background(), key, bytes.NewReader(body), int64(len(body)), nil)
	require.NoError(t, err)
}

func collect(t *testing.T, it types.ObjectIterator) []*types.ObjectMetadata {
	t.Helper()
	var entries []*types.ObjectMetadata
	for meta, err := range it {
		require.NoError(t, err)
		entries = append(entries, meta)
	}
	return entries
}

func (s *ProviderTestSuite) testPutGetRoundTrip(t *testing.T) {
	p := s.NewProvider(t)
	body := []byte("hello, multi-storage")
	put(t, p, "dir/file.bin", body)

	rc, err := p.GetObject(context.Background(), "dir/file.bin", nil)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, data)
}

func (s *ProviderTestSuite) testRangedGet(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "range.bin", []byte("0123456789"))

	rc, err := p.GetObject(context.Background(), "range.bin", &types.Range{Offset: 2, Size: 4})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), data)
}

func (s *ProviderTestSuite) testGetMissing(t *testing.T) {
	p := s.NewProvider(t)

	_, err := p.GetObject(context.Background(), "missing", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrNotFound))
}

func (s *ProviderTestSuite) testDeleteIdempotence(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "victim", []byte("x"))

	require.NoError(t, p.DeleteObject(context.Background(), "victim"))

	err := p.DeleteObject(context.Background(), "victim")
	require.True(t, errors.Is(err, types.ErrNotFound))

	_, err = p.GetObject(context.Background(), "victim", nil)
	require.True(t, errors.Is(err, types.ErrNotFound))
}

func (s *ProviderTestSuite) testCopy(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "src", []byte("copied content"))

	require.NoError(t, p.CopyObject(context.Background(), "src", "dst/nested"))

	rc, err := p.GetObject(context.Background(), "dst/nested", nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("copied content"), data)
}

func (s *ProviderTestSuite) testMetadata(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "meta/file", []byte("12345"))

	meta, err := p.GetObjectMetadata(context.Background(), "meta/file")
	require.NoError(t, err)
	require.Equal(t, types.ObjectTypeFile, meta.Type)
	require.EqualValues(t, 5, meta.ContentLength)
	require.False(t, meta.LastModified.IsZero())

	_, err = p.GetObjectMetadata(context.Background(), "meta/missing")
	require.True(t, errors.Is(err, types.ErrNotFound))
}

func (s *ProviderTestSuite) testList(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "list/a/1", []byte("a1"))
	put(t, p, "list/a/2", []byte("a2"))
	put(t, p, "list/b", []byte("b"))
	put(t, p, "other", []byte("o"))

	entries := collect(t, p.ListObjects(context.Background(), "list/", &types.ListOptions{Recursive: true}))
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	require.Equal(t, []string{"list/a/1", "list/a/2", "list/b"}, keys)
}

func (s *ProviderTestSuite) testListNonRecursive(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "top/sub/deep", []byte("d"))
	put(t, p, "top/file", []byte("f"))

	entries := collect(t, p.ListObjects(context.Background(), "top/", &types.ListOptions{
		Recursive:          false,
		IncludeDirectories: true,
	}))

	var files, dirs []string
	for _, entry := range entries {
		if entry.IsDirectory() {
			dirs = append(dirs, entry.Key)
		} else {
			files = append(files, entry.Key)
		}
	}
	require.Equal(t, []string{"top/file"}, files)
	require.Equal(t, []string{"top/sub/"}, dirs)
}

func (s *ProviderTestSuite) testIsFile(t *testing.T) {
	p := s.NewProvider(t)
	put(t, p, "afile", []byte("x"))

	ok, err := p.IsFile(context.Background(), "afile")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.IsFile(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}
