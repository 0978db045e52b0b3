package cache

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, size string, policy string) *FSBackend {
	t.Helper()
	cfg := &Config{
		Size: size,
		EvictionPolicy: EvictionPolicyConfig{
			Policy:          policy,
			RefreshInterval: 3600,
		},
		CacheBackend: BackendConfig{CachePath: t.TempDir()},
	}
	backend, err := NewFSBackend("test", cfg)
	require.NoError(t, err)
	return backend
}

func fetchBytes(body string, counter *atomic.Int64) FetchFunc {
	return func(context.Context) (io.ReadCloser, error) {
		if counter != nil {
			counter.Add(1)
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"10":   10,
		"4K":   4 << 10,
		"500M": 500 << 20,
		"2G":   2 << 30,
		"1T":   1 << 40,
		" 8m ": 8 << 20,
	}
	for input, expected := range cases {
		actual, err := ParseSize(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, actual, input)
	}

	_, err := ParseSize("")
	require.Error(t, err)
	_, err = ParseSize("abc")
	require.Error(t, err)
}

func TestReadPopulatesAndHits(t *testing.T) {
	backend := newTestBackend(t, "1M", PolicyFIFO)
	var fetches atomic.Int64

	data, err := backend.Read(context.Background(), "a/key", "etag-1", fetchBytes("hello", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.EqualValues(t, 1, fetches.Load())

	data, err = backend.Read(context.Background(), "a/key", "etag-1", fetchBytes("hello", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.EqualValues(t, 1, fetches.Load(), "second read must hit the cache")
}

func TestConcurrentColdReadsFetchOnce(t *testing.T) {
	backend := newTestBackend(t, "1M", PolicyFIFO)
	var fetches atomic.Int64

	const readers = 8
	results := make([][]byte, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := backend.Read(context.Background(), "cold", "e", fetchBytes("payload", &fetches))
			require.NoError(t, err)
			results[i] = data
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, fetches.Load(), "exactly one backend fetch for concurrent cold reads")
	for _, data := range results {
		require.Equal(t, []byte("payload"), data)
	}
}

func TestETagMismatchRefetchesAtomically(t *testing.T) {
	backend := newTestBackend(t, "1M", PolicyFIFO)
	var fetches atomic.Int64

	_, err := backend.Read(context.Background(), "k", "A", fetchBytes("old-body", &fetches))
	require.NoError(t, err)

	// Backend content changed: ETag B invalidates the cached copy.
	data, err := backend.Read(context.Background(), "k", "B", fetchBytes("new-body", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("new-body"), data)
	require.EqualValues(t, 2, fetches.Load())

	// The replacement is in place and stable.
	data, err = backend.Read(context.Background(), "k", "B", fetchBytes("new-body", &fetches))
	require.NoError(t, err)
	require.Equal(t, []byte("new-body"), data)
	require.EqualValues(t, 2, fetches.Load())
}

func TestFIFOEvictionOrder(t *testing.T) {
	backend := newTestBackend(t, "10", PolicyFIFO)

	for i, key := range []string{"k1", "k2", "k3"} {
		_, err := backend.Read(context.Background(), key, "", fetchBytes("4444", nil))
		require.NoError(t, err)
		// Distinct insertion timestamps keep the FIFO order unambiguous.
		if i < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	// 3 * 4 bytes exceeds the 10-byte bound: the first inserted entry goes.
	require.False(t, backend.Contains(context.Background(), "k1", ""))
	require.True(t, backend.Contains(context.Background(), "k2", ""))
	require.True(t, backend.Contains(context.Background(), "k3", ""))
	require.LessOrEqual(t, backend.Size(context.Background()), int64(10))
}

func TestCacheBoundHolds(t *testing.T) {
	backend := newTestBackend(t, "64", PolicyLRU)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%02d", i)
		_, err := backend.Read(context.Background(), key, "", fetchBytes(strings.Repeat("x", 16), nil))
		require.NoError(t, err)
	}

	require.NoError(t, backend.Refresh(context.Background()))
	require.LessOrEqual(t, backend.Size(context.Background()), int64(64))
}

func TestDeleteIsIdempotent(t *testing.T) {
	backend := newTestBackend(t, "1M", PolicyFIFO)

	_, err := backend.Read(context.Background(), "gone", "", fetchBytes("x", nil))
	require.NoError(t, err)

	require.NoError(t, backend.Delete(context.Background(), "gone"))
	require.NoError(t, backend.Delete(context.Background(), "gone"), "missing entry is not an error")
	require.False(t, backend.Contains(context.Background(), "gone", ""))
}

func TestRefreshRebuildsFromDisk(t *testing.T) {
	cfg := &Config{
		Size:           "1M",
		EvictionPolicy: EvictionPolicyConfig{Policy: PolicyFIFO, RefreshInterval: 3600},
		CacheBackend:   BackendConfig{CachePath: t.TempDir()},
	}
	first, err := NewFSBackend("shared", cfg)
	require.NoError(t, err)
	_, err = first.Read(context.Background(), "persisted", "", fetchBytes("body", nil))
	require.NoError(t, err)

	// A second backend over the same directory sees the entry after its
	// startup refresh.
	second, err := NewFSBackend("shared", cfg)
	require.NoError(t, err)
	require.True(t, second.Contains(context.Background(), "persisted", ""))
	require.EqualValues(t, 4, second.Size(context.Background()))
}

func TestFingerprintIsStable(t *testing.T) {
	require.Equal(t, Fingerprint("p", "k"), Fingerprint("p", "k"))
	require.NotEqual(t, Fingerprint("p", "k"), Fingerprint("p", "k2"))
	require.NotEqual(t, Fingerprint("p", "k"), Fingerprint("p2", "k"))
}
