package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// FetchFunc downloads the authoritative body on a cache miss. It is invoked
// at most once per miss, under the per-entry inter-process lock.
type FetchFunc func(ctx context.Context) (io.ReadCloser, error)

// Backend is the contract the client programs the cache through. Both the
// filesystem backend and the storage-provider backend implement it.
type Backend interface {
	// Read returns the cached body for key, coordinating exactly one fetch
	// across processes when the entry is absent or its ETag is stale.
	Read(ctx context.Context, key, etag string, fetch FetchFunc) ([]byte, error)

	// LocalPath is like Read but returns the path of the published body
	// file. ok is false when the backend keeps no local bodies.
	LocalPath(ctx context.Context, key, etag string, fetch FetchFunc) (path string, ok bool, err error)

	// Delete drops the cached body for key. A missing entry is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Contains reports whether a valid entry for key exists.
	Contains(ctx context.Context, key, etag string) bool

	// Size returns the total body bytes currently cached.
	Size(ctx context.Context) int64

	// Refresh reconciles cached state with authoritative truth and applies
	// deferred evictions.
	Refresh(ctx context.Context) error

	// UseETag reports whether ETag validation is enabled.
	UseETag() bool
}

const (
	metaSuffix      = ".meta"
	lockSuffix      = ".lock"
	indexFileName   = ".index"
	refreshLockName = ".cache_refresh.lock"

	lockTimeout = 10 * time.Minute
)

// FSBackend caches bodies on the local file system. Its directory may be
// shared with concurrent peer processes; see the package comment for the
// coordination rules.
type FSBackend struct {
	profile  string
	cacheDir string
	maxSize  int64
	useETag  bool
	policy   evictionPolicy
	interval time.Duration

	refreshLock *flock.Flock

	mu          sync.Mutex
	entries     map[string]*Entry
	totalSize   int64
	lastRefresh time.Time
}

// NewFSBackend creates (and, if needed, populates from disk) a filesystem
// cache for one profile under cfg.CacheBackend.CachePath.
func NewFSBackend(profile string, cfg *Config) (*FSBackend, error) {
	maxSize, err := cfg.SizeBytes()
	if err != nil {
		return nil, err
	}
	policy, err := newEvictionPolicy(cfg.Policy())
	if err != nil {
		return nil, err
	}
	if cfg.CacheBackend.CachePath == "" {
		return nil, fmt.Errorf("%w: cache_backend.cache_path is required", types.ErrInvalidArgument)
	}

	cacheDir, err := filepath.Abs(filepath.Join(cfg.CacheBackend.CachePath, profile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCacheError, err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w: %v", types.ErrCacheError, err)
	}

	b := &FSBackend{
		profile:     profile,
		cacheDir:    cacheDir,
		maxSize:     maxSize,
		useETag:     cfg.ETagEnabled(),
		policy:      policy,
		interval:    cfg.RefreshInterval(),
		refreshLock: flock.New(filepath.Join(cacheDir, refreshLockName)),
		entries:     make(map[string]*Entry),
	}

	readIndexHint(filepath.Join(cacheDir, indexFileName), b.entries)
	if err := b.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

// UseETag reports whether ETag validation is enabled.
func (b *FSBackend) UseETag() bool {
	return b.useETag
}

func (b *FSBackend) bodyPath(fingerprint string) string {
	return filepath.Join(b.cacheDir, fingerprint)
}

// valid checks the on-disk state for a usable entry.
func (b *FSBackend) valid(fingerprint, etag string) (*Entry, bool) {
	info, err := os.Stat(b.bodyPath(fingerprint))
	if err != nil {
		return nil, false
	}

	entry, err := readEntry(b.bodyPath(fingerprint) + metaSuffix)
	if err != nil {
		// Body without sidecar: tolerate, synthesizing from the stat.
		now := time.Now().UnixNano()
		entry = &Entry{
			Fingerprint:  fingerprint,
			Size:         info.Size(),
			InsertedAt:   info.ModTime().UnixNano(),
			LastAccessed: now,
		}
	}

	if b.useETag && etag != "" && entry.ETag != etag {
		return nil, false
	}
	return entry, true
}

// touch bumps LastAccessed on disk and in memory.
func (b *FSBackend) touch(entry *Entry) {
	entry.LastAccessed = time.Now().UnixNano()
	if err := writeEntry(b.bodyPath(entry.Fingerprint)+metaSuffix, entry); err != nil {
		logger.Debug("cache: failed to update access time for %s: %v", entry.Fingerprint, err)
	}
	b.mu.Lock()
	if existing, ok := b.entries[entry.Fingerprint]; ok {
		existing.LastAccessed = entry.LastAccessed
	} else {
		b.entries[entry.Fingerprint] = entry
		b.totalSize += entry.Size
	}
	b.mu.Unlock()
}

// Contains reports whether a valid entry exists without populating.
func (b *FSBackend) Contains(_ context.Context, key, etag string) bool {
	_, ok := b.valid(Fingerprint(b.profile, key), etag)
	return ok
}

// Read implements the read protocol: serve a valid entry, otherwise take
// the per-entry inter-process lock, re-check, fetch to a temporary file,
// and publish it with an atomic rename.
func (b *FSBackend) Read(ctx context.Context, key, etag string, fetch FetchFunc) ([]byte, error) {
	path, err := b.populate(ctx, key, etag, fetch)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached body: %w: %v", types.ErrCacheError, err)
	}
	return data, nil
}

// LocalPath returns the published body path, populating on miss.
func (b *FSBackend) LocalPath(ctx context.Context, key, etag string, fetch FetchFunc) (string, bool, error) {
	path, err := b.populate(ctx, key, etag, fetch)
	if err != nil {
		return "", true, err
	}
	return path, true, nil
}

func (b *FSBackend) populate(ctx context.Context, key, etag string, fetch FetchFunc) (string, error) {
	fingerprint := Fingerprint(b.profile, key)
	bodyPath := b.bodyPath(fingerprint)

	if entry, ok := b.valid(fingerprint, etag); ok {
		b.touch(entry)
		return bodyPath, nil
	}

	lock := flock.New(bodyPath + lockSuffix)
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if _, err := lock.TryLockContext(lockCtx, 25*time.Millisecond); err != nil {
		return "", fmt.Errorf("failed to lock cache entry: %w: %v", types.ErrCacheError, err)
	}
	defer lock.Unlock()

	// Another process may have populated the entry while we waited.
	if entry, ok := b.valid(fingerprint, etag); ok {
		b.touch(entry)
		return bodyPath, nil
	}

	rc, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	size, err := b.publish(bodyPath, rc)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixNano()
	entry := &Entry{
		Fingerprint:  fingerprint,
		Size:         size,
		InsertedAt:   now,
		LastAccessed: now,
		ETag:         etag,
	}
	if err := writeEntry(bodyPath+metaSuffix, entry); err != nil {
		logger.Warn("cache: failed to write entry sidecar for %s: %v", fingerprint, err)
	}

	b.mu.Lock()
	if previous, ok := b.entries[fingerprint]; ok {
		b.totalSize -= previous.Size
	}
	b.entries[fingerprint] = entry
	b.totalSize += size
	b.evictLocked(fingerprint)
	b.mu.Unlock()

	b.maybeRefreshAsync()
	return bodyPath, nil
}

// publish streams the body to a hidden temporary file in the cache
// directory, fsyncs it, and renames it into place. Readers outside the lock
// keep serving the prior entry (if any) until the rename lands.
func (b *FSBackend) publish(bodyPath string, rc io.Reader) (int64, error) {
	tmp := filepath.Join(b.cacheDir, "."+filepath.Base(bodyPath)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create cache temp file: %w: %v", types.ErrCacheError, err)
	}

	size, err := io.Copy(f, rc)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, bodyPath)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to publish cache entry: %w: %v", types.ErrCacheError, err)
	}
	return size, nil
}

// evictLocked removes victims until the total size fits the bound. The
// caller holds b.mu. justInserted is never selected, and entries whose lock
// is held by any process are skipped.
func (b *FSBackend) evictLocked(justInserted string) {
	if b.totalSize <= b.maxSize {
		return
	}
	if _, ok := b.policy.(noEvictionPolicy); ok {
		return
	}

	candidates := make([]*Entry, 0, len(b.entries))
	for _, entry := range b.entries {
		if entry.Fingerprint != justInserted {
			candidates = append(candidates, entry)
		}
	}
	b.policy.sortEntries(candidates)

	for _, victim := range candidates {
		if b.totalSize <= b.maxSize {
			return
		}

		victimLock := flock.New(b.bodyPath(victim.Fingerprint) + lockSuffix)
		held, err := victimLock.TryLock()
		if err != nil || !held {
			// Some process is populating this entry; leave it alone.
			continue
		}

		b.removeFiles(victim.Fingerprint)
		victimLock.Unlock()

		delete(b.entries, victim.Fingerprint)
		b.totalSize -= victim.Size
		logger.Debug("cache: evicted %s (%d bytes)", victim.Fingerprint, victim.Size)
	}
}

// removeFiles deletes the body, the sidecar, and any stale lock file.
func (b *FSBackend) removeFiles(fingerprint string) {
	bodyPath := b.bodyPath(fingerprint)
	os.Remove(bodyPath)
	os.Remove(bodyPath + metaSuffix)
	os.Remove(bodyPath + lockSuffix)
}

// Delete drops the entry for key. A missing entry is not an error.
func (b *FSBackend) Delete(_ context.Context, key string) error {
	fingerprint := Fingerprint(b.profile, key)
	b.removeFiles(fingerprint)

	b.mu.Lock()
	if entry, ok := b.entries[fingerprint]; ok {
		b.totalSize -= entry.Size
		delete(b.entries, fingerprint)
	}
	b.mu.Unlock()
	return nil
}

// Size returns the tracked total body bytes.
func (b *FSBackend) Size(_ context.Context) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

func (b *FSBackend) maybeRefreshAsync() {
	b.mu.Lock()
	due := time.Since(b.lastRefresh) > b.interval
	b.mu.Unlock()
	if due {
		go func() {
			if err := b.Refresh(context.Background()); err != nil {
				logger.Warn("cache refresh failed: %v", err)
			}
		}()
	}
}

// Refresh rescans the cache directory, reconciles the in-memory index with
// on-disk truth, applies deferred evictions, and rewrites the .index hint.
// Concurrent refreshes across processes are serialized by the refresh lock;
// losing the race is not an error.
func (b *FSBackend) Refresh(ctx context.Context) error {
	held, err := b.refreshLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to take refresh lock: %w: %v", types.ErrCacheError, err)
	}
	if !held {
		return nil
	}
	defer b.refreshLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	dirents, err := os.ReadDir(b.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w: %v", types.ErrCacheError, err)
	}

	entries := make(map[string]*Entry)
	var total int64
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, lockSuffix) {
			continue
		}
		entry, ok := b.valid(name, "")
		if !ok {
			continue
		}
		entries[name] = entry
		total += entry.Size
	}

	b.mu.Lock()
	b.entries = entries
	b.totalSize = total
	b.evictLocked("")
	b.lastRefresh = time.Now()
	snapshot := make([]*Entry, 0, len(b.entries))
	for _, entry := range b.entries {
		snapshot = append(snapshot, entry)
	}
	b.mu.Unlock()

	writeIndexHint(filepath.Join(b.cacheDir, indexFileName), snapshot)
	return nil
}
