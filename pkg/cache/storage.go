package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// StorageBackend delegates body storage to a second msc profile (typically
// a fast S3 Express bucket). Early access: the same fingerprint/ETag
// protocol applies, bodies live remotely, and eviction is a no-op because
// the backing store manages its own lifecycle.
type StorageBackend struct {
	profile string
	storage types.StorageProvider
	useETag bool
}

// NewStorageBackend creates a storage-provider-backed cache for one profile.
func NewStorageBackend(profile string, storage types.StorageProvider, cfg *Config) (*StorageBackend, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: cache storage provider is required", types.ErrInvalidArgument)
	}
	return &StorageBackend{
		profile: profile,
		storage: storage,
		useETag: cfg.ETagEnabled(),
	}, nil
}

// UseETag reports whether ETag validation is enabled.
func (b *StorageBackend) UseETag() bool {
	return b.useETag
}

func (b *StorageBackend) remoteKey(key string) string {
	return Fingerprint(b.profile, key)
}

// Contains reports whether the backing store holds a valid entry.
func (b *StorageBackend) Contains(ctx context.Context, key, etag string) bool {
	meta, err := b.storage.GetObjectMetadata(ctx, b.remoteKey(key))
	if err != nil {
		return false
	}
	if b.useETag && etag != "" {
		stored, ok := meta.Metadata["msc-source-etag"]
		return ok && stored == etag
	}
	return true
}

// Read serves the body from the backing store, populating it on miss.
func (b *StorageBackend) Read(ctx context.Context, key, etag string, fetch FetchFunc) ([]byte, error) {
	remoteKey := b.remoteKey(key)

	if b.Contains(ctx, key, etag) {
		rc, err := b.storage.GetObject(ctx, remoteKey, nil)
		if err == nil {
			defer rc.Close()
			data, readErr := io.ReadAll(rc)
			if readErr == nil {
				return data, nil
			}
			logger.Warn("cache: failed to read backing store entry %s: %v", remoteKey, readErr)
		} else if !errors.Is(err, types.ErrNotFound) {
			logger.Warn("cache: backing store read failed for %s: %v", remoteKey, err)
		}
	}

	rc, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	opts := &types.PutOptions{}
	if etag != "" {
		opts.Metadata = map[string]string{"msc-source-etag": etag}
	}
	if err := b.storage.PutObject(ctx, remoteKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		// The cache never masks a successful backend read with its own
		// fault; serve the fetched body and log.
		logger.Warn("cache: failed to populate backing store entry %s: %v", remoteKey, err)
	}
	return data, nil
}

// LocalPath is unavailable: bodies live remotely.
func (b *StorageBackend) LocalPath(context.Context, string, string, FetchFunc) (string, bool, error) {
	return "", false, nil
}

// Delete drops the remote entry. A missing entry is not an error.
func (b *StorageBackend) Delete(ctx context.Context, key string) error {
	err := b.storage.DeleteObject(ctx, b.remoteKey(key))
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return nil
}

// Size is unknown for a remote backing store.
func (b *StorageBackend) Size(context.Context) int64 {
	return 0
}

// Refresh is a no-op: the backing store manages its own lifecycle.
func (b *StorageBackend) Refresh(context.Context) error {
	return nil
}
