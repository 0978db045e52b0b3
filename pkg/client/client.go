// Package client implements StorageClient: the unified operation surface
// that composes a profile's storage provider, optional metadata provider,
// and the shared cache, enforces the client-side invariants, and reports
// every provider call to telemetry.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/cache"
	"github.com/voegtlel/multi-storage-client/pkg/telemetry"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// DefaultCacheReadThreshold is the body size above which reads route
// through the cache.
const DefaultCacheReadThreshold = 16 << 20 // 16 MiB

// Options assembles a StorageClient.
type Options struct {
	// Profile is the profile name the client serves.
	Profile string

	// Storage is the profile's storage provider. Required.
	Storage types.StorageProvider

	// Metadata is the profile's metadata provider, or nil.
	Metadata types.MetadataProvider

	// Credentials is the profile's credentials provider, or nil. Held for
	// lifecycle only; providers authenticate through it themselves.
	Credentials types.CredentialsProvider

	// Cache is the shared cache backend, or nil to disable caching.
	Cache cache.Backend

	// Recorder receives operation samples; nil means no telemetry.
	Recorder telemetry.Recorder

	// CacheReadThreshold overrides DefaultCacheReadThreshold when > 0.
	CacheReadThreshold int64
}

// StorageClient is the unified client for one profile. It is safe for
// concurrent use by multiple goroutines.
type StorageClient struct {
	profile     string
	storage     types.StorageProvider
	metadata    types.MetadataProvider
	credentials types.CredentialsProvider
	cache       cache.Backend
	recorder    telemetry.Recorder
	threshold   int64

	accessMu sync.Mutex
	accessed map[string]int
}

// New creates a StorageClient from realized providers.
func New(opts Options) (*StorageClient, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("%w: storage provider is required", types.ErrInvalidArgument)
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.NopRecorder{}
	}
	threshold := opts.CacheReadThreshold
	if threshold <= 0 {
		threshold = DefaultCacheReadThreshold
	}

	return &StorageClient{
		profile:     opts.Profile,
		storage:     opts.Storage,
		metadata:    opts.Metadata,
		credentials: opts.Credentials,
		cache:       opts.Cache,
		recorder:    recorder,
		threshold:   threshold,
		accessed:    make(map[string]int),
	}, nil
}

// Profile returns the profile name.
func (c *StorageClient) Profile() string {
	return c.profile
}

// StorageProvider exposes the underlying storage provider for collaborators
// such as the sync engine.
func (c *StorageClient) StorageProvider() types.StorageProvider {
	return c.storage
}

// MetadataProvider exposes the metadata provider, or nil.
func (c *StorageClient) MetadataProvider() types.MetadataProvider {
	return c.metadata
}

// kindSlugs maps error kinds to telemetry status suffixes.
var kindSlugs = map[error]string{
	types.ErrNotFound:           "not_found",
	types.ErrUnauthorized:       "unauthorized",
	types.ErrPreconditionFailed: "precondition_failed",
	types.ErrUnavailable:        "unavailable",
	types.ErrInvalidArgument:    "invalid_argument",
	types.ErrManifestCorrupt:    "manifest_corrupt",
	types.ErrCacheError:         "cache",
	types.ErrConflict:           "conflict",
}

func statusOf(err error) string {
	if err == nil {
		return telemetry.StatusSuccess
	}
	if kind := types.ErrorKind(err); kind != nil {
		return telemetry.StatusErrorPrefix + kindSlugs[kind]
	}
	return telemetry.StatusErrorPrefix + "unknown"
}

// instrument wraps one storage operation with the telemetry sample pair and
// the structured error envelope.
func (c *StorageClient) instrument(ctx context.Context, op, key string, dataSize *int64, fn func() error) error {
	provider := c.storage.Name()
	c.recorder.OperationStart(ctx, provider, op)
	start := time.Now()

	err := fn()

	var size int64
	if dataSize != nil {
		size = *dataSize
	}
	c.recorder.OperationEnd(ctx, provider, op, statusOf(err), time.Since(start), size)

	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := types.ErrorKind(err)
	if kind == nil {
		kind = types.ErrUnavailable
	}
	return types.NewStorageError(kind, c.profile, op, key, err)
}

// realpath applies the metadata provider's path translation.
func (c *StorageClient) realpath(path string) string {
	if c.metadata == nil {
		return path
	}
	real, _ := c.metadata.RealPath(path)
	return real
}

// repeatRead tracks read frequency per key; the second and later reads of a
// key qualify for caching regardless of size.
func (c *StorageClient) repeatRead(path string) bool {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()
	count := c.accessed[path]
	c.accessed[path] = count + 1
	return count > 0
}

// Read returns the object body, optionally restricted to a byte range.
// Reads larger than the cache threshold, and repeat reads of the same key,
// are served through the cache; a cache fault falls back to the backend.
func (c *StorageClient) Read(ctx context.Context, path string, byteRange *types.Range) ([]byte, error) {
	var data []byte
	var size int64
	err := c.instrument(ctx, "read", path, &size, func() error {
		var err error
		data, err = c.read(ctx, path, byteRange)
		size = int64(len(data))
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *StorageClient) read(ctx context.Context, path string, byteRange *types.Range) ([]byte, error) {
	real := c.realpath(path)

	if byteRange == nil && c.cache != nil {
		meta, err := c.info(ctx, path, true)
		if err != nil {
			return nil, err
		}
		repeat := c.repeatRead(path)
		if meta.ContentLength > c.threshold || repeat {
			etag := ""
			if c.cache.UseETag() {
				etag = meta.ETag
			}
			data, cacheErr := c.cache.Read(ctx, path, etag, func(ctx context.Context) (io.ReadCloser, error) {
				return c.storage.GetObject(ctx, real, nil)
			})
			if cacheErr == nil {
				return data, nil
			}
			if !errors.Is(cacheErr, types.ErrCacheError) {
				return nil, cacheErr
			}
			// A cache fault never masks a readable backend; bypass.
		}
	}

	rc, err := c.storage.GetObject(ctx, real, byteRange)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Write stores the body under path and stages the new entry with a writable
// metadata provider.
func (c *StorageClient) Write(ctx context.Context, path string, body []byte) error {
	size := int64(len(body))
	return c.instrument(ctx, "write", path, &size, func() error {
		return c.write(ctx, path, bytes.NewReader(body), size)
	})
}

// WriteFrom streams an object body from a reader. size may be -1 when
// unknown.
func (c *StorageClient) WriteFrom(ctx context.Context, path string, body io.Reader, size int64) error {
	reported := size
	return c.instrument(ctx, "write", path, &reported, func() error {
		return c.write(ctx, path, body, size)
	})
}

func (c *StorageClient) write(ctx context.Context, path string, body io.Reader, size int64) error {
	real := c.realpath(path)
	if err := c.storage.PutObject(ctx, real, body, size, nil); err != nil {
		return err
	}
	return c.stageMetadata(ctx, path, real)
}

// stageMetadata records a freshly written object with a writable metadata
// provider so it appears in listings before the next commit.
func (c *StorageClient) stageMetadata(ctx context.Context, path, real string) error {
	if c.metadata == nil || !c.metadata.IsWritable() {
		return nil
	}
	meta, err := c.storage.GetObjectMetadata(ctx, real)
	if err != nil {
		return err
	}
	return c.metadata.AddFile(path, meta)
}

// Delete removes the object and any cached copy. Deletion is idempotent:
// neither a missing object nor a missing cache entry is an error.
func (c *StorageClient) Delete(ctx context.Context, path string) error {
	return c.instrument(ctx, "delete", path, nil, func() error {
		real := c.realpath(path)

		if c.metadata != nil && c.metadata.IsWritable() {
			if err := c.metadata.RemoveFile(path); err != nil && !errors.Is(err, types.ErrNotFound) {
				return err
			}
		}
		if err := c.storage.DeleteObject(ctx, real); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if c.cache != nil {
			if err := c.cache.Delete(ctx, path); err != nil {
				return err
			}
		}
		return nil
	})
}

// Copy duplicates an object within the profile's namespace.
func (c *StorageClient) Copy(ctx context.Context, srcPath, dstPath string) error {
	return c.instrument(ctx, "copy", srcPath, nil, func() error {
		if err := c.storage.CopyObject(ctx, c.realpath(srcPath), dstPath); err != nil {
			return err
		}
		return c.stageMetadata(ctx, dstPath, dstPath)
	})
}

// Info returns object metadata. In strict mode a missing key fails with
// NotFound; non-strict returns a sentinel with type "file" and length 0.
func (c *StorageClient) Info(ctx context.Context, path string, strict bool) (*types.ObjectMetadata, error) {
	var meta *types.ObjectMetadata
	err := c.instrument(ctx, "info", path, nil, func() error {
		var err error
		meta, err = c.info(ctx, path, strict)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *StorageClient) info(ctx context.Context, path string, strict bool) (*types.ObjectMetadata, error) {
	var meta *types.ObjectMetadata
	var err error
	if c.metadata != nil {
		meta, err = c.metadata.GetObjectMetadata(ctx, path, true)
	} else {
		meta, err = c.storage.GetObjectMetadata(ctx, path)
	}

	if err != nil {
		if !strict && errors.Is(err, types.ErrNotFound) {
			return &types.ObjectMetadata{
				Key:  strings.TrimLeft(path, "/"),
				Type: types.ObjectTypeFile,
			}, nil
		}
		return nil, err
	}
	return meta, nil
}

// List iterates entries under the prefix, consulting the metadata provider
// when present.
func (c *StorageClient) List(ctx context.Context, prefix string, opts *types.ListOptions) types.ObjectIterator {
	if c.metadata != nil {
		return c.metadata.ListObjects(ctx, prefix, opts)
	}
	return c.storage.ListObjects(ctx, prefix, opts)
}

// Glob returns keys matching a shell-style pattern. "*" does not cross
// "/"; "**" does.
func (c *StorageClient) Glob(ctx context.Context, pattern string) ([]string, error) {
	var matched []string
	err := c.instrument(ctx, "glob", pattern, nil, func() error {
		prefix := util.ExtractPrefixFromGlob(pattern)

		var keys []string
		for meta, err := range c.List(ctx, prefix, &types.ListOptions{Recursive: true}) {
			if err != nil {
				return err
			}
			if !meta.IsDirectory() {
				keys = append(keys, meta.Key)
			}
		}

		var err error
		matched, err = util.Glob(keys, pattern)
		return err
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// IsFile reports whether path denotes an object.
func (c *StorageClient) IsFile(ctx context.Context, path string) (bool, error) {
	if c.metadata != nil {
		meta, err := c.metadata.GetObjectMetadata(ctx, path, true)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return !meta.IsDirectory(), nil
	}
	return c.storage.IsFile(ctx, c.realpath(path))
}

// IsEmpty reports whether no object exists under the prefix.
func (c *StorageClient) IsEmpty(ctx context.Context, prefix string) (bool, error) {
	for meta, err := range c.List(ctx, prefix, &types.ListOptions{Recursive: true}) {
		if err != nil {
			return false, err
		}
		if !meta.IsDirectory() {
			return false, nil
		}
	}
	return true, nil
}

// CommitMetadata persists pending metadata mutations as a new manifest
// generation and returns its id. A profile without a writable metadata
// provider fails with InvalidArgument.
func (c *StorageClient) CommitMetadata(ctx context.Context) (string, error) {
	if c.metadata == nil {
		return "", types.NewStorageError(types.ErrInvalidArgument, c.profile, "commit_metadata", "",
			errors.New("profile has no metadata provider"))
	}
	generation, err := c.metadata.CommitUpdates(ctx)
	if err != nil {
		kind := types.ErrorKind(err)
		if kind == nil {
			kind = types.ErrUnavailable
		}
		return "", types.NewStorageError(kind, c.profile, "commit_metadata", "", err)
	}
	return generation, nil
}
