// Package memory implements an in-memory StorageProvider.
//
// It exists for tests, ephemeral scratch profiles, and as the reference
// implementation of the provider contract. All state lives in a map guarded
// by an RWMutex; bodies are copied on read and write so callers can never
// race the store's buffers.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ProviderName is the registered type of this provider.
const ProviderName = "memory"

type object struct {
	data         []byte
	lastModified time.Time
	etag         string
	metadata     map[string]string
}

// Provider is an in-memory StorageProvider.
type Provider struct {
	mu      sync.RWMutex
	objects map[string]*object
}

// Config holds the memory provider options. BasePath is accepted for
// symmetry with other providers but ignored.
type Config struct {
	BasePath string `mapstructure:"base_path"`
}

// New creates an empty in-memory provider.
func New(Config) *Provider {
	return &Provider{objects: make(map[string]*object)}
}

// Name returns the provider type.
func (p *Provider) Name() string {
	return ProviderName
}

func normalize(path string) string {
	return strings.TrimLeft(path, "/")
}

func computeETag(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// PutObject stores a copy of the body.
func (p *Provider) PutObject(ctx context.Context, path string, body io.Reader, size int64, opts *types.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body for %q: %w", path, err)
	}

	key := normalize(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if opts != nil {
		existing, exists := p.objects[key]
		switch {
		case opts.IfNoneMatch == "*" && exists:
			return fmt.Errorf("object %q already exists: %w", path, types.ErrPreconditionFailed)
		case opts.IfMatch != "" && (!exists || existing.etag != opts.IfMatch):
			return fmt.Errorf("etag mismatch on %q: %w", path, types.ErrPreconditionFailed)
		}
	}

	obj := &object{
		data:         data,
		lastModified: time.Now().UTC(),
		etag:         computeETag(data),
	}
	if opts != nil && opts.Metadata != nil {
		obj.metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			obj.metadata[k] = v
		}
	}
	p.objects[key] = obj
	return nil
}

// GetObject returns a reader over a copy of the stored body.
func (p *Provider) GetObject(ctx context.Context, path string, byteRange *types.Range) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	obj, ok := p.objects[normalize(path)]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %q: %w", path, types.ErrNotFound)
	}

	data := obj.data
	if byteRange != nil {
		if byteRange.Offset > int64(len(data)) {
			return nil, fmt.Errorf("range offset %d beyond object %q: %w", byteRange.Offset, path, types.ErrInvalidArgument)
		}
		end := byteRange.Offset + byteRange.Size
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[byteRange.Offset:end]
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

// CopyObject duplicates a stored object under a new key.
func (p *Provider) CopyObject(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.objects[normalize(srcPath)]
	if !ok {
		return fmt.Errorf("object %q: %w", srcPath, types.ErrNotFound)
	}
	p.objects[normalize(dstPath)] = &object{
		data:         append([]byte(nil), src.data...),
		lastModified: time.Now().UTC(),
		etag:         src.etag,
		metadata:     src.metadata,
	}
	return nil
}

// DeleteObject removes an object.
func (p *Provider) DeleteObject(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalize(path)
	if _, ok := p.objects[key]; !ok {
		return fmt.Errorf("object %q: %w", path, types.ErrNotFound)
	}
	delete(p.objects, key)
	return nil
}

// GetObjectMetadata returns metadata for an object, or a directory entry
// when the path is a prefix of stored keys.
func (p *Provider) GetObjectMetadata(ctx context.Context, path string) (*types.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := normalize(path)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if obj, ok := p.objects[key]; ok {
		return &types.ObjectMetadata{
			Key:           key,
			Type:          types.ObjectTypeFile,
			ContentLength: int64(len(obj.data)),
			LastModified:  obj.lastModified,
			ETag:          obj.etag,
			Metadata:      obj.metadata,
		}, nil
	}

	dirPrefix := strings.TrimSuffix(key, "/") + "/"
	for k := range p.objects {
		if strings.HasPrefix(k, dirPrefix) {
			return &types.ObjectMetadata{
				Key:          dirPrefix,
				Type:         types.ObjectTypeDirectory,
				LastModified: time.Now().UTC(),
			}, nil
		}
	}

	return nil, fmt.Errorf("object %q: %w", path, types.ErrNotFound)
}

// ListObjects yields entries under the prefix in lexicographic order.
func (p *Provider) ListObjects(ctx context.Context, prefix string, opts *types.ListOptions) types.ObjectIterator {
	if opts == nil {
		opts = &types.ListOptions{Recursive: true}
	}
	prefix = normalize(prefix)

	return func(yield func(*types.ObjectMetadata, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		p.mu.RLock()
		keys := make([]string, 0, len(p.objects))
		for key := range p.objects {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		p.mu.RUnlock()
		sort.Strings(keys)

		seenDirs := make(map[string]bool)
		for _, key := range keys {
			if opts.StartAfter != "" && key <= opts.StartAfter {
				continue
			}
			if opts.EndAt != "" && key > opts.EndAt {
				break
			}

			relative := key[len(prefix):]
			if idx := strings.Index(relative, "/"); idx >= 0 {
				dirKey := prefix + relative[:idx+1]
				if !opts.Recursive {
					if opts.IncludeDirectories && !seenDirs[dirKey] {
						seenDirs[dirKey] = true
						if !yield(&types.ObjectMetadata{
							Key:  dirKey,
							Type: types.ObjectTypeDirectory,
						}, nil) {
							return
						}
					}
					continue
				}
				if opts.IncludeDirectories && !seenDirs[dirKey] {
					seenDirs[dirKey] = true
					if !yield(&types.ObjectMetadata{
						Key:  dirKey,
						Type: types.ObjectTypeDirectory,
					}, nil) {
						return
					}
				}
			}

			p.mu.RLock()
			obj, ok := p.objects[key]
			p.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(&types.ObjectMetadata{
				Key:           key,
				Type:          types.ObjectTypeFile,
				ContentLength: int64(len(obj.data)),
				LastModified:  obj.lastModified,
				ETag:          obj.etag,
				Metadata:      obj.metadata,
			}, nil) {
				return
			}
		}
	}
}

// IsFile reports whether the path holds an object.
func (p *Provider) IsFile(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.objects[normalize(path)]
	return ok, nil
}
