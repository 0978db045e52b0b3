// Package posix implements a StorageProvider backed by the local file
// system.
//
// Objects are plain files under a configured base path. Keys use forward
// slashes and are translated to OS paths internally. Writes are staged to a
// temporary file in the destination directory and published with an atomic
// rename, so readers never observe partial objects.
package posix

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ProviderName is the registered type of this provider.
const ProviderName = "file"

// Provider is a StorageProvider over a base directory.
type Provider struct {
	basePath string
}

// Config holds the posix provider options.
type Config struct {
	// BasePath is the directory all keys are resolved against. Required;
	// must be absolute.
	BasePath string `mapstructure:"base_path"`
}

// New creates a posix storage provider rooted at cfg.BasePath.
func New(cfg Config) (*Provider, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("posix storage provider: %w: base_path is required", types.ErrInvalidArgument)
	}
	if !filepath.IsAbs(cfg.BasePath) {
		return nil, fmt.Errorf("posix storage provider: %w: base_path must be absolute, got %q", types.ErrInvalidArgument, cfg.BasePath)
	}
	return &Provider{basePath: filepath.Clean(cfg.BasePath)}, nil
}

// Name returns the provider type.
func (p *Provider) Name() string {
	return ProviderName
}

// realpath resolves a key to an absolute OS path under the base directory.
func (p *Provider) realpath(path string) string {
	return filepath.Join(p.basePath, filepath.FromSlash(strings.TrimLeft(path, "/")))
}

// relkey converts an absolute OS path back to a forward-slash key relative
// to the base directory.
func (p *Provider) relkey(osPath string) string {
	rel, err := filepath.Rel(p.basePath, osPath)
	if err != nil {
		return filepath.ToSlash(osPath)
	}
	return filepath.ToSlash(rel)
}

// etag derives an opaque entity tag from file size and mtime. It changes
// whenever the file content plausibly changed.
func etag(info os.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano())
}

// LocalPath exposes the on-disk location of a key so file handles can
// operate on posix-backed objects in place.
func (p *Provider) LocalPath(path string) string {
	return p.realpath(path)
}

// PutObject writes an object via a temporary file and an atomic rename.
func (p *Provider) PutObject(ctx context.Context, path string, body io.Reader, size int64, opts *types.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := p.realpath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}

	if opts != nil && (opts.IfMatch != "" || opts.IfNoneMatch != "") {
		info, statErr := os.Stat(target)
		switch {
		case opts.IfNoneMatch == "*" && statErr == nil:
			return fmt.Errorf("object %q already exists: %w", path, types.ErrPreconditionFailed)
		case opts.IfMatch != "" && (statErr != nil || etag(info) != opts.IfMatch):
			return fmt.Errorf("etag mismatch on %q: %w", path, types.ErrPreconditionFailed)
		}
	}

	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write object %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync object %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close object %q: %w", path, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish object %q: %w", path, err)
	}
	return nil
}

// GetObject opens an object for reading, optionally restricted to a byte
// range.
func (p *Provider) GetObject(ctx context.Context, path string, byteRange *types.Range) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.realpath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q: %w", path, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object %q: %w", path, err)
	}

	if byteRange == nil {
		return f, nil
	}

	if _, err := f.Seek(byteRange.Offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek object %q: %w", path, err)
	}
	return &rangeReader{Reader: io.LimitReader(f, byteRange.Size), closer: f}, nil
}

type rangeReader struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReader) Close() error {
	return r.closer.Close()
}

// CopyObject copies a file within the base directory.
func (p *Provider) CopyObject(ctx context.Context, srcPath, dstPath string) error {
	src, err := p.GetObject(ctx, srcPath, nil)
	if err != nil {
		return err
	}
	defer src.Close()
	return p.PutObject(ctx, dstPath, src, -1, nil)
}

// DeleteObject removes a file. Missing files surface as ErrNotFound.
func (p *Provider) DeleteObject(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p.realpath(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %q: %w", path, types.ErrNotFound)
		}
		return fmt.Errorf("failed to delete object %q: %w", path, err)
	}
	return nil
}

// GetObjectMetadata stats a file or directory.
func (p *Provider) GetObjectMetadata(ctx context.Context, path string) (*types.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.realpath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q: %w", path, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat object %q: %w", path, err)
	}

	key := strings.TrimLeft(path, "/")
	if info.IsDir() {
		if !strings.HasSuffix(key, "/") {
			key += "/"
		}
		return &types.ObjectMetadata{
			Key:          key,
			Type:         types.ObjectTypeDirectory,
			LastModified: info.ModTime().UTC(),
		}, nil
	}

	return &types.ObjectMetadata{
		Key:           key,
		Type:          types.ObjectTypeFile,
		ContentLength: info.Size(),
		LastModified:  info.ModTime().UTC(),
		ETag:          etag(info),
	}, nil
}

// ListObjects walks the base directory and yields entries under the prefix
// in lexicographic key order.
func (p *Provider) ListObjects(ctx context.Context, prefix string, opts *types.ListOptions) types.ObjectIterator {
	if opts == nil {
		opts = &types.ListOptions{Recursive: true}
	}

	return func(yield func(*types.ObjectMetadata, error) bool) {
		entries, err := p.collect(ctx, prefix, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (p *Provider) collect(ctx context.Context, prefix string, opts *types.ListOptions) ([]*types.ObjectMetadata, error) {
	prefix = strings.TrimLeft(prefix, "/")

	// The walk starts at the directory portion of the prefix; the prefix
	// itself may be a partial file name.
	walkDir := prefix
	if !strings.HasSuffix(walkDir, "/") {
		if idx := strings.LastIndex(walkDir, "/"); idx >= 0 {
			walkDir = walkDir[:idx+1]
		} else {
			walkDir = ""
		}
	}
	root := p.realpath(walkDir)

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	var entries []*types.ObjectMetadata
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dirents, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read directory %q: %w", dir, err)
		}
		sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })

		for _, dirent := range dirents {
			osPath := filepath.Join(dir, dirent.Name())
			key := p.relkey(osPath)

			if dirent.IsDir() {
				dirKey := key + "/"
				inScope := strings.HasPrefix(dirKey, prefix) || strings.HasPrefix(prefix, dirKey)
				if !inScope {
					continue
				}
				if strings.HasPrefix(dirKey, prefix) && opts.IncludeDirectories {
					if meta := p.direntMeta(dirent, dirKey); meta != nil && inRange(dirKey, opts) {
						entries = append(entries, meta)
					}
				}
				if opts.Recursive {
					if err := walk(osPath); err != nil {
						return err
					}
				}
				continue
			}

			if !strings.HasPrefix(key, prefix) || !inRange(key, opts) {
				continue
			}
			if meta := p.direntMeta(dirent, key); meta != nil {
				entries = append(entries, meta)
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (p *Provider) direntMeta(dirent os.DirEntry, key string) *types.ObjectMetadata {
	info, err := dirent.Info()
	if err != nil {
		// Raced with a concurrent delete; skip the entry.
		return nil
	}
	if dirent.IsDir() {
		return &types.ObjectMetadata{
			Key:          key,
			Type:         types.ObjectTypeDirectory,
			LastModified: info.ModTime().UTC(),
		}
	}
	return &types.ObjectMetadata{
		Key:           key,
		Type:          types.ObjectTypeFile,
		ContentLength: info.Size(),
		LastModified:  info.ModTime().UTC(),
		ETag:          etag(info),
	}
}

func inRange(key string, opts *types.ListOptions) bool {
	if opts.StartAfter != "" && key <= opts.StartAfter {
		return false
	}
	if opts.EndAt != "" && key > opts.EndAt {
		return false
	}
	return true
}

// IsFile reports whether the path refers to a regular file.
func (p *Provider) IsFile(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(p.realpath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
