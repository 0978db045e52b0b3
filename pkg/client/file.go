package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// FileHandle is the handle returned by Open: standard seek/read/write
// semantics, with buffered writes flushed and committed on Close.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the path the handle was opened with.
	Name() string
}

// localPather is implemented by providers whose objects are plain local
// files (the posix provider). Handles on such providers operate on the file
// in place instead of staging through a temporary copy.
type localPather interface {
	LocalPath(path string) string
}

// Open returns a handle on the object at path. Supported modes are "rb"
// (and "r") for reading and "wb" (and "w") for writing. Written data is
// buffered in a local staging file and uploaded on Close; a failed commit
// surfaces on Close, not on Write.
func (c *StorageClient) Open(ctx context.Context, path, mode string) (FileHandle, error) {
	switch mode {
	case "r", "rb":
		return c.openRead(ctx, path)
	case "w", "wb":
		return c.openWrite(ctx, path)
	default:
		return nil, types.NewStorageError(types.ErrInvalidArgument, c.profile, "open", path,
			fmt.Errorf("unsupported mode %q", mode))
	}
}

func (c *StorageClient) openRead(ctx context.Context, path string) (FileHandle, error) {
	real := c.realpath(path)

	// Posix-backed profiles read the file in place.
	if lp, ok := c.storage.(localPather); ok {
		f, err := os.Open(lp.LocalPath(real))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, types.NewStorageError(types.ErrNotFound, c.profile, "open", path, err)
			}
			return nil, types.NewStorageError(types.ErrUnavailable, c.profile, "open", path, err)
		}
		return &posixFile{f: f, name: path}, nil
	}

	// Object-backed profiles stage the body locally, preferring a cached
	// copy when the cache keeps local files.
	fetch := func(ctx context.Context) (io.ReadCloser, error) {
		return c.storage.GetObject(ctx, real, nil)
	}

	if c.cache != nil {
		etag := ""
		if c.cache.UseETag() {
			if meta, err := c.info(ctx, path, true); err == nil {
				etag = meta.ETag
			}
		}
		if localPath, ok, err := c.cache.LocalPath(ctx, path, etag, fetch); err == nil && ok {
			f, err := os.Open(localPath)
			if err == nil {
				return &posixFile{f: f, name: path}, nil
			}
		} else if err != nil && !errors.Is(err, types.ErrCacheError) {
			return nil, err
		}
	}

	rc, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	staging, err := stagingFile("msc-read")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(staging, rc); err != nil {
		staging.Close()
		os.Remove(staging.Name())
		return nil, types.NewStorageError(types.ErrUnavailable, c.profile, "open", path, err)
	}
	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		staging.Close()
		os.Remove(staging.Name())
		return nil, types.NewStorageError(types.ErrCacheError, c.profile, "open", path, err)
	}
	return &objectFile{client: c, ctx: ctx, path: path, f: staging, removeOnClose: true}, nil
}

func (c *StorageClient) openWrite(ctx context.Context, path string) (FileHandle, error) {
	staging, err := stagingFile("msc-write")
	if err != nil {
		return nil, err
	}
	return &objectFile{client: c, ctx: ctx, path: path, f: staging, writable: true, removeOnClose: true}, nil
}

func stagingFile(prefix string) (*os.File, error) {
	name := filepath.Join(os.TempDir(), fmt.Sprintf(".%s-%s", prefix, uuid.NewString()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w: %v", types.ErrCacheError, err)
	}
	return f, nil
}

// posixFile is a thin passthrough over a local file.
type posixFile struct {
	f    *os.File
	name string
}

func (p *posixFile) Read(b []byte) (int, error)                 { return p.f.Read(b) }
func (p *posixFile) Write(b []byte) (int, error)                { return p.f.Write(b) }
func (p *posixFile) Seek(off int64, whence int) (int64, error)  { return p.f.Seek(off, whence) }
func (p *posixFile) Close() error                               { return p.f.Close() }
func (p *posixFile) Name() string                               { return p.name }

// objectFile stages an object body in a local file. In write mode the body
// uploads on Close; upload failures surface there.
type objectFile struct {
	client        *StorageClient
	ctx           context.Context
	path          string
	f             *os.File
	writable      bool
	removeOnClose bool
	closed        bool
}

func (o *objectFile) Name() string {
	return o.path
}

func (o *objectFile) Read(b []byte) (int, error) {
	return o.f.Read(b)
}

func (o *objectFile) Write(b []byte) (int, error) {
	if !o.writable {
		return 0, fmt.Errorf("file %q not opened for writing: %w", o.path, types.ErrInvalidArgument)
	}
	return o.f.Write(b)
}

func (o *objectFile) Seek(offset int64, whence int) (int64, error) {
	return o.f.Seek(offset, whence)
}

// Close flushes the staging file and, in write mode, commits the object.
func (o *objectFile) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	var commitErr error
	if o.writable {
		commitErr = o.commit()
	}

	closeErr := o.f.Close()
	if o.removeOnClose {
		os.Remove(o.f.Name())
	}

	if commitErr != nil {
		return commitErr
	}
	return closeErr
}

func (o *objectFile) commit() error {
	if err := o.f.Sync(); err != nil {
		return types.NewStorageError(types.ErrCacheError, o.client.profile, "close", o.path, err)
	}
	info, err := o.f.Stat()
	if err != nil {
		return types.NewStorageError(types.ErrCacheError, o.client.profile, "close", o.path, err)
	}
	if _, err := o.f.Seek(0, io.SeekStart); err != nil {
		return types.NewStorageError(types.ErrCacheError, o.client.profile, "close", o.path, err)
	}
	return o.client.WriteFrom(o.ctx, o.path, o.f, info.Size())
}

// UploadFile stores a local file as an object.
func (c *StorageClient) UploadFile(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return types.NewStorageError(types.ErrNotFound, c.profile, "upload_file", remotePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.NewStorageError(types.ErrUnavailable, c.profile, "upload_file", remotePath, err)
	}
	return c.WriteFrom(ctx, remotePath, f, info.Size())
}

// DownloadFile writes an object body to a local file, publishing it with an
// atomic rename.
func (c *StorageClient) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	var size int64
	return c.instrument(ctx, "download_file", remotePath, &size, func() error {
		rc, err := c.storage.GetObject(ctx, c.realpath(remotePath), nil)
		if err != nil {
			return err
		}
		defer rc.Close()

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return err
		}
		tmp := filepath.Join(filepath.Dir(localPath), "."+filepath.Base(localPath)+"."+uuid.NewString()+".tmp")
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}

		size, err = io.Copy(f, rc)
		if err == nil {
			err = f.Sync()
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			err = os.Rename(tmp, localPath)
		}
		if err != nil {
			os.Remove(tmp)
			return err
		}
		return nil
	})
}

// trimDirPrefix strips a directory prefix from a key, tolerating a missing
// trailing slash on the prefix.
func trimDirPrefix(key, prefix string) string {
	trimmed := strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/"))
	return strings.TrimPrefix(trimmed, "/")
}
