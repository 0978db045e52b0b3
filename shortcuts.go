package msc

import (
	"context"
	"strings"

	"github.com/voegtlel/multi-storage-client/pkg/client"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Read returns the body of the object at url.
func Read(ctx context.Context, url string) ([]byte, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Read(ctx, path, nil)
}

// ReadRange returns a byte range of the object at url.
func ReadRange(ctx context.Context, url string, byteRange *types.Range) ([]byte, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Read(ctx, path, byteRange)
}

// Write stores body at url.
func Write(ctx context.Context, url string, body []byte) error {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return err
	}
	return c.Write(ctx, path, body)
}

// Open returns a file handle on the object at url. Modes "rb" and "wb" are
// supported; written data commits on Close.
func Open(ctx context.Context, url, mode string) (client.FileHandle, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, path, mode)
}

// Delete removes the object at url and any cached copy of it.
func Delete(ctx context.Context, url string) error {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return err
	}
	return c.Delete(ctx, path)
}

// Info returns metadata for the object at url.
func Info(ctx context.Context, url string) (*types.ObjectMetadata, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Info(ctx, path, true)
}

// List iterates entries under a prefix url.
func List(ctx context.Context, url string, opts *types.ListOptions) (types.ObjectIterator, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.List(ctx, path, opts), nil
}

// Glob returns files matching a pattern such as
// "msc://profile/prefix/**/*.tar". Results of msc URLs keep the msc://
// prefix; plain POSIX patterns return plain paths.
func Glob(ctx context.Context, pattern string) ([]string, error) {
	c, path, err := ResolveClient(ctx, pattern)
	if err != nil {
		return nil, err
	}
	keys, err := c.Glob(ctx, path)
	if err != nil {
		return nil, err
	}
	includePrefix := strings.HasPrefix(pattern, types.MSCProtocol)
	return pathsWithPrefix(c.Profile(), keys, includePrefix), nil
}

// IsFile reports whether url denotes an object.
func IsFile(ctx context.Context, url string) (bool, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return false, err
	}
	return c.IsFile(ctx, path)
}

// IsEmpty reports whether no object exists under the prefix url.
func IsEmpty(ctx context.Context, url string) (bool, error) {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return false, err
	}
	return c.IsEmpty(ctx, path)
}

// UploadFile stores a local file at url.
func UploadFile(ctx context.Context, url, localPath string) error {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return err
	}
	return c.UploadFile(ctx, path, localPath)
}

// DownloadFile writes the object at url to a local path.
func DownloadFile(ctx context.Context, url, localPath string) error {
	c, path, err := ResolveClient(ctx, url)
	if err != nil {
		return err
	}
	return c.DownloadFile(ctx, path, localPath)
}

// Sync copies every object under sourceURL to targetURL. With
// deleteUnmatched, target objects absent from the source are deleted after
// the copy phase.
func Sync(ctx context.Context, sourceURL, targetURL string, deleteUnmatched bool) error {
	source, sourcePath, err := ResolveClient(ctx, sourceURL)
	if err != nil {
		return err
	}
	target, targetPath, err := ResolveClient(ctx, targetURL)
	if err != nil {
		return err
	}
	return target.SyncFrom(ctx, source, sourcePath, targetPath, deleteUnmatched)
}

// CommitMetadata persists pending manifest mutations for the profile of
// url and returns the new generation id.
func CommitMetadata(ctx context.Context, url string) (string, error) {
	c, _, err := ResolveClient(ctx, url)
	if err != nil {
		return "", err
	}
	return c.CommitMetadata(ctx)
}
