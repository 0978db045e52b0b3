package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/sourcegraph/conc/pool"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Worker sizing environment variables. The implementation fans out over one
// goroutine pool sized by their product, preserving the meaning of the
// operator tuning knobs.
const (
	EnvNumProcesses         = "MSC_NUM_PROCESSES"
	EnvNumThreadsPerProcess = "MSC_NUM_THREADS_PER_PROCESS"
)

func syncWorkerCount() int {
	processes := envInt(EnvNumProcesses, 1)
	threads := envInt(EnvNumThreadsPerProcess, 2*runtime.NumCPU())
	workers := processes * threads
	if workers < 1 {
		return 1
	}
	return workers
}

func envInt(name string, fallback int) int {
	if value := os.Getenv(name); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
		logger.Warn("ignoring invalid %s=%q", name, os.Getenv(name))
	}
	return fallback
}

// SyncFrom copies every object under sourcePath on source to the
// corresponding key under targetPath on this client. Objects already
// present on the target with matching size and ETag are skipped. With
// deleteUnmatched, target objects whose relative path is absent on the
// source are deleted after the copy phase completes; deletions never
// precede copies. No inter-object ordering is guaranteed.
func (c *StorageClient) SyncFrom(ctx context.Context, source *StorageClient, sourcePath, targetPath string, deleteUnmatched bool) error {
	op := func(err error) error {
		if err == nil {
			return nil
		}
		kind := types.ErrorKind(err)
		if kind == nil {
			kind = types.ErrUnavailable
		}
		return types.NewStorageError(kind, c.profile, "sync_from", targetPath, err)
	}

	sourceEntries, err := collectEntries(ctx, source, sourcePath)
	if err != nil {
		return op(err)
	}

	targetEntries, err := collectEntries(ctx, c, targetPath)
	if err != nil {
		return op(err)
	}

	var copies []*types.ObjectMetadata
	for relative, meta := range sourceEntries {
		if existing, ok := targetEntries[relative]; ok && matchMetadata(meta, existing) {
			continue
		}
		copies = append(copies, meta)
	}

	var deletions []string
	if deleteUnmatched {
		for relative := range targetEntries {
			if _, ok := sourceEntries[relative]; !ok {
				deletions = append(deletions, util.JoinPaths(targetPath, relative))
			}
		}
	}

	workers := syncWorkerCount()
	logger.Info("sync: %d object(s) to copy, %d to delete, %d worker(s)", len(copies), len(deletions), workers)

	copyPool := pool.New().WithErrors().WithMaxGoroutines(workers).WithContext(ctx)
	for _, meta := range copies {
		relative := trimDirPrefix(meta.Key, sourcePath)
		copyPool.Go(func(ctx context.Context) error {
			return c.syncOne(ctx, source, meta, util.JoinPaths(targetPath, relative))
		})
	}
	if err := copyPool.Wait(); err != nil {
		// Exhausted per-object failures are collected here; deletions are
		// skipped because the copy phase did not complete.
		return op(fmt.Errorf("sync copy phase failed: %w", err))
	}

	deletePool := pool.New().WithErrors().WithMaxGoroutines(workers).WithContext(ctx)
	for _, target := range deletions {
		deletePool.Go(func(ctx context.Context) error {
			err := c.Delete(ctx, target)
			if err != nil && errors.Is(err, types.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	if err := deletePool.Wait(); err != nil {
		return op(fmt.Errorf("sync delete phase failed: %w", err))
	}

	if c.metadata != nil && c.metadata.IsWritable() {
		if _, err := c.CommitMetadata(ctx); err != nil {
			return err
		}
	}
	return nil
}

// collectEntries lists a prefix into a map keyed by path relative to it.
func collectEntries(ctx context.Context, client *StorageClient, prefix string) (map[string]*types.ObjectMetadata, error) {
	entries := make(map[string]*types.ObjectMetadata)
	for meta, err := range client.List(ctx, prefix, &types.ListOptions{Recursive: true}) {
		if err != nil {
			return nil, err
		}
		if meta.IsDirectory() {
			continue
		}
		entries[trimDirPrefix(meta.Key, prefix)] = meta
	}
	return entries, nil
}

// matchMetadata reports whether a target object already mirrors the source.
func matchMetadata(source, target *types.ObjectMetadata) bool {
	if source.ContentLength != target.ContentLength {
		return false
	}
	if source.ETag != "" && target.ETag != "" {
		return source.ETag == target.ETag
	}
	return !target.LastModified.Before(source.LastModified)
}

// syncOne copies one object, preferring a server-side copy when source and
// target share a backend namespace, and a buffered pipe otherwise.
func (c *StorageClient) syncOne(ctx context.Context, source *StorageClient, meta *types.ObjectMetadata, targetKey string) error {
	if source == c {
		return c.Copy(ctx, meta.Key, targetKey)
	}

	rc, err := source.storage.GetObject(ctx, source.realpath(meta.Key), nil)
	if err != nil {
		return fmt.Errorf("failed to read %q from source: %w", meta.Key, err)
	}
	defer rc.Close()

	if err := c.writeStream(ctx, targetKey, rc, meta.ContentLength); err != nil {
		return fmt.Errorf("failed to write %q: %w", targetKey, err)
	}
	return nil
}

func (c *StorageClient) writeStream(ctx context.Context, path string, body io.Reader, size int64) error {
	reported := size
	return c.instrument(ctx, "sync_copy", path, &reported, func() error {
		return c.write(ctx, path, body, size)
	})
}
