package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// DefaultManifestBaseDir is the conventional manifest directory name used
// when the configured path does not already point inside one.
const DefaultManifestBaseDir = ".msc_manifests"

// partLoadConcurrency bounds parallel part fetches during a load.
const partLoadConcurrency = 8

// Config holds the manifest provider options.
type Config struct {
	// ManifestPath is the manifest directory, relative to the storage
	// provider's base path. Defaults to ".msc_manifests".
	ManifestPath string `mapstructure:"manifest_path"`

	// Writable enables AddFile/RemoveFile/CommitUpdates.
	Writable bool `mapstructure:"writable"`

	// LocalCachePath, when set, memoizes parsed part files in a local
	// badger database keyed by (generation, part path), so re-opening a
	// large manifest skips remote part fetches.
	LocalCachePath string `mapstructure:"local_cache_path"`
}

// Provider serves listings and metadata from a manifest generation held in
// memory, merged with uncommitted local mutations.
type Provider struct {
	storage      types.StorageProvider
	manifestPath string
	writable     bool
	partCache    *partCache

	mu             sync.RWMutex
	files          map[string]*types.ObjectMetadata
	pendingAdds    map[string]*types.ObjectMetadata
	pendingRemoves map[string]struct{}
	generation     string
}

// New creates a manifest metadata provider and loads the current generation.
// A manifest directory with no generations yields an empty provider.
func New(ctx context.Context, storage types.StorageProvider, cfg Config) (*Provider, error) {
	manifestPath := strings.Trim(cfg.ManifestPath, "/")
	if manifestPath == "" {
		manifestPath = DefaultManifestBaseDir
	}

	p := &Provider{
		storage:        storage,
		manifestPath:   manifestPath,
		writable:       cfg.Writable,
		files:          make(map[string]*types.ObjectMetadata),
		pendingAdds:    make(map[string]*types.ObjectMetadata),
		pendingRemoves: make(map[string]struct{}),
	}

	if cfg.LocalCachePath != "" {
		cache, err := openPartCache(cfg.LocalCachePath)
		if err != nil {
			logger.Warn("manifest part cache disabled: %v", err)
		} else {
			p.partCache = cache
		}
	}

	if err := p.load(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the local part cache, if any.
func (p *Provider) Close() error {
	if p.partCache != nil {
		return p.partCache.close()
	}
	return nil
}

// Generation returns the id of the loaded generation, or "" when the
// manifest is empty.
func (p *Provider) Generation() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// load discovers the current generation and populates the in-memory map.
func (p *Provider) load(ctx context.Context) error {
	generation, err := p.findCurrentGeneration(ctx)
	if err != nil {
		return err
	}
	if generation == "" {
		logger.Debug("no manifest generation found under %q", p.manifestPath)
		return nil
	}

	generationDir := util.JoinPaths(p.manifestPath, generation)
	indexPath := util.JoinPaths(generationDir, IndexFileName)

	indexData, err := p.getObjectBytes(ctx, indexPath)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: generation %q has no index", types.ErrManifestCorrupt, generation)
		}
		return err
	}

	index, err := ParseIndex(indexData)
	if err != nil {
		return err
	}

	files := make(map[string]*types.ObjectMetadata)
	var filesMu sync.Mutex

	loadPool := pool.New().WithErrors().WithMaxGoroutines(partLoadConcurrency)
	for _, part := range index.Parts {
		loadPool.Go(func() error {
			entries, err := p.loadPart(ctx, generation, generationDir, part)
			if err != nil {
				return err
			}
			filesMu.Lock()
			for _, meta := range entries {
				files[meta.Key] = meta
			}
			filesMu.Unlock()
			return nil
		})
	}
	if err := loadPool.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	p.files = files
	p.generation = generation
	p.mu.Unlock()

	logger.Debug("loaded manifest generation %q: %d objects, %d parts", generation, len(files), len(index.Parts))
	return nil
}

// findCurrentGeneration scans the manifest directory for generation index
// files and returns the lexicographically greatest generation id.
func (p *Provider) findCurrentGeneration(ctx context.Context) (string, error) {
	search := []string{p.manifestPath}
	if !strings.Contains("/"+p.manifestPath+"/", "/"+DefaultManifestBaseDir+"/") {
		search = append(search, util.JoinPaths(p.manifestPath, DefaultManifestBaseDir))
	}

	for _, base := range search {
		var generations []string
		for meta, err := range p.storage.ListObjects(ctx, base+"/", &types.ListOptions{Recursive: true}) {
			if err != nil {
				return "", err
			}
			rest := strings.TrimPrefix(meta.Key, base+"/")
			dir, file := "", rest
			if idx := strings.LastIndex(rest, "/"); idx >= 0 {
				dir, file = rest[:idx], rest[idx+1:]
			}
			if file == IndexFileName && dir != "" && !strings.Contains(dir, "/") {
				generations = append(generations, dir)
			}
		}
		if len(generations) > 0 {
			sort.Strings(generations)
			if base != p.manifestPath {
				p.manifestPath = base
			}
			return generations[len(generations)-1], nil
		}
	}
	return "", nil
}

// loadPart reads and parses one part file, consulting the local part cache
// first. Parsing is streamed line by line to bound memory.
func (p *Provider) loadPart(ctx context.Context, generation, generationDir string, part PartReference) ([]*types.ObjectMetadata, error) {
	if p.partCache != nil {
		if entries, ok := p.partCache.get(generation, part.Path); ok {
			return entries, nil
		}
	}

	partPath := part.Path
	if !strings.HasPrefix(partPath, "/") {
		partPath = util.JoinPaths(generationDir, partPath)
	}

	rc, err := p.storage.GetObject(ctx, partPath, nil)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: index references missing part %q", types.ErrManifestCorrupt, part.Path)
		}
		return nil, err
	}
	defer rc.Close()

	var entries []*types.ObjectMetadata
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		meta, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("part %q: %w", part.Path, err)
		}
		entries = append(entries, meta)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read part %q: %v", types.ErrManifestCorrupt, part.Path, err)
	}

	if p.partCache != nil {
		p.partCache.put(generation, part.Path, entries)
	}
	return entries, nil
}

func (p *Provider) getObjectBytes(ctx context.Context, path string) ([]byte, error) {
	rc, err := p.storage.GetObject(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergedKeys returns the sorted keys visible through the provider: committed
// entries plus pending additions, minus pending removals.
func (p *Provider) mergedKeys() []string {
	keys := make([]string, 0, len(p.files)+len(p.pendingAdds))
	for key := range p.files {
		if _, removed := p.pendingRemoves[key]; removed {
			continue
		}
		keys = append(keys, key)
	}
	for key := range p.pendingAdds {
		if _, exists := p.files[key]; !exists {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (p *Provider) lookup(key string) (*types.ObjectMetadata, bool) {
	if _, removed := p.pendingRemoves[key]; removed {
		return nil, false
	}
	if meta, ok := p.pendingAdds[key]; ok {
		return meta, true
	}
	meta, ok := p.files[key]
	return meta, ok
}

// ListObjects serves a listing from the in-memory catalog. No backend
// listing is issued.
func (p *Provider) ListObjects(ctx context.Context, prefix string, opts *types.ListOptions) types.ObjectIterator {
	if opts == nil {
		opts = &types.ListOptions{Recursive: true}
	}
	prefix = strings.TrimLeft(prefix, "/")

	return func(yield func(*types.ObjectMetadata, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		p.mu.RLock()
		keys := p.mergedKeys()
		visible := make(map[string]*types.ObjectMetadata, len(keys))
		for _, key := range keys {
			if meta, ok := p.lookup(key); ok {
				visible[key] = meta
			}
		}
		p.mu.RUnlock()

		seenDirs := make(map[string]bool)
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if opts.StartAfter != "" && key <= opts.StartAfter {
				continue
			}
			if opts.EndAt != "" && key > opts.EndAt {
				break
			}

			relative := key[len(prefix):]
			if idx := strings.Index(relative, "/"); idx >= 0 && !opts.Recursive {
				dirKey := prefix + relative[:idx+1]
				if opts.IncludeDirectories && !seenDirs[dirKey] {
					seenDirs[dirKey] = true
					if !yield(&types.ObjectMetadata{
						Key:          dirKey,
						Type:         types.ObjectTypeDirectory,
						LastModified: visible[key].LastModified,
					}, nil) {
						return
					}
				}
				continue
			}

			if !yield(visible[key], nil) {
				return
			}
		}
	}
}

// GetObjectMetadata looks a key up in the catalog.
func (p *Provider) GetObjectMetadata(ctx context.Context, path string, includePending bool) (*types.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.TrimLeft(path, "/")

	p.mu.RLock()
	defer p.mu.RUnlock()

	if includePending {
		if meta, ok := p.lookup(key); ok {
			return meta, nil
		}
	} else if meta, ok := p.files[key]; ok {
		return meta, nil
	}
	return nil, fmt.Errorf("object %q: %w", path, types.ErrNotFound)
}

// RealPath translates a user-visible path to the physical path and reports
// whether the committed catalog knows it. Manifest keys are already
// physical, so the translation is the identity.
func (p *Provider) RealPath(path string) (string, bool) {
	key := strings.TrimLeft(path, "/")
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.files[key]
	return path, exists
}

// AddFile stages an addition. An existing key's metadata is replaced.
func (p *Provider) AddFile(path string, metadata *types.ObjectMetadata) error {
	if !p.writable {
		return fmt.Errorf("%w: manifest updates are not enabled for this profile", types.ErrInvalidArgument)
	}

	key := strings.TrimLeft(path, "/")
	meta := *metadata
	meta.Key = key

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingRemoves, key)
	p.pendingAdds[key] = &meta
	return nil
}

// RemoveFile stages a removal.
func (p *Provider) RemoveFile(path string) error {
	if !p.writable {
		return fmt.Errorf("%w: manifest updates are not enabled for this profile", types.ErrInvalidArgument)
	}

	key := strings.TrimLeft(path, "/")

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, pending := p.pendingAdds[key]; pending {
		delete(p.pendingAdds, key)
		return nil
	}
	if _, exists := p.files[key]; !exists {
		return fmt.Errorf("object %q: %w", path, types.ErrNotFound)
	}
	p.pendingRemoves[key] = struct{}{}
	return nil
}

// IsWritable reports whether mutations are enabled.
func (p *Provider) IsWritable() bool {
	return p.writable
}

// CommitUpdates writes a new generation containing the merged catalog and
// clears the pending buffers. With nothing pending it returns the current
// generation unchanged. No locking is attempted between concurrent
// committers; the generation with the greater id wins at next load.
func (p *Provider) CommitUpdates(ctx context.Context) (string, error) {
	if !p.writable {
		return "", fmt.Errorf("%w: manifest updates are not enabled for this profile", types.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pendingAdds) == 0 && len(p.pendingRemoves) == 0 {
		return p.generation, nil
	}

	// Apply pending mutations to the committed view. Removes of keys
	// absent from the base map are no-ops.
	for key, meta := range p.pendingAdds {
		p.files[key] = meta
	}
	for key := range p.pendingRemoves {
		delete(p.files, key)
	}

	generation := newGenerationID(p.generation, time.Now())
	if err := p.writeGeneration(ctx, generation); err != nil {
		return "", err
	}

	p.pendingAdds = make(map[string]*types.ObjectMetadata)
	p.pendingRemoves = make(map[string]struct{})
	p.generation = generation

	logger.Info("committed manifest generation %q (%d objects)", generation, len(p.files))
	return generation, nil
}

// writeGeneration persists the current files map as a new generation: part
// files first, the index last, so a reader never observes an index whose
// parts are missing.
func (p *Provider) writeGeneration(ctx context.Context, generation string) error {
	generationDir := util.JoinPaths(p.manifestPath, generation)

	keys := make([]string, 0, len(p.files))
	for key := range p.files {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []PartReference
	for start := 0; start < len(keys) || (len(keys) == 0 && start == 0); start += partMaxEntries {
		end := start + partMaxEntries
		if end > len(keys) {
			end = len(keys)
		}

		var buf bytes.Buffer
		for _, key := range keys[start:end] {
			line, err := marshalEntry(p.files[key])
			if err != nil {
				return fmt.Errorf("failed to encode manifest entry %q: %w", key, err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}

		partRef := PartReference{Path: partFileName(len(parts) + 1)}
		partPath := util.JoinPaths(generationDir, partRef.Path)
		if err := p.storage.PutObject(ctx, partPath, bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil); err != nil {
			return fmt.Errorf("failed to write manifest part %q: %w", partRef.Path, err)
		}
		parts = append(parts, partRef)

		if len(keys) == 0 {
			break
		}
	}

	index := &Index{Version: ManifestVersion, Parts: parts}
	indexData, err := index.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode manifest index: %w", err)
	}
	indexPath := util.JoinPaths(generationDir, IndexFileName)
	if err := p.storage.PutObject(ctx, indexPath, bytes.NewReader(indexData), int64(len(indexData)), nil); err != nil {
		return fmt.Errorf("failed to write manifest index: %w", err)
	}
	return nil
}
