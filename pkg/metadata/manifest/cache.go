package manifest

import (
	"fmt"

	"github.com/bytedance/sonic"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// partCache memoizes parsed part files in a local badger database.
// Generations are immutable, so a (generation, part path) pair never needs
// invalidation; stale generations age out with the database.
//
// The cache is strictly process-local. Failures are logged and treated as
// misses; the manifest load falls back to the storage provider.
type partCache struct {
	db *badger.DB
}

func openPartCache(path string) (*partCache, error) {
	options := badger.DefaultOptions(path).
		WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest part cache at %q: %w", path, err)
	}
	return &partCache{db: db}, nil
}

func (c *partCache) close() error {
	return c.db.Close()
}

func cacheKey(generation, partPath string) []byte {
	return []byte(generation + "\x00" + partPath)
}

func (c *partCache) get(generation, partPath string) ([]*types.ObjectMetadata, bool) {
	var entries []*types.ObjectMetadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(generation, partPath))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return sonic.Unmarshal(value, &entries)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			logger.Warn("manifest part cache read failed for %q: %v", partPath, err)
		}
		return nil, false
	}
	return entries, true
}

func (c *partCache) put(generation, partPath string, entries []*types.ObjectMetadata) {
	value, err := sonic.Marshal(entries)
	if err != nil {
		logger.Warn("manifest part cache encode failed for %q: %v", partPath, err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(generation, partPath), value)
	})
	if err != nil {
		logger.Warn("manifest part cache write failed for %q: %v", partPath, err)
	}
}
