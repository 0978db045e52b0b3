package cache

import (
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/voegtlel/multi-storage-client/internal/logger"
)

// indexHint is the advisory .index document. The file system remains the
// authoritative state; the hint only speeds up startup. Concurrent writers
// may overwrite each other and readers must tolerate garbage.
type indexHint struct {
	RefreshedAt int64    `json:"refreshed_at"`
	Entries     []*Entry `json:"entries"`
}

func readIndexHint(path string, into map[string]*Entry) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var hint indexHint
	if err := sonic.Unmarshal(data, &hint); err != nil {
		logger.Debug("cache: ignoring unreadable index hint: %v", err)
		return
	}
	for _, entry := range hint.Entries {
		if entry != nil && entry.Fingerprint != "" {
			into[entry.Fingerprint] = entry
		}
	}
}

func writeIndexHint(path string, entries []*Entry) {
	hint := indexHint{
		RefreshedAt: time.Now().UnixNano(),
		Entries:     entries,
	}
	data, err := sonic.Marshal(&hint)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Debug("cache: failed to write index hint: %v", err)
	}
}
