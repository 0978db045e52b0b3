package config

import (
	"sort"
	"strings"

	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// PathMapping rewrites foreign URLs and POSIX paths to msc URLs. Entries
// are ordered by source-prefix length, descending, so the longest matching
// prefix wins.
type PathMapping struct {
	entries []pathMappingEntry
}

type pathMappingEntry struct {
	source      string
	profile     string
	destination string
}

// NewPathMapping builds the ordered mapping from the config's path_mapping
// section. Sources must end in "/"; destinations must be msc:// URLs (both
// enforced by Validate).
func NewPathMapping(mapping map[string]string) *PathMapping {
	pm := &PathMapping{}
	for source, destination := range mapping {
		rest := strings.TrimPrefix(destination, types.MSCProtocol)
		profile, prefix := util.SplitPath(rest)
		if profile == "" {
			continue
		}
		pm.entries = append(pm.entries, pathMappingEntry{
			source:      source,
			profile:     profile,
			destination: prefix,
		})
	}
	sort.Slice(pm.entries, func(i, j int) bool {
		return len(pm.entries[i].source) > len(pm.entries[j].source)
	})
	return pm
}

// Find resolves a URL against the mapping. It returns the destination
// profile and the rewritten path, or ok=false when no source prefix
// matches.
func (pm *PathMapping) Find(url string) (profile, path string, ok bool) {
	for _, entry := range pm.entries {
		if strings.HasPrefix(url, entry.source) {
			relative := strings.TrimPrefix(url, entry.source)
			return entry.profile, util.JoinPaths(entry.destination, relative), true
		}
	}
	return "", "", false
}
