// Package manifest implements the catalog-backed MetadataProvider.
//
// A manifest is a timestamped, immutable generation under a base directory:
//
//	{manifest_path}/{timestamp}/msc_manifest_index.json
//	{manifest_path}/{timestamp}/parts/msc_manifest_part000001.jsonl
//
// The index references part files; each part is a JSON-lines sequence of
// object entries. The lexicographically greatest timestamp is the current
// generation. Mutations are staged in memory and persisted by committing a
// new generation; generations are never rewritten in place.
package manifest

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

const (
	// ManifestVersion is the only index schema version understood.
	ManifestVersion = "1.0"

	// IndexFileName is the name of the generation index file.
	IndexFileName = "msc_manifest_index.json"

	// PartsChildDir is the subdirectory holding part files.
	PartsChildDir = "parts"

	partPrefix      = "msc_manifest_part"
	partSuffix      = ".jsonl"
	sequencePadding = 6

	// partMaxEntries bounds the number of lines per part file written by a
	// commit.
	partMaxEntries = 100_000

	// generationTimeFormat is fixed-width so generation ids order
	// lexicographically the same as chronologically.
	generationTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// PartReference points at one part file, relative to the generation
// directory.
type PartReference struct {
	Path string `json:"path"`
}

// Index is the generation index document.
type Index struct {
	Version string          `json:"version"`
	Parts   []PartReference `json:"parts"`
}

// ParseIndex decodes and validates an index document.
func ParseIndex(data []byte) (*Index, error) {
	var index Index
	if err := sonic.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: failed to parse index: %v", types.ErrManifestCorrupt, err)
	}
	if index.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %q", types.ErrManifestCorrupt, index.Version)
	}
	for _, part := range index.Parts {
		if part.Path == "" {
			return nil, fmt.Errorf("%w: index references a part with no path", types.ErrManifestCorrupt)
		}
	}
	return &index, nil
}

// Marshal encodes the index document.
func (i *Index) Marshal() ([]byte, error) {
	return sonic.Marshal(i)
}

// partFileName formats the name of the n-th part file (1-based).
func partFileName(sequence int) string {
	return fmt.Sprintf("%s/%s%0*d%s", PartsChildDir, partPrefix, sequencePadding, sequence, partSuffix)
}

// entry is the wire form of one part line. The manifest format calls the
// object size "size_bytes".
type entry struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"size_bytes"`
	LastModified string            `json:"last_modified"`
	Type         string            `json:"type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	StorageClass string            `json:"storage_class,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// parseEntry decodes one part line into object metadata.
func parseEntry(line []byte) (*types.ObjectMetadata, error) {
	var e entry
	if err := sonic.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: failed to parse part line: %v", types.ErrManifestCorrupt, err)
	}
	if e.Key == "" {
		return nil, fmt.Errorf("%w: part line missing key", types.ErrManifestCorrupt)
	}

	lastModified, err := time.Parse(time.RFC3339, e.LastModified)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid last_modified on key %q: %v", types.ErrManifestCorrupt, e.Key, err)
	}

	objType := e.Type
	if objType == "" {
		objType = types.ObjectTypeFile
	}

	return &types.ObjectMetadata{
		Key:           e.Key,
		Type:          objType,
		ContentLength: e.SizeBytes,
		LastModified:  lastModified.UTC(),
		ETag:          e.ETag,
		StorageClass:  e.StorageClass,
		Metadata:      e.Metadata,
	}, nil
}

// marshalEntry encodes object metadata as one part line (without the
// trailing newline).
func marshalEntry(meta *types.ObjectMetadata) ([]byte, error) {
	e := entry{
		Key:          meta.Key,
		SizeBytes:    meta.ContentLength,
		LastModified: meta.LastModified.UTC().Format(time.RFC3339Nano),
		ETag:         meta.ETag,
		StorageClass: meta.StorageClass,
		Metadata:     meta.Metadata,
	}
	if meta.Type != types.ObjectTypeFile {
		e.Type = meta.Type
	}
	return sonic.Marshal(&e)
}

// newGenerationID returns a generation id strictly greater than previous.
// Ties with the wall clock are broken by bumping trailing nanoseconds.
func newGenerationID(previous string, now time.Time) string {
	id := now.UTC().Format(generationTimeFormat)
	if previous == "" || id > previous {
		return id
	}
	if prev, err := time.Parse(generationTimeFormat, previous); err == nil {
		return prev.Add(time.Nanosecond).UTC().Format(generationTimeFormat)
	}
	// The previous generation has a foreign id format; suffixing keeps the
	// new id lexicographically greater.
	return previous + "0"
}
