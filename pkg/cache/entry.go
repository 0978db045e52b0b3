package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeebo/blake3"
)

// Entry describes one cached body. It is persisted next to the body as a
// {fingerprint}.meta yaml sidecar; timestamps are unix nanoseconds.
type Entry struct {
	Fingerprint  string `yaml:"fingerprint" json:"fingerprint"`
	Size         int64  `yaml:"size" json:"size"`
	InsertedAt   int64  `yaml:"inserted_at" json:"inserted_at"`
	LastAccessed int64  `yaml:"last_accessed" json:"last_accessed"`
	ETag         string `yaml:"etag,omitempty" json:"etag,omitempty"`
}

// Fingerprint hashes (profile, key) into the file name a cached body lives
// under.
func Fingerprint(profile, key string) string {
	sum := blake3.Sum256([]byte(profile + "\x00" + key))
	return fmt.Sprintf("%x", sum[:16])
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %q: %w", path, err)
	}
	return &entry, nil
}

func writeEntry(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
