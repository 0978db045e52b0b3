// Package cache implements the local object-body cache: a size-bounded,
// ETag-validating store of downloaded bodies shared by every client in the
// process and, through the file system, with concurrent peer processes.
//
// On-disk layout under {cache_path}/{profile}:
//
//	{fingerprint}       object body
//	{fingerprint}.meta  serialized cache entry (yaml)
//	{fingerprint}.lock  inter-process lock held during population
//	.index              advisory summary of on-disk entries
//
// The file system is the authoritative state; the in-memory index and the
// .index file are hints. Atomic rename plus per-entry advisory locks are the
// only cross-process coordination primitives.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Eviction policy names.
const (
	PolicyFIFO       = "fifo"
	PolicyLRU        = "lru"
	PolicyRandom     = "random"
	PolicyNoEviction = "no_eviction"
)

// DefaultRefreshInterval is the default period between cache refreshes.
const DefaultRefreshInterval = 300 * time.Second

// EvictionPolicyConfig selects and paces the eviction policy.
type EvictionPolicyConfig struct {
	// Policy is one of "fifo", "lru", "random", "no_eviction".
	Policy string `mapstructure:"policy" validate:"omitempty,oneof=fifo lru random no_eviction"`

	// RefreshInterval is the seconds between directory rescans.
	RefreshInterval int `mapstructure:"refresh_interval" validate:"gte=0"`
}

// BackendConfig locates the cache storage.
type BackendConfig struct {
	// CachePath is the local cache directory.
	CachePath string `mapstructure:"cache_path"`

	// StorageProviderProfile delegates body storage to another msc profile
	// (early access). When set, local disk holds no bodies and eviction is
	// a no-op.
	StorageProviderProfile string `mapstructure:"storage_provider_profile"`
}

// Config is the cache section of the msc configuration.
type Config struct {
	// Size is the cache bound, e.g. "500M", "10G". Plain numbers are bytes.
	Size string `mapstructure:"size"`

	// UseETag validates cached bodies against the backend ETag. Enabled by
	// default.
	UseETag *bool `mapstructure:"use_etag"`

	// EvictionPolicy selects the victim ordering.
	EvictionPolicy EvictionPolicyConfig `mapstructure:"eviction_policy"`

	// CacheBackend locates the cache storage.
	CacheBackend BackendConfig `mapstructure:"cache_backend"`
}

// ETagEnabled resolves the UseETag default (true).
func (c *Config) ETagEnabled() bool {
	if c.UseETag == nil {
		return true
	}
	return *c.UseETag
}

// Policy resolves the eviction policy default (fifo).
func (c *Config) Policy() string {
	if c.EvictionPolicy.Policy == "" {
		return PolicyFIFO
	}
	return strings.ToLower(c.EvictionPolicy.Policy)
}

// RefreshInterval resolves the refresh interval default.
func (c *Config) RefreshInterval() time.Duration {
	if c.EvictionPolicy.RefreshInterval <= 0 {
		return DefaultRefreshInterval
	}
	return time.Duration(c.EvictionPolicy.RefreshInterval) * time.Second
}

// SizeBytes parses the Size field: a decimal number with an optional K, M,
// G, or T suffix (binary multiples).
func (c *Config) SizeBytes() (int64, error) {
	return ParseSize(c.Size)
}

// ParseSize converts "<N>[KMGT]" to bytes.
func ParseSize(size string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(size))
	if s == "" {
		return 0, fmt.Errorf("%w: cache size is required", types.ErrInvalidArgument)
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case 'T':
		multiplier = 1 << 40
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid cache size %q", types.ErrInvalidArgument, size)
	}
	return n * multiplier, nil
}
