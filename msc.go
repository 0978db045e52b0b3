// Package msc is the public entry point of the multi-storage client: a
// unified object/file API over heterogeneous storage backends, addressed by
// profile-scoped URLs of the form msc://{profile}/{key}.
//
// Foreign URLs (s3://, gs://, ais://), file:// URLs, and plain POSIX paths
// are accepted too: they are rewritten through the configured path mapping
// or served by an implicit profile synthesized on first use.
//
// Clients are constructed lazily, one per profile, and retained for the
// life of the process.
package msc

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/voegtlel/multi-storage-client/pkg/cache"
	"github.com/voegtlel/multi-storage-client/pkg/client"
	"github.com/voegtlel/multi-storage-client/pkg/config"
	"github.com/voegtlel/multi-storage-client/pkg/telemetry"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ImplicitFileProfile is the implicit profile synthesized for POSIX paths
// and file:// URLs, rooted at "/".
const ImplicitFileProfile = "_file"

// profilePattern matches explicit profile names in msc URLs. Implicit
// profiles carry a leading underscore.
var profilePattern = regexp.MustCompile(`^_?[A-Za-z0-9][A-Za-z0-9._-]*$`)

// clientRegistry owns the process-wide configuration, telemetry, and the
// lazily constructed per-profile clients.
type clientRegistry struct {
	mu        sync.Mutex
	cfg       *config.Config
	pathMap   *config.PathMapping
	telemetry *telemetry.Telemetry
	clients   map[string]*client.StorageClient
}

var registry = &clientRegistry{clients: make(map[string]*client.StorageClient)}

// Configure replaces the process configuration. Existing clients are
// dropped; subsequent calls construct clients from the new configuration.
func Configure(cfg *config.Config) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.cfg = cfg
	registry.pathMap = config.NewPathMapping(cfg.PathMapping)
	registry.clients = make(map[string]*client.StorageClient)
}

// loadLocked resolves the configuration and telemetry on first use.
func (r *clientRegistry) loadLocked(ctx context.Context) error {
	if r.cfg == nil {
		cfg, err := config.Discover()
		if err != nil {
			return err
		}
		r.cfg = cfg
		r.pathMap = config.NewPathMapping(cfg.PathMapping)
	}

	if r.telemetry == nil {
		profiles := make([]string, 0, len(r.cfg.Profiles))
		for name := range r.cfg.Profiles {
			profiles = append(profiles, name)
		}
		t, err := telemetry.New(ctx, r.cfg.OpenTelemetry, profiles)
		if err != nil {
			return err
		}
		r.telemetry = t
	}
	return nil
}

// clientFor returns (building on first use) the client of one profile.
func (r *clientRegistry) clientFor(ctx context.Context, profile string) (*client.StorageClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(ctx); err != nil {
		return nil, err
	}
	if existing, ok := r.clients[profile]; ok {
		return existing, nil
	}

	realized, err := r.cfg.RealizeProfile(ctx, profile)
	if err != nil {
		return nil, err
	}

	cacheBackend, err := r.cacheBackendLocked(ctx, profile)
	if err != nil {
		return nil, err
	}

	var recorder telemetry.Recorder
	if r.telemetry != nil {
		recorder = r.telemetry.Recorder()
	}

	c, err := client.New(client.Options{
		Profile:     profile,
		Storage:     realized.Storage,
		Metadata:    realized.Metadata,
		Credentials: realized.Credentials,
		Cache:       cacheBackend,
		Recorder:    recorder,
	})
	if err != nil {
		return nil, err
	}
	r.clients[profile] = c
	return c, nil
}

// cacheBackendLocked realizes the configured cache for one profile: the
// storage-provider-backed mode when cache_backend.storage_provider_profile
// is set, the filesystem backend otherwise. Implicit profiles inherit the
// global cache configuration.
func (r *clientRegistry) cacheBackendLocked(ctx context.Context, profile string) (cache.Backend, error) {
	cacheCfg := r.cfg.Cache
	if cacheCfg == nil {
		return nil, nil
	}

	if backing := cacheCfg.CacheBackend.StorageProviderProfile; backing != "" {
		realized, err := r.cfg.RealizeProfile(ctx, backing)
		if err != nil {
			return nil, fmt.Errorf("failed to realize cache backing profile %q: %w", backing, err)
		}
		return cache.NewStorageBackend(profile, realized.Storage, cacheCfg)
	}
	return cache.NewFSBackend(profile, cacheCfg)
}

// ResolveClient resolves any supported URL to its client and the path
// within that profile.
func ResolveClient(ctx context.Context, rawURL string) (*client.StorageClient, string, error) {
	profile, path, err := resolveURL(rawURL)
	if err != nil {
		return nil, "", err
	}
	c, err := registry.clientFor(ctx, profile)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// resolveURL maps a URL or path onto (profile, key), synthesizing implicit
// profiles for foreign schemes.
func resolveURL(rawURL string) (string, string, error) {
	// pathlib-style normalization collapses "msc://" to "msc:/".
	if strings.HasPrefix(rawURL, "msc:/") && !strings.HasPrefix(rawURL, types.MSCProtocol) {
		rawURL = strings.Replace(rawURL, "msc:/", types.MSCProtocol, 1)
	}

	if strings.HasPrefix(rawURL, types.MSCProtocol) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("%w: malformed URL %q: %v", types.ErrInvalidArgument, rawURL, err)
		}
		profile := u.Host
		if !profilePattern.MatchString(profile) {
			return "", "", fmt.Errorf("%w: invalid profile name %q in %q", types.ErrInvalidArgument, profile, rawURL)
		}
		return profile, strings.TrimPrefix(u.Path, "/"), nil
	}

	return resolveForeignURL(rawURL)
}

func resolveForeignURL(rawURL string) (string, string, error) {
	// Longest-prefix match against the configured path mapping first.
	registry.mu.Lock()
	pathMap := registry.pathMap
	registry.mu.Unlock()
	if pathMap != nil {
		if profile, path, ok := pathMap.Find(rawURL); ok {
			return profile, path, nil
		}
	}

	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("%w: malformed URL %q: %v", types.ErrInvalidArgument, rawURL, err)
		}
		if err := ensureImplicitProfile(ImplicitFileProfile, "file", "/"); err != nil {
			return "", "", err
		}
		return ImplicitFileProfile, u.Path, nil
	}
	if strings.HasPrefix(rawURL, "/") {
		if err := ensureImplicitProfile(ImplicitFileProfile, "file", "/"); err != nil {
			return "", "", err
		}
		return ImplicitFileProfile, filepath.Clean(rawURL), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: malformed URL %q: %v", types.ErrInvalidArgument, rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		// A relative POSIX path.
		abs, err := filepath.Abs(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("%w: cannot resolve path %q: %v", types.ErrInvalidArgument, rawURL, err)
		}
		if err := ensureImplicitProfile(ImplicitFileProfile, "file", "/"); err != nil {
			return "", "", err
		}
		return ImplicitFileProfile, abs, nil
	}

	switch scheme {
	case "s3", "gs", "ais":
	default:
		return "", "", fmt.Errorf("%w: unknown URL %q: expected msc://, a supported scheme (s3://, gs://, ais://), or a POSIX path", types.ErrInvalidArgument, rawURL)
	}

	bucket := u.Host
	if bucket == "" {
		return "", "", fmt.Errorf("%w: bucket name is required in %q", types.ErrInvalidArgument, rawURL)
	}

	// Implicit profile naming is stable across processes: _{scheme}-{bucket}.
	profile := fmt.Sprintf("_%s-%s", scheme, bucket)
	if err := ensureImplicitProfile(profile, scheme, bucket); err != nil {
		return "", "", err
	}
	return profile, strings.TrimPrefix(u.Path, "/"), nil
}

// ensureImplicitProfile registers the synthesized profile in the loaded
// configuration, loading it first if needed.
func ensureImplicitProfile(profile, scheme, basePath string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if err := registry.loadLocked(context.Background()); err != nil {
		return err
	}
	if _, ok := registry.cfg.Profiles[profile]; ok {
		return nil
	}
	return registry.cfg.AddImplicitProfile(profile, scheme, basePath)
}

// Shutdown flushes telemetry and drops all clients. Intended for process
// exit; the registry is usable again afterwards.
func Shutdown(ctx context.Context) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var err error
	if registry.telemetry != nil {
		err = registry.telemetry.Shutdown(ctx)
		registry.telemetry = nil
	}
	registry.cfg = nil
	registry.pathMap = nil
	registry.clients = make(map[string]*client.StorageClient)
	return err
}

// mscPath formats a key back into an msc URL.
func mscPath(profile, key string) string {
	return types.MSCProtocol + profile + "/" + strings.TrimLeft(key, "/")
}

// pathsWithPrefix prepends the msc URL prefix to keys when wanted.
func pathsWithPrefix(profile string, keys []string, includePrefix bool) []string {
	if !includePrefix {
		return keys
	}
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = mscPath(profile, key)
	}
	return out
}
