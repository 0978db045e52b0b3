package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// StorageProviderFactory realizes a storage provider from its options map.
// creds is the profile's credentials provider, or nil.
type StorageProviderFactory func(ctx context.Context, options map[string]any, creds types.CredentialsProvider) (types.StorageProvider, error)

// MetadataDeps gives metadata provider factories access to the profile's
// storage provider and to sibling profiles (for storage_provider_profile
// indirection).
type MetadataDeps struct {
	// Storage is the profile's own storage provider.
	Storage types.StorageProvider

	// ResolveProfileStorage realizes the storage provider of a sibling
	// profile by name.
	ResolveProfileStorage func(ctx context.Context, profile string) (types.StorageProvider, error)
}

// MetadataProviderFactory realizes a metadata provider.
type MetadataProviderFactory func(ctx context.Context, deps MetadataDeps, options map[string]any) (types.MetadataProvider, error)

// CredentialsProviderFactory realizes a credentials provider.
type CredentialsProviderFactory func(ctx context.Context, options map[string]any) (types.CredentialsProvider, error)

// ProviderBundleFactory realizes a provider bundle.
type ProviderBundleFactory func(ctx context.Context, options map[string]any) (types.ProviderBundle, error)

// providerRegistry resolves provider type strings to factories. Host
// applications extend it with RegisterXxx to plug in external providers
// (e.g. a "gcs" or "aistore" backend, or a custom bundle).
type providerRegistry struct {
	mu          sync.RWMutex
	storage     map[string]StorageProviderFactory
	metadata    map[string]MetadataProviderFactory
	credentials map[string]CredentialsProviderFactory
	bundles     map[string]ProviderBundleFactory
}

var registry = &providerRegistry{
	storage:     make(map[string]StorageProviderFactory),
	metadata:    make(map[string]MetadataProviderFactory),
	credentials: make(map[string]CredentialsProviderFactory),
	bundles:     make(map[string]ProviderBundleFactory),
}

// RegisterStorageProvider adds (or replaces) a storage provider factory.
func RegisterStorageProvider(providerType string, factory StorageProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.storage[providerType] = factory
}

// RegisterMetadataProvider adds (or replaces) a metadata provider factory.
func RegisterMetadataProvider(providerType string, factory MetadataProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.metadata[providerType] = factory
}

// RegisterCredentialsProvider adds (or replaces) a credentials provider
// factory.
func RegisterCredentialsProvider(providerType string, factory CredentialsProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.credentials[providerType] = factory
}

// RegisterProviderBundle adds (or replaces) a provider bundle factory.
func RegisterProviderBundle(bundleType string, factory ProviderBundleFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.bundles[bundleType] = factory
}

func storageFactory(providerType string) (StorageProviderFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.storage[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown storage provider type %q", types.ErrInvalidArgument, providerType)
	}
	return factory, nil
}

func metadataFactory(providerType string) (MetadataProviderFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.metadata[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown metadata provider type %q", types.ErrInvalidArgument, providerType)
	}
	return factory, nil
}

func credentialsFactory(providerType string) (CredentialsProviderFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.credentials[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown credentials provider type %q", types.ErrInvalidArgument, providerType)
	}
	return factory, nil
}

func bundleFactory(bundleType string) (ProviderBundleFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.bundles[bundleType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider bundle type %q", types.ErrInvalidArgument, bundleType)
	}
	return factory, nil
}
