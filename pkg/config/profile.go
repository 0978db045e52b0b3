package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Profile is a realized profile: provider instances ready for a
// StorageClient to compose.
type Profile struct {
	// Name is the profile name.
	Name string

	// Storage is the profile's storage provider.
	Storage types.StorageProvider

	// Metadata is the profile's metadata provider, or nil.
	Metadata types.MetadataProvider

	// Credentials is the profile's credentials provider, or nil.
	Credentials types.CredentialsProvider
}

// RealizeProfile constructs the providers of a named profile. The profile
// must exist in the configuration (implicit profiles are added with
// AddImplicitProfile before realization).
func (c *Config) RealizeProfile(ctx context.Context, name string) (*Profile, error) {
	return c.realizeProfile(ctx, name, make(map[string]bool))
}

func (c *Config) realizeProfile(ctx context.Context, name string, resolving map[string]bool) (*Profile, error) {
	profileCfg, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: profile %q is not configured", types.ErrInvalidArgument, name)
	}
	if resolving[name] {
		return nil, fmt.Errorf("%w: profile %q participates in a storage_provider_profile cycle", types.ErrInvalidArgument, name)
	}
	resolving[name] = true
	defer delete(resolving, name)

	storageCfg := profileCfg.StorageProvider
	metadataCfg := profileCfg.MetadataProvider
	credentialsCfg := profileCfg.CredentialsProvider

	var bundle types.ProviderBundle
	if profileCfg.ProviderBundle != nil {
		factory, err := bundleFactory(profileCfg.ProviderBundle.Type)
		if err != nil {
			return nil, err
		}
		bundle, err = factory(ctx, profileCfg.ProviderBundle.Options)
		if err != nil {
			return nil, fmt.Errorf("profile %q: failed to build provider bundle: %w", name, err)
		}
		bundleStorage := bundle.StorageProviderConfig()
		storageCfg = &ProviderConfig{Type: bundleStorage.Type, Options: bundleStorage.Options}
		metadataCfg = nil
		credentialsCfg = nil
	}

	profile := &Profile{Name: name}

	if bundle != nil {
		profile.Credentials = bundle.CredentialsProvider()
	} else if credentialsCfg != nil {
		factory, err := credentialsFactory(credentialsCfg.Type)
		if err != nil {
			return nil, err
		}
		creds, err := factory(ctx, credentialsCfg.Options)
		if err != nil {
			return nil, fmt.Errorf("profile %q: failed to build credentials provider: %w", name, err)
		}
		profile.Credentials = creds
	}

	if storageCfg == nil {
		return nil, fmt.Errorf("%w: profile %q has no storage provider", types.ErrInvalidArgument, name)
	}
	storageFactoryFn, err := storageFactory(storageCfg.Type)
	if err != nil {
		return nil, err
	}
	storage, err := storageFactoryFn(ctx, storageCfg.Options, profile.Credentials)
	if err != nil {
		return nil, fmt.Errorf("profile %q: failed to build storage provider: %w", name, err)
	}
	profile.Storage = storage

	if bundle != nil {
		profile.Metadata = bundle.MetadataProvider()
	} else if metadataCfg != nil {
		factory, err := metadataFactory(metadataCfg.Type)
		if err != nil {
			return nil, err
		}
		deps := MetadataDeps{
			Storage: storage,
			ResolveProfileStorage: func(ctx context.Context, sibling string) (types.StorageProvider, error) {
				resolved, err := c.realizeProfile(ctx, sibling, resolving)
				if err != nil {
					return nil, err
				}
				return resolved.Storage, nil
			},
		}
		metadata, err := factory(ctx, deps, metadataCfg.Options)
		if err != nil {
			return nil, fmt.Errorf("profile %q: failed to build metadata provider: %w", name, err)
		}
		profile.Metadata = metadata
	}

	return profile, nil
}

// IsImplicitProfile reports whether a profile name denotes a synthesized
// profile.
func IsImplicitProfile(name string) bool {
	return strings.HasPrefix(name, "_")
}
