package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/voegtlel/multi-storage-client/pkg/metadata/manifest"
	"github.com/voegtlel/multi-storage-client/pkg/provider/credentials"
	"github.com/voegtlel/multi-storage-client/pkg/provider/memory"
	"github.com/voegtlel/multi-storage-client/pkg/provider/posix"
	"github.com/voegtlel/multi-storage-client/pkg/provider/s3"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// The built-in provider factories register themselves at startup; host
// applications add external backends with the RegisterXxx functions.
func init() {
	RegisterStorageProvider(posix.ProviderName, newPosixProvider)
	RegisterStorageProvider(memory.ProviderName, newMemoryProvider)
	RegisterStorageProvider(s3.ProviderName, newS3Provider)
	RegisterCredentialsProvider(credentials.ProviderName, newStaticCredentials)
	RegisterMetadataProvider("manifest", newManifestProvider)
}

// decodeOptions maps an options tree onto a typed provider config.
func decodeOptions(options map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("%w: failed to decode provider options: %v", types.ErrInvalidArgument, err)
	}
	return nil
}

func newPosixProvider(_ context.Context, options map[string]any, _ types.CredentialsProvider) (types.StorageProvider, error) {
	var cfg posix.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return posix.New(cfg)
}

func newMemoryProvider(_ context.Context, options map[string]any, _ types.CredentialsProvider) (types.StorageProvider, error) {
	var cfg memory.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return memory.New(cfg), nil
}

func newS3Provider(ctx context.Context, options map[string]any, creds types.CredentialsProvider) (types.StorageProvider, error) {
	var cfg s3.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return s3.New(ctx, cfg, creds)
}

func newStaticCredentials(_ context.Context, options map[string]any) (types.CredentialsProvider, error) {
	var cfg credentials.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return credentials.NewStatic(cfg)
}

// manifestOptions extends the manifest config with the sibling-profile
// indirection: when storage_provider_profile is set, the manifest lives on
// that profile's storage instead of the profile's own.
type manifestOptions struct {
	manifest.Config        `mapstructure:",squash"`
	StorageProviderProfile string `mapstructure:"storage_provider_profile"`
}

func newManifestProvider(ctx context.Context, deps MetadataDeps, options map[string]any) (types.MetadataProvider, error) {
	var opts manifestOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	storage := deps.Storage
	if opts.StorageProviderProfile != "" {
		resolved, err := deps.ResolveProfileStorage(ctx, opts.StorageProviderProfile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve manifest storage profile %q: %w", opts.StorageProviderProfile, err)
		}
		storage = resolved
	}

	return manifest.New(ctx, storage, opts.Config)
}
