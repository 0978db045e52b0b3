// Package config loads the msc configuration, validates it, and realizes
// profiles into provider instances.
//
// Configuration sources, in discovery order:
//
//  1. $MSC_CONFIG
//  2. /etc/msc_config.yaml
//  3. ~/.config/msc/config.yaml
//  4. ~/.msc_config.yaml
//  5. the JSON equivalents of 2–4
//
// The first existing file wins. When none exists, a default file-system
// profile rooted at "/" is the entire configuration. Rclone INI files are a
// secondary source; their sections become profiles (see rclone.go).
//
// Every string value in the tree may reference environment variables with
// ${VAR} or $VAR; unresolved references are left literal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/cache"
	"github.com/voegtlel/multi-storage-client/pkg/telemetry"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// DefaultPosixProfile is the predefined profile for POSIX access rooted
// at "/".
const DefaultPosixProfile = "default"

// ProviderConfig selects one provider implementation and its options.
type ProviderConfig struct {
	// Type is the registered provider type.
	Type string `mapstructure:"type" validate:"required"`

	// Options holds type-specific configuration decoded by the factory.
	Options map[string]any `mapstructure:"options"`
}

// ProfileConfig binds the providers of one profile. Exactly one storage
// provider, at most one metadata provider, at most one credentials
// provider — or a provider bundle superseding all three.
type ProfileConfig struct {
	StorageProvider     *ProviderConfig `mapstructure:"storage_provider"`
	MetadataProvider    *ProviderConfig `mapstructure:"metadata_provider"`
	CredentialsProvider *ProviderConfig `mapstructure:"credentials_provider"`
	ProviderBundle      *ProviderConfig `mapstructure:"provider_bundle"`
}

// Config is the top-level msc configuration.
type Config struct {
	Profiles      map[string]*ProfileConfig `mapstructure:"profiles"`
	Cache         *cache.Config             `mapstructure:"cache"`
	OpenTelemetry *telemetry.Config         `mapstructure:"opentelemetry"`
	PathMapping   map[string]string         `mapstructure:"path_mapping"`
}

// FromMap builds a Config from a raw configuration tree, expanding
// environment variables and validating the result. The default posix
// profile is injected when absent.
func FromMap(raw map[string]any) (*Config, error) {
	expanded, _ := util.ExpandEnvVars(raw).(map[string]any)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode configuration: %v", types.ErrInvalidArgument, err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*ProfileConfig)
	}
	injectDefaultProfile(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile loads a YAML or JSON configuration file. The file is parsed
// directly (not through viper) because profile names are case-sensitive map
// keys and must survive verbatim.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file %q: %v", types.ErrInvalidArgument, path, err)
	}

	var raw map[string]any
	if strings.HasSuffix(path, ".json") {
		err = sonic.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file %q: %v", types.ErrInvalidArgument, path, err)
	}
	return FromMap(raw)
}

// Discover loads the configuration from the first file found in the
// discovery order, falling back to the rclone config and finally to the
// default posix-only configuration.
func Discover() (*Config, error) {
	for _, path := range discoveryPaths() {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return FromFile(path)
		}
	}

	if raw, err := readRcloneConfig(); err == nil && raw != nil {
		return FromMap(raw)
	}

	return FromMap(map[string]any{})
}

func discoveryPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{os.Getenv("MSC_CONFIG"), "/etc/msc_config.yaml"}
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".config", "msc", "config.yaml"),
			filepath.Join(home, ".msc_config.yaml"),
		)
	}
	paths = append(paths, "/etc/msc_config.json")
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".config", "msc", "config.json"),
			filepath.Join(home, ".msc_config.json"),
		)
	}
	return paths
}

// injectDefaultProfile predefines the process-wide posix profile unless the
// configuration overrides it.
func injectDefaultProfile(cfg *Config) {
	if _, ok := cfg.Profiles[DefaultPosixProfile]; ok {
		return
	}
	cfg.Profiles[DefaultPosixProfile] = &ProfileConfig{
		StorageProvider: &ProviderConfig{
			Type:    "file",
			Options: map[string]any{"base_path": "/"},
		},
	}
}

// AddImplicitProfile synthesizes a profile for a foreign URL scheme and
// registers it in the configuration. Implicit names start with "_" and are
// exempt from the user profile-name rule.
func (c *Config) AddImplicitProfile(name, protocol, basePath string) error {
	if !strings.HasPrefix(name, "_") {
		return fmt.Errorf("%w: implicit profile %q must start with underscore", types.ErrInvalidArgument, name)
	}
	providerType, ok := implicitProviderTypes[protocol]
	if !ok {
		return fmt.Errorf("%w: unsupported protocol %q", types.ErrInvalidArgument, protocol)
	}
	c.Profiles[name] = &ProfileConfig{
		StorageProvider: &ProviderConfig{
			Type:    providerType,
			Options: map[string]any{"base_path": basePath},
		},
	}
	return nil
}

// implicitProviderTypes maps foreign URL schemes to storage provider types.
var implicitProviderTypes = map[string]string{
	"s3":   "s3",
	"gs":   "gcs",
	"ais":  "aistore",
	"file": "file",
}
