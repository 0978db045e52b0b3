package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// validate is the singleton validator instance.
var validate = validator.New()

// profileNamePattern matches user-assignable profile names. Names starting
// with "_" are reserved for implicit profiles synthesized from foreign URLs.
var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the configuration against the schema rules: profile name
// constraints, provider completeness, and cache settings.
func Validate(cfg *Config) error {
	for name, profile := range cfg.Profiles {
		if err := validateProfile(name, profile); err != nil {
			return err
		}
	}

	if cfg.Cache != nil {
		if _, err := cfg.Cache.SizeBytes(); err != nil {
			return err
		}
		if err := validate.Struct(cfg.Cache); err != nil {
			return formatValidationError("cache", err)
		}
	}

	for source, destination := range cfg.PathMapping {
		if !strings.HasSuffix(source, "/") {
			return fmt.Errorf("%w: path_mapping source %q must end with '/'", types.ErrInvalidArgument, source)
		}
		if !strings.HasPrefix(destination, types.MSCProtocol) {
			return fmt.Errorf("%w: path_mapping destination %q must be an msc:// URL", types.ErrInvalidArgument, destination)
		}
	}

	return nil
}

func validateProfile(name string, profile *ProfileConfig) error {
	if name == "" {
		return fmt.Errorf("%w: profile name must not be empty", types.ErrInvalidArgument)
	}
	if strings.HasPrefix(name, "_") {
		return fmt.Errorf("%w: profile name %q is reserved (names starting with '_' are synthesized for implicit profiles)", types.ErrInvalidArgument, name)
	}
	if !profileNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid profile name %q", types.ErrInvalidArgument, name)
	}
	if profile == nil {
		return fmt.Errorf("%w: profile %q has no configuration", types.ErrInvalidArgument, name)
	}

	if profile.ProviderBundle != nil {
		// A bundle supplies all providers; individual fields are ignored.
		if err := validate.Struct(profile.ProviderBundle); err != nil {
			return formatValidationError("profiles."+name+".provider_bundle", err)
		}
		return nil
	}

	if profile.StorageProvider == nil {
		return fmt.Errorf("%w: profile %q must configure a storage_provider", types.ErrInvalidArgument, name)
	}
	if err := validate.Struct(profile.StorageProvider); err != nil {
		return formatValidationError("profiles."+name+".storage_provider", err)
	}
	if profile.MetadataProvider != nil {
		if err := validate.Struct(profile.MetadataProvider); err != nil {
			return formatValidationError("profiles."+name+".metadata_provider", err)
		}
	}
	if profile.CredentialsProvider != nil {
		if err := validate.Struct(profile.CredentialsProvider); err != nil {
			return formatValidationError("profiles."+name+".credentials_provider", err)
		}
	}
	return nil
}

// formatValidationError converts validator errors into the shared error
// taxonomy with a readable message.
func formatValidationError(section string, err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%w: %s: validation failed on %q (tag %q, value %v)",
			types.ErrInvalidArgument, section, e.Field(), e.Tag(), e.Value())
	}
	return fmt.Errorf("%w: %s: %v", types.ErrInvalidArgument, section, err)
}
