// Package credentials implements the built-in credentials providers.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ProviderName is the registered type of the static provider.
const ProviderName = "static"

// Config holds the static provider options.
type Config struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`

	// Expiration is an RFC 3339 timestamp; empty means no expiration.
	Expiration string `mapstructure:"expiration"`
}

// Static serves a fixed set of credentials from configuration.
type Static struct {
	creds types.Credentials
}

// NewStatic creates a static credentials provider.
func NewStatic(cfg Config) (*Static, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("static credentials provider: %w: access_key and secret_key are required", types.ErrInvalidArgument)
	}

	creds := types.Credentials{
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		SessionToken: cfg.SessionToken,
	}
	if cfg.Expiration != "" {
		expiration, err := time.Parse(time.RFC3339, cfg.Expiration)
		if err != nil {
			return nil, fmt.Errorf("static credentials provider: %w: invalid expiration %q", types.ErrInvalidArgument, cfg.Expiration)
		}
		creds.Expiration = expiration
	}
	return &Static{creds: creds}, nil
}

// GetCredentials returns the configured credentials.
func (s *Static) GetCredentials(ctx context.Context) (*types.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.creds.IsExpired() {
		return nil, fmt.Errorf("static credentials expired: %w", types.ErrUnauthorized)
	}
	creds := s.creds
	return &creds, nil
}

// Refresh is a no-op: static credentials cannot be renewed.
func (s *Static) Refresh(context.Context) error {
	return nil
}
