// Package types defines the data model and provider contracts shared by all
// multi-storage-client components.
//
// The package is intentionally dependency-free so that storage providers,
// metadata providers, the cache, and the client can all depend on it without
// cycles. Concrete implementations live under pkg/provider and
// pkg/metadata; pkg/config realizes them from configuration.
package types

import (
	"time"
)

// MSCProtocol is the URL scheme handled by the client registry.
const (
	MSCProtocolName = "msc"
	MSCProtocol     = MSCProtocolName + "://"
)

// Object types reported in ObjectMetadata.Type.
const (
	ObjectTypeFile      = "file"
	ObjectTypeDirectory = "directory"
)

// ObjectMetadata describes a single object (or directory placeholder) in a
// storage service.
//
// Key is always relative to the provider's base path and uses forward
// slashes. Directories have ContentLength 0 and a key ending in "/".
// ETag is opaque; its presence and format depend on the backend.
type ObjectMetadata struct {
	// Key is the relative path of the object.
	Key string `json:"key"`

	// Type is either "file" or "directory".
	Type string `json:"type,omitempty"`

	// ContentLength is the size of the object in bytes.
	ContentLength int64 `json:"content_length"`

	// LastModified is the timestamp of the last modification.
	LastModified time.Time `json:"last_modified"`

	// ContentType is the MIME type of the object, if known.
	ContentType string `json:"content_type,omitempty"`

	// ETag is the entity tag reported by the backend, if any.
	ETag string `json:"etag,omitempty"`

	// StorageClass is the backend storage class, if any.
	StorageClass string `json:"storage_class,omitempty"`

	// Metadata holds user-defined key-value pairs attached to the object.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsDirectory reports whether the metadata describes a directory entry.
func (m *ObjectMetadata) IsDirectory() bool {
	return m.Type == ObjectTypeDirectory
}

// Range is a byte-range read request.
//
// Offset is the first byte to read and Size the number of bytes. Internally
// all ranges follow half-open [start, start+size) semantics; providers
// translate to their wire format (e.g. the inclusive "bytes=a-b" HTTP form).
type Range struct {
	Offset int64
	Size   int64
}

// Credentials carries the secrets needed to authenticate against a storage
// service.
type Credentials struct {
	// AccessKey is the access key for authentication.
	AccessKey string

	// SecretKey is the secret key for authentication.
	SecretKey string

	// SessionToken is an optional token for temporary credentials.
	SessionToken string

	// Expiration is the expiration time of the credentials. The zero value
	// means the credentials do not expire.
	Expiration time.Time

	// CustomFields holds provider-specific extras (e.g. an endpoint hint).
	CustomFields map[string]string
}

// IsExpired reports whether the credentials are past their expiration time.
func (c *Credentials) IsExpired() bool {
	if c.Expiration.IsZero() {
		return false
	}
	return !c.Expiration.After(time.Now())
}

// StorageProviderConfig selects a storage provider implementation and its
// type-specific options.
type StorageProviderConfig struct {
	// Type is the registered provider type (e.g. "s3", "file", "memory").
	Type string

	// Options holds type-specific configuration decoded by the provider
	// factory.
	Options map[string]any
}
