package types

import (
	"context"
	"io"
	"iter"
)

// ListOptions refines a listing request.
type ListOptions struct {
	// StartAfter is the exclusive key to start after. An object with this
	// key does not have to exist.
	StartAfter string

	// EndAt is the inclusive key to end at. An object with this key does
	// not have to exist.
	EndAt string

	// Recursive lists all keys under the prefix when true. When false, the
	// listing stops at the first "/" past the prefix; the common prefixes
	// are reported as directory entries only when IncludeDirectories is set.
	Recursive bool

	// IncludeDirectories adds directory entries alongside objects. In a
	// recursive listing the posix and memory providers report the
	// intermediate directories; the s3 and manifest providers report none.
	IncludeDirectories bool
}

// ObjectIterator streams listing results. Iteration stops at the first
// non-nil error; callers must check it.
type ObjectIterator = iter.Seq2[*ObjectMetadata, error]

// PutOptions carries optional arguments for StorageProvider.PutObject.
type PutOptions struct {
	// Metadata is attached to the stored object as user-defined pairs.
	Metadata map[string]string

	// IfMatch makes the write conditional on the current ETag matching.
	IfMatch string

	// IfNoneMatch makes the write conditional on no object (or no object
	// with this ETag) existing. "*" means "must not exist".
	IfNoneMatch string
}

// StorageProvider is the contract every storage backend implements.
//
// All paths are relative to the provider's configured base path and use
// forward slashes regardless of host OS. Implementations must be safe for
// concurrent use by multiple goroutines, must classify their errors with the
// kinds in errors.go, and are responsible for retrying transient failures
// internally before surfacing ErrUnavailable.
type StorageProvider interface {
	// Name returns the provider type (e.g. "s3", "file"), used for
	// telemetry tagging and namespace comparison.
	Name() string

	// PutObject uploads an object. size may be -1 when unknown; providers
	// that need a length buffer the body. opts may be nil.
	PutObject(ctx context.Context, path string, body io.Reader, size int64, opts *PutOptions) error

	// GetObject retrieves an object, optionally restricted to a byte range.
	// The caller must close the returned reader.
	GetObject(ctx context.Context, path string, byteRange *Range) (io.ReadCloser, error)

	// CopyObject copies an object within the provider's namespace.
	CopyObject(ctx context.Context, srcPath, dstPath string) error

	// DeleteObject removes an object. Deleting a missing object returns
	// ErrNotFound.
	DeleteObject(ctx context.Context, path string) error

	// GetObjectMetadata returns metadata for a single object without
	// reading its body.
	GetObjectMetadata(ctx context.Context, path string) (*ObjectMetadata, error)

	// ListObjects lists objects under the prefix. opts may be nil, which
	// means a recursive listing without directory entries.
	ListObjects(ctx context.Context, prefix string, opts *ListOptions) ObjectIterator

	// IsFile reports whether the path denotes an object (as opposed to a
	// prefix/directory or nothing at all).
	IsFile(ctx context.Context, path string) (bool, error)
}

// MetadataProvider serves listings and metadata from a catalog instead of
// the backend, and stages mutations that become visible to other clients
// only after CommitUpdates.
type MetadataProvider interface {
	// ListObjects lists cataloged objects under the prefix, merged with
	// pending additions minus pending removals.
	ListObjects(ctx context.Context, prefix string, opts *ListOptions) ObjectIterator

	// GetObjectMetadata returns metadata for a cataloged object. When
	// includePending is true, uncommitted additions are visible and
	// uncommitted removals hide their keys.
	GetObjectMetadata(ctx context.Context, path string, includePending bool) (*ObjectMetadata, error)

	// RealPath translates a user-visible path to the canonical physical
	// path used by the storage provider, and reports whether the object is
	// known to the catalog.
	RealPath(path string) (string, bool)

	// AddFile stages a new or replaced entry. It is not persisted until
	// CommitUpdates.
	AddFile(path string, metadata *ObjectMetadata) error

	// RemoveFile stages the removal of an entry. It is not persisted until
	// CommitUpdates.
	RemoveFile(path string) error

	// CommitUpdates persists pending mutations as a new catalog generation
	// and returns its identifier. Committing with no pending mutations is
	// a no-op and returns the current generation.
	CommitUpdates(ctx context.Context) (string, error)

	// IsWritable reports whether AddFile/RemoveFile/CommitUpdates are
	// permitted by configuration.
	IsWritable() bool
}

// CredentialsProvider supplies credentials on demand. Implementations are
// responsible for caching and refreshing; callers invoke GetCredentials for
// every authentication and expect it to be cheap.
type CredentialsProvider interface {
	// GetCredentials returns the current credentials.
	GetCredentials(ctx context.Context) (*Credentials, error)

	// Refresh forces a refresh of expired or about-to-expire credentials.
	Refresh(ctx context.Context) error
}

// ProviderBundle supplies all providers for a profile together. When a
// profile is configured with a bundle, the bundle supersedes the individual
// provider fields.
type ProviderBundle interface {
	// StorageProviderConfig returns the configuration used to realize the
	// bundle's storage provider.
	StorageProviderConfig() StorageProviderConfig

	// CredentialsProvider returns the bundle's credentials provider, or nil.
	CredentialsProvider() CredentialsProvider

	// MetadataProvider returns the bundle's metadata provider, or nil.
	MetadataProvider() MetadataProvider
}
