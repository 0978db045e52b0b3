package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Providers classify their backend errors
// into exactly one of these; the client propagates them unchanged. Callers
// match with errors.Is rather than string inspection.
var (
	// ErrNotFound indicates the key or manifest generation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates credentials are missing, invalid, or denied.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPreconditionFailed indicates an ETag precondition did not hold.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrUnavailable indicates a transient error exhausted its retries
	// (timeout, throttling, 5xx).
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalidArgument indicates a malformed URL, a reserved profile
	// name, or a configuration schema violation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrManifestCorrupt indicates the manifest index references missing
	// parts or parts failed to parse.
	ErrManifestCorrupt = errors.New("manifest corrupt")

	// ErrCacheError indicates a local cache disk failure. Callers may retry
	// with cache bypass; the client itself already recovers by bypassing.
	ErrCacheError = errors.New("cache error")

	// ErrConflict indicates a concurrent commit or write was rejected by
	// the backend.
	ErrConflict = errors.New("conflict")
)

// StorageError is the structured error surfaced by client operations. It
// always carries the originating operation, key, profile, and error kind so
// failures can be acted on without parsing messages.
type StorageError struct {
	// Kind is one of the sentinel kinds above.
	Kind error

	// Profile is the profile the operation ran against.
	Profile string

	// Op is the client operation (e.g. "read", "sync_from").
	Op string

	// Key is the object key involved, if any.
	Key string

	// Err is the underlying cause, if any.
	Err error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("msc: %s %s", e.Op, e.Kind)
	if e.Profile != "" {
		msg += fmt.Sprintf(" (profile %q", e.Profile)
		if e.Key != "" {
			msg += fmt.Sprintf(", key %q", e.Key)
		}
		msg += ")"
	} else if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *StorageError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewStorageError builds a StorageError. kind must be one of the sentinel
// kinds; err may be nil.
func NewStorageError(kind error, profile, op, key string, err error) *StorageError {
	return &StorageError{Kind: kind, Profile: profile, Op: op, Key: key, Err: err}
}

// ErrorKind extracts the sentinel kind from an error tree, or nil if the
// error carries none.
func ErrorKind(err error) error {
	for _, kind := range []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrPreconditionFailed,
		ErrUnavailable,
		ErrInvalidArgument,
		ErrManifestCorrupt,
		ErrCacheError,
		ErrConflict,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
