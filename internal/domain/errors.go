package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound is returned when an item is missing from the local cache.
	ErrItemNotFound = errors.New("item not found")

	// ErrShareKeyUnavailable is returned when a share has no keys at all,
	// locally or remotely.
	ErrShareKeyUnavailable = errors.New("share has no keys")

	// ErrKeyNotFound is returned when the rotation referenced by an item is
	// not present in the local key cache. The caller should refresh the
	// share's keys and retry once.
	ErrKeyNotFound = errors.New("key rotation not found")

	// ErrConflict is returned when the server rejects a mutation because the
	// supplied revision is stale. Never retried automatically: a blind retry
	// could overwrite a newer remote version.
	ErrConflict = errors.New("revision conflict")

	// ErrInvalidItemState is returned when an operation is attempted on an
	// item in the wrong state, e.g. trashing an already trashed item. It is
	// raised before any network call.
	ErrInvalidItemState = errors.New("invalid item state")
)

// CryptoError wraps a serialization, encryption or decryption failure.
// It is fatal to the operation that produced it and is always surfaced.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// RemoteError carries the server's reason for rejecting a request. For
// single-item operations no local mutation has happened when it is returned,
// so retrying the whole operation is safe.
type RemoteError struct {
	Status  int
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: status %d code %d: %s", e.Status, e.Code, e.Message)
}
