package object

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes object store failures.
//
// Callers branch on the kind, never on error strings: the finalize pipeline
// treats KindIntegrity as a rollback trigger and the API layer maps
// KindNotFound to 404 while everything else becomes a 500.
type ErrorKind int

const (
	// KindNotFound indicates the requested key does not exist.
	KindNotFound ErrorKind = iota

	// KindUnauthorized indicates the backend rejected our credentials.
	KindUnauthorized

	// KindTransport indicates a network or backend-side failure.
	KindTransport

	// KindIntegrity indicates stored data failed an integrity check.
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransport:
		return "transport"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// StoreError is the typed error returned by all Store operations.
type StoreError struct {
	Kind ErrorKind
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("object store %s: %s: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("object store %s: %v", e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewError wraps err as a StoreError with the given kind and key.
func NewError(kind ErrorKind, key string, err error) *StoreError {
	return &StoreError{Kind: kind, Key: key, Err: err}
}

// IsNotFound reports whether err is a StoreError of kind KindNotFound.
func IsNotFound(err error) bool {
	return HasKind(err, KindNotFound)
}

// HasKind reports whether err is a StoreError with the given kind.
func HasKind(err error, kind ErrorKind) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
