// Package common defines the shared error taxonomy and helpers used across
// the sync engine. Callers should use errors.Is to match sentinel values.
package common

import "errors"

var (
	// ErrValidation marks bad caller input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrAuth marks a credential rejected by the remote tracker.
	// Not retryable without operator action.
	ErrAuth = errors.New("authorization rejected")

	// ErrNotFound marks a missing remote object or work item.
	ErrNotFound = errors.New("not found")

	// ErrTransientNetwork marks timeouts and connection resets. Retryable.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrRateLimit marks remote throttling. Retryable with extended backoff.
	ErrRateLimit = errors.New("rate limited")

	// ErrIntegrity marks a hash or size mismatch after reassembly.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrConflict marks remote state that changed concurrently.
	ErrConflict = errors.New("remote state conflict")

	// ErrSessionExpired marks an upload session past its TTL.
	ErrSessionExpired = errors.New("upload session expired")

	// ErrInternal is the generic fallback for unclassified failures.
	ErrInternal = errors.New("internal error")
)

// Category names an error class as persisted on a sync job.
type Category string

const (
	CategoryNone       Category = ""
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryNotFound   Category = "not_found"
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategoryIntegrity  Category = "integrity"
	CategoryConflict   Category = "conflict"
	CategoryInternal   Category = "internal"
)

// Classify maps an error chain onto its job-level category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	case errors.Is(err, ErrAuth):
		return CategoryAuth
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrTransientNetwork):
		return CategoryNetwork
	case errors.Is(err, ErrRateLimit):
		return CategoryRateLimit
	case errors.Is(err, ErrIntegrity):
		return CategoryIntegrity
	case errors.Is(err, ErrConflict):
		return CategoryConflict
	default:
		return CategoryInternal
	}
}

// Retryable reports whether jobs failing with the given category may
// return to the queue. Validation, auth and not-found failures are
// immediately terminal; integrity and conflict get a bounded re-check.
func Retryable(c Category) bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryIntegrity, CategoryConflict:
		return true
	default:
		return false
	}
}
