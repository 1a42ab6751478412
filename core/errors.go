package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by this module wraps exactly one of
// these sentinels, so callers can branch with errors.Is.
var (
	// ErrInvalidArgument reports malformed input (bad role, category,
	// confidence, empty text). It is raised before any store access.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable reports that the record store could not be
	// reached, is misconfigured, or returned a record that does not decode.
	// It is never retried internally.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound reports a targeted lookup (by id) for something that does
	// not exist. Listing reads return empty slices instead.
	ErrNotFound = errors.New("not found")
)

// InvalidArgumentf returns an error wrapping ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StorageUnavailable wraps a backend error as ErrStorageUnavailable.
// The original error stays reachable through errors.Is / errors.As.
func StorageUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
