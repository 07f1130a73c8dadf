// Package errs holds the error kinds shared across the pipeline so handlers
// can map them to HTTP status codes with errors.Is / errors.As.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an offer, event, or listing id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned for a missing or invalid signature or session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when an operation cannot run in the current state.
	ErrConflict = errors.New("conflict")
)

// UpstreamError wraps a failure of an external source (scrape adapter or aggregator).
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a store write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Unauthorized returns an error wrapping ErrUnauthorized with a reason.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}

// NotFound returns an error wrapping ErrNotFound for the given kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
