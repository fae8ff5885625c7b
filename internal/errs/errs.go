// Package errs holds the typed errors shared across the storage, index,
// engine, and api packages. Handlers switch on these with errors.Is
// instead of matching error strings, per the taxonomy in spec §7.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap these with %w (or use the constructors below)
// so callers can still errors.Is against the category.
var (
	// ErrDimensionMismatch signals a vector whose length does not match
	// the store's configured dimension, at open time or at append time.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrBadHeader signals a vectors.bin file with a bad magic or a
	// zero dimension — not recoverable short of deleting the file.
	ErrBadHeader = errors.New("invalid vector store header")
	// ErrVectorOutOfRange signals a Get() for an id beyond the live count.
	ErrVectorOutOfRange = errors.New("vector id out of range")
	// ErrDocumentNotFound signals a missing document record.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrChunkNotFound signals a missing chunk record.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrInvalidInput signals a malformed or incomplete request payload.
	ErrInvalidInput = errors.New("invalid input")
)

// DimensionError reports the expected vs. actual vector length.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionError builds a DimensionError.
func NewDimensionError(expected, got int) error {
	return &DimensionError{Expected: expected, Got: got}
}

// NotFoundError reports a missing record by kind ("document"/"chunk") and key.
type NotFoundError struct {
	Kind string
	Key  string
	base error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.base }

// NewDocumentNotFound builds a NotFoundError wrapping ErrDocumentNotFound.
func NewDocumentNotFound(id string) error {
	return &NotFoundError{Kind: "document", Key: id, base: ErrDocumentNotFound}
}

// NewChunkNotFound builds a NotFoundError wrapping ErrChunkNotFound.
func NewChunkNotFound(id uint64) error {
	return &NotFoundError{Kind: "chunk", Key: fmt.Sprintf("%d", id), base: ErrChunkNotFound}
}

// InvalidInputError reports which field failed validation.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid input: %s", e.Field)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NewInvalidInput builds an InvalidInputError.
func NewInvalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
