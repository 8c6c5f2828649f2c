package miner

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfScope is returned for requests naming a path no root covers.
	ErrOutOfScope = errors.New("path is outside every indexed root")
	// ErrNotWritable is returned when a resource type has no writeback support.
	ErrNotWritable = errors.New("resource does not support writeback")
	// ErrUnknownResource is returned when no identity entry matches a request.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrSettleTimeout is returned when the engine does not settle in time.
	ErrSettleTimeout = errors.New("timed out waiting for the engine to settle")
	// ErrWritebackTimeout is returned when a written file's mtime never advances.
	ErrWritebackTimeout = errors.New("timed out waiting for writeback to reach the file")
	// ErrRemovableDisabled is returned by AddSource when removable indexing is off.
	ErrRemovableDisabled = errors.New("indexing of removable sources is disabled")
)

// Extraction failure reasons persisted in the extraction state.
const (
	ReasonTimeout           = "timeout"
	ReasonCrash             = "crash"
	ReasonUnsupportedFormat = "unsupported-format"
	ReasonInvalidMetadata   = "invalid-metadata"
)

// ClassificationError reports a path that could not be classified.
// The event is skipped.
type ClassificationError struct {
	Path string
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classifying %s: %v", e.Path, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ExtractionError reports a failed extraction. The DataObject is kept and
// marked failed with Reason.
type ExtractionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extracting %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("extracting %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreError wraps a failed store update. Transient errors may be retried.
type StoreError struct {
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Transient {
		return fmt.Sprintf("store update failed (transient): %v", e.Err)
	}
	return fmt.Sprintf("store update failed: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}

// IdentityConflictError reports two live identity entries claiming one URI,
// or one resource id bound to two URIs.
type IdentityConflictError struct {
	URI        string
	ResourceID string
	Existing   string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict: %s (%s) collides with %s", e.URI, e.ResourceID, e.Existing)
}
