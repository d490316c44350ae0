// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures by blast radius.
type ErrorKind string

const (
	// KindSourceUnavailable is a transient transport or parse failure while reading.
	KindSourceUnavailable ErrorKind = "source_unavailable"

	// KindSourceRejected is a request the source refused outright (bad
	// credentials, unknown user). Repeating it cannot succeed.
	KindSourceRejected ErrorKind = "source_rejected"

	// KindRecordRejected is a per-record validation failure.
	KindRecordRejected ErrorKind = "record_rejected"

	// KindResolution is a per-event failure to resolve a dimension natural key.
	KindResolution ErrorKind = "resolution_error"

	// KindPersistence is a batch-level write failure.
	KindPersistence ErrorKind = "persistence_error"

	// KindStorageUnavailable is a fatal failure to reach storage at cursor time.
	KindStorageUnavailable ErrorKind = "storage_unavailable"
)

// Sentinels for errors.Is matching against a PipelineError of the same kind.
var (
	ErrSourceUnavailable  = &PipelineError{Kind: KindSourceUnavailable}
	ErrSourceRejected     = &PipelineError{Kind: KindSourceRejected}
	ErrRecordRejected     = &PipelineError{Kind: KindRecordRejected}
	ErrResolution         = &PipelineError{Kind: KindResolution}
	ErrPersistence        = &PipelineError{Kind: KindPersistence}
	ErrStorageUnavailable = &PipelineError{Kind: KindStorageUnavailable}
)

// PipelineError is the single error type surfaced by pipeline stages.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error

	// Retryable marks persistence faults that may succeed on a later attempt
	// (transaction conflicts, lost connections).
	Retryable bool
}

func (e *PipelineError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError with the same Kind.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a PipelineError.
func NewError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// SourceUnavailable wraps err as a SourceUnavailable failure.
func SourceUnavailable(op string, err error) error {
	return NewError(KindSourceUnavailable, op, err)
}

// SourceRejected wraps err as a SourceRejected failure.
func SourceRejected(op string, err error) error {
	return NewError(KindSourceRejected, op, err)
}

// StorageUnavailable wraps err as a StorageUnavailable failure.
func StorageUnavailable(op string, err error) error {
	return NewError(KindStorageUnavailable, op, err)
}

// Persistence wraps err as a PersistenceError.
func Persistence(op string, err error, retryable bool) error {
	pe := NewError(KindPersistence, op, err)
	pe.Retryable = retryable
	return pe
}

// Resolution wraps err as a ResolutionError.
func Resolution(op string, err error) error {
	return NewError(KindResolution, op, err)
}

// KindOf returns the kind of the first PipelineError in err's chain,
// or "" when there is none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err is a PipelineError marked retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
