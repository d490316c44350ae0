// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/metrics"
	"github.com/tomtom215/listenflow/internal/models"
)

// closeWithLog closes a resource and logs any error
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// isConnectionError checks if an error indicates database connection loss
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "bad connection") ||
		strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "IO Error")
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict.
// A duplicate key error with an explicit ON CONFLICT target can only come
// from a concurrent writer whose row was not yet visible, so it is treated
// the same way.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "transaction conflict") ||
		strings.Contains(errStr, "conflict on") ||
		strings.Contains(errStr, "write-write conflict") ||
		strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "violates unique constraint")
}

// errorClass names an error for the duckdb_errors_total metric.
func errorClass(err error) string {
	switch {
	case isTransactionConflict(err):
		return "conflict"
	case isConnectionError(err):
		return "connection"
	case strings.Contains(err.Error(), "Constraint Error"):
		return "constraint"
	default:
		return "other"
	}
}

// persistenceError classifies a write-path failure. Conflicts, lost
// connections and commit timeouts may succeed on a fresh attempt.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.DBErrors.WithLabelValues(op, errorClass(err)).Inc()
	retryable := isTransactionConflict(err) ||
		isConnectionError(err) ||
		errors.Is(err, context.DeadlineExceeded)
	return models.Persistence(op, err, retryable)
}

// storageError classifies a read-path failure at cursor time.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.DBErrors.WithLabelValues(op, errorClass(err)).Inc()
	return models.StorageUnavailable(op, err)
}
