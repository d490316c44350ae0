// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomtom215/listenflow/internal/models"
)

func TestPersistenceErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
		class     string
	}{
		{"transaction conflict", errors.New("TransactionContext Error: Transaction conflict: cannot update"), true, "conflict"},
		{"write-write", errors.New("Failed to commit: write-write conflict on key"), true, "conflict"},
		{"concurrent duplicate", errors.New(`Constraint Error: Duplicate key "artist_name: Nova" violates unique constraint`), true, "conflict"},
		{"connection", errors.New("driver: bad connection"), true, "connection"},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), true, "other"},
		{"foreign key", errors.New("Constraint Error: Violates foreign key constraint"), false, "constraint"},
		{"syntax", errors.New("Parser Error: syntax error at or near"), false, "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistenceError("insert_play", tt.err)
			if !errors.Is(err, models.ErrPersistence) {
				t.Fatalf("error %v is not a PersistenceError", err)
			}
			if got := models.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := errorClass(tt.err); got != tt.class {
				t.Errorf("errorClass = %q, want %q", got, tt.class)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	t.Parallel()

	err := storageError("max_played_at", errors.New("IO Error: could not open file"))
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("storageError = %v, want StorageUnavailable", err)
	}
	if storageError("x", nil) != nil {
		t.Error("storageError(nil) must be nil")
	}
}

func TestClosedStoreIsStorageUnavailable(t *testing.T) {
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(testConfig(":memory:"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = db.MaxPlayedAt(context.Background())
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("MaxPlayedAt on closed store = %v, want StorageUnavailable", err)
	}
}
