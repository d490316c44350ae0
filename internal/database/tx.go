// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tomtom215/listenflow/internal/metrics"
)

// Tx is one batch transaction. Every dimension and fact write of a batch goes
// through the same Tx so the batch commits or rolls back as a unit.
type Tx struct {
	tx      *sql.Tx
	started time.Time
	done    bool
}

// BeginTx opens a batch transaction. Begin failures are retryable
// PersistenceErrors when the cause is a lost connection.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceError("begin", err)
	}
	return &Tx{tx: tx, started: time.Now()}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return persistenceError("commit", sql.ErrTxDone)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return persistenceError("commit", err)
	}
	metrics.DBQueryDuration.WithLabelValues("batch_tx").Observe(time.Since(t.started).Seconds())
	return nil
}

// Rollback aborts the transaction. It is safe to call after Commit or a
// previous Rollback, so callers can defer it unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Elapsed reports the time since BeginTx.
func (t *Tx) Elapsed() time.Duration {
	return time.Since(t.started)
}

// nullable turns a nil pointer into a SQL NULL and dereferences the rest.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
