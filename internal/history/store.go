// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package history keeps run summaries in BadgerDB for operators.
//
// History is an audit trail only. The watermark is always derived from the
// plays table, never from here.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/ingest"
	"github.com/tomtom215/listenflow/internal/logging"
)

// runKeyPrefix namespaces run summaries. Keys are the prefix, the start
// time in zero-padded unix nanoseconds and the run id, so they sort by start.
const runKeyPrefix = "run:"

// Store implements ingest.Recorder on BadgerDB.
type Store struct {
	db     *badger.DB
	retain int

	// mu serializes Record so pruning sees a consistent key count.
	mu sync.Mutex
}

// Open opens (or creates) the history database at cfg.Path.
func Open(cfg *config.HistoryConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("history path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil                // Suppress BadgerDB internal logs
	opts.ValueLogFileSize = 16 << 20 // Summaries are small
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for run history: %w", err)
	}
	return NewFromDB(db, cfg.Retain), nil
}

// NewFromDB wraps an open BadgerDB. retain bounds the kept summaries;
// zero keeps everything.
func NewFromDB(db *badger.DB, retain int) *Store {
	return &Store{db: db, retain: retain}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(sum *ingest.Summary) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", runKeyPrefix, sum.StartTime.UnixNano(), sum.RunID))
}

// Record appends a run summary and prunes the oldest beyond the retain limit.
func (s *Store) Record(ctx context.Context, sum *ingest.Summary) error {
	if sum == nil || sum.RunID == "" {
		return errors.New("run summary without run id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(sum), data)
	}); err != nil {
		return fmt.Errorf("store run summary: %w", err)
	}

	pruned, err := s.prune()
	if err != nil {
		return fmt.Errorf("prune run history: %w", err)
	}
	if pruned > 0 {
		logging.Ctx(ctx).Debug().Int("pruned", pruned).Int("retain", s.retain).Msg("Pruned run history")
	}
	return nil
}

// prune deletes the oldest summaries beyond the retain limit.
func (s *Store) prune() (int, error) {
	if s.retain <= 0 {
		return 0, nil
	}

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		if excess := len(keys) - s.retain; excess > 0 {
			stale = keys[:excess]
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// List returns up to limit summaries, newest first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]*ingest.Summary, error) {
	var out []*ingest.Summary

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		// In reverse mode Seek lands on the last key <= the seek key.
		seek := append([]byte(runKeyPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			var sum ingest.Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			}); err != nil {
				return fmt.Errorf("decode run summary %s: %w", it.Item().Key(), err)
			}
			out = append(out, &sum)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list run history: %w", err)
	}
	return out, nil
}

// Get returns the summary of one run, or nil when it is unknown.
func (s *Store) Get(ctx context.Context, runID string) (*ingest.Summary, error) {
	runs, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, sum := range runs {
		if sum.RunID == runID {
			return sum, nil
		}
	}
	return nil, nil
}
