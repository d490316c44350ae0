// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package persist writes one batch of events as a single transaction.
//
// A Scope owns the batch transaction from Begin until Commit or Close. Close
// rolls back anything not committed, so every exit path other than a clean
// commit leaves the store exactly as it was before the batch.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/listenflow/internal/database"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/resolver"
)

// Tx is the storage capability one batch needs.
type Tx interface {
	resolver.Tx
	InsertPlay(ctx context.Context, p *models.Play) (bool, error)
	PlayExists(ctx context.Context, userID string, trackID int64, playedAt time.Time) (bool, error)
	Commit() error
	Rollback() error
}

// Store opens batch transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

type duckStore struct {
	db *database.DB
}

// NewDuckDBStore adapts the DuckDB store to Store.
func NewDuckDBStore(db *database.DB) Store {
	return duckStore{db: db}
}

func (s duckStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BatchResult counts what one batch did, or would have done in a dry run.
type BatchResult struct {
	Events         int           `json:"events"`
	Inserted       int           `json:"inserted"`
	Skipped        int           `json:"skipped"`
	Rejected       int           `json:"rejected"`
	Clamped        int           `json:"clamped"`
	UsersCreated   int           `json:"users_created"`
	ArtistsCreated int           `json:"artists_created"`
	TracksCreated  int           `json:"tracks_created"`
	MaxPlayedAt    *time.Time    `json:"max_played_at,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
	DryRun         bool          `json:"dry_run"`

	Rejections []models.Rejection `json:"-"`
}

// Coordinator creates batch scopes.
type Coordinator struct {
	store         Store
	commitTimeout time.Duration
	now           func() time.Time
}

// NewCoordinator returns a coordinator. commitTimeout bounds each batch from
// begin to commit; zero disables the bound.
func NewCoordinator(store Store, commitTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		commitTimeout: commitTimeout,
		now:           time.Now,
	}
}

// Scope is one batch transaction.
type Scope struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tx      Tx
	batch   *resolver.Batch
	now     func() time.Time
	started time.Time
	dryRun  bool
	seen    PlayKeySet
	result  BatchResult
	closed  bool
}

// Begin opens a writing scope.
func (c *Coordinator) Begin(ctx context.Context) (*Scope, error) {
	return c.begin(ctx, false, nil)
}

// BeginDryRun opens a scope whose transaction is always rolled back. Facts are
// checked for existence instead of inserted. seen carries natural keys across
// the batches of one dry run so repeats are reported as skips.
func (c *Coordinator) BeginDryRun(ctx context.Context, seen PlayKeySet) (*Scope, error) {
	if seen == nil {
		seen = make(PlayKeySet)
	}
	return c.begin(ctx, true, seen)
}

func (c *Coordinator) begin(ctx context.Context, dryRun bool, seen PlayKeySet) (*Scope, error) {
	var cancel context.CancelFunc
	if c.commitTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.commitTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		cancel()
		return nil, asPersistence("begin", err)
	}

	return &Scope{
		ctx:     ctx,
		cancel:  cancel,
		tx:      tx,
		batch:   resolver.NewBatch(tx),
		now:     c.now,
		started: c.now(),
		dryRun:  dryRun,
		seen:    seen,
		result:  BatchResult{DryRun: dryRun},
	}, nil
}

// Resolve attaches dimension keys to events. Events with an invalid natural
// key are returned as rejections and never fail the batch.
func (s *Scope) Resolve(events []*models.CanonicalEvent) ([]*models.ResolvedEvent, error) {
	resolved := make([]*models.ResolvedEvent, 0, len(events))
	s.result.Events += len(events)

	for _, ev := range events {
		res, err := s.batch.Resolve(s.ctx, ev)
		if err != nil {
			if errors.Is(err, models.ErrResolution) {
				s.result.Rejected++
				s.result.Rejections = append(s.result.Rejections, resolver.Rejection(ev, err))
				continue
			}
			return nil, asPersistence("resolve", err)
		}
		if res.UserCreated {
			s.result.UsersCreated++
		}
		if res.ArtistCreated {
			s.result.ArtistsCreated++
		}
		if res.TrackCreated {
			s.result.TracksCreated++
		}
		resolved = append(resolved, res)
	}
	return resolved, nil
}

// Persist upserts one fact row per resolved event. An existing natural key is
// an idempotent skip, not an error.
func (s *Scope) Persist(resolved []*models.ResolvedEvent) error {
	ingestedAt := s.now().UTC()

	for _, r := range resolved {
		key := PlayKey{UserID: r.UserID, TrackID: r.TrackID, PlayedAt: r.Event.PlayedAt}

		var (
			inserted bool
			err      error
		)
		if s.dryRun {
			inserted, err = s.wouldInsert(key, r)
		} else {
			inserted, err = s.tx.InsertPlay(s.ctx, buildPlay(r, key, ingestedAt))
		}
		if err != nil {
			return asPersistence("insert_play", err)
		}

		if inserted {
			s.result.Inserted++
		} else {
			s.result.Skipped++
		}
		if r.Event.Clamped {
			s.result.Clamped++
		}
		if s.result.MaxPlayedAt == nil || r.Event.PlayedAt.After(*s.result.MaxPlayedAt) {
			at := r.Event.PlayedAt
			s.result.MaxPlayedAt = &at
		}
	}
	return nil
}

func (s *Scope) wouldInsert(key PlayKey, r *models.ResolvedEvent) (bool, error) {
	exists, err := s.tx.PlayExists(s.ctx, key.UserID, key.TrackID, key.PlayedAt)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return s.seen.Add(ListenKeyOf(r)), nil
}

// Commit commits the batch, or rolls it back for a dry run. The scope is
// closed afterwards either way.
func (s *Scope) Commit() (*BatchResult, error) {
	if s.closed {
		return nil, models.Persistence("commit", errors.New("scope already closed"), false)
	}
	defer s.Close()

	if s.dryRun {
		if err := s.tx.Rollback(); err != nil {
			return nil, asPersistence("rollback", err)
		}
	} else if err := s.tx.Commit(); err != nil {
		return nil, asPersistence("commit", err)
	}

	s.result.Elapsed = time.Since(s.started)
	res := s.result
	return &res, nil
}

// Close rolls back an uncommitted transaction and releases the scope.
// It is safe to defer right after Begin.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.tx.Rollback()
	s.cancel()
}

// CommitBatch resolves and writes events in one transaction.
func (c *Coordinator) CommitBatch(ctx context.Context, events []*models.CanonicalEvent) (*BatchResult, error) {
	scope, err := c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return scope.run(events)
}

// DryRunBatch reports what CommitBatch would do without changing the store.
func (c *Coordinator) DryRunBatch(ctx context.Context, events []*models.CanonicalEvent, seen PlayKeySet) (*BatchResult, error) {
	scope, err := c.BeginDryRun(ctx, seen)
	if err != nil {
		return nil, err
	}
	return scope.run(events)
}

func (s *Scope) run(events []*models.CanonicalEvent) (*BatchResult, error) {
	defer s.Close()

	resolved, err := s.Resolve(events)
	if err != nil {
		return nil, err
	}
	if err := s.Persist(resolved); err != nil {
		return nil, err
	}
	return s.Commit()
}

func buildPlay(r *models.ResolvedEvent, key PlayKey, ingestedAt time.Time) *models.Play {
	ev := r.Event
	return &models.Play{
		PlayID:          PlayID(key),
		UserID:          r.UserID,
		TrackID:         r.TrackID,
		PlayedAt:        ev.PlayedAt,
		PlayedSec:       ev.PlayedSec,
		CompletionRate:  ev.CompletionRate,
		Clamped:         ev.Clamped,
		DeviceType:      ev.DeviceType,
		Country:         ev.Country,
		SkipReason:      ev.SkipReason,
		Liked:           ev.Liked,
		AddedToPlaylist: ev.AddedToPlaylist,
		Source:          ev.Source,
		IngestedAt:      ingestedAt,
	}
}

// asPersistence keeps classified errors and wraps the rest as non-retryable
// PersistenceErrors. A timeout of the batch context is retryable.
func asPersistence(op string, err error) error {
	if models.KindOf(err) != "" {
		return err
	}
	retryable := errors.Is(err, context.DeadlineExceeded)
	return models.Persistence(op, err, retryable)
}
