// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package cursor derives the ingestion watermark from persisted plays.
//
// The watermark is never stored on its own. Every run asks the store for
// MAX(played_at) at start, so concurrent or restarted runs always see the
// progress that was actually committed.
package cursor

import (
	"context"
	"time"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/models"
)

// Store is the storage capability the provider needs.
type Store interface {
	MaxPlayedAt(ctx context.Context) (*time.Time, error)
}

// Options configure the lower bound used when no watermark applies.
type Options struct {
	// InitialSince bounds the first run. The zero time means all history.
	InitialSince time.Time

	// FullResync ignores the stored watermark and reads from InitialSince.
	FullResync bool
}

// Position is the outcome of one cursor lookup.
type Position struct {
	// Watermark is MAX(played_at) of the store, nil when it holds no plays.
	Watermark *time.Time

	// Since is the inclusive lower bound handed to the source reader, nil
	// for an unbounded read.
	Since *time.Time

	FullResync bool
}

// Provider answers watermark queries.
type Provider struct {
	store Store
	opts  Options
}

// NewProvider creates a Provider over store.
func NewProvider(store Store, opts Options) *Provider {
	return &Provider{store: store, opts: opts}
}

// Watermark returns MAX(played_at), or nil for an empty store. It has no side
// effects. Storage failures are returned as StorageUnavailable.
func (p *Provider) Watermark(ctx context.Context) (*time.Time, error) {
	wm, err := p.store.MaxPlayedAt(ctx)
	if err != nil {
		if models.KindOf(err) == models.KindStorageUnavailable {
			return nil, err
		}
		return nil, models.StorageUnavailable("get watermark", err)
	}
	return wm, nil
}

// Position resolves the watermark and the read lower bound for a run.
func (p *Provider) Position(ctx context.Context) (Position, error) {
	wm, err := p.Watermark(ctx)
	if err != nil {
		return Position{}, err
	}

	pos := Position{Watermark: wm, FullResync: p.opts.FullResync}
	switch {
	case p.opts.FullResync || wm == nil:
		if !p.opts.InitialSince.IsZero() {
			since := p.opts.InitialSince
			pos.Since = &since
		}
	default:
		since := *wm
		pos.Since = &since
	}

	logging.Ctx(ctx).Debug().
		Str("watermark", formatTime(pos.Watermark)).
		Str("since", formatTime(pos.Since)).
		Bool("full_resync", pos.FullResync).
		Msg("Cursor position resolved")

	return pos, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
