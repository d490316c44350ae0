// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package resolver attaches dimension keys to canonical events.
//
// Each User, Artist and Track is resolved by natural key inside the batch
// transaction. Unseen keys are inserted with defaults for every attribute the
// event does not carry. The store's uniqueness constraints, not application
// locks, make two runs that see the same new artist agree on one row.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
)

// Resolution rejection reason codes.
const (
	ReasonEmptyUserID     = "empty_user_id"
	ReasonEmptyArtistName = "empty_artist_name"
	ReasonEmptyTrackName  = "empty_track_name"
)

var (
	errEmptyUserID     = errors.New(ReasonEmptyUserID)
	errEmptyArtistName = errors.New(ReasonEmptyArtistName)
	errEmptyTrackName  = errors.New(ReasonEmptyTrackName)
)

// Tx is the transactional capability the resolver writes through.
type Tx interface {
	InsertOrGetUser(ctx context.Context, u *models.User) (bool, error)
	InsertOrGetArtist(ctx context.Context, a *models.Artist) (int64, bool, error)
	InsertOrGetTrack(ctx context.Context, t *models.Track) (models.Track, bool, error)
}

type trackKey struct {
	name     string
	artistID int64
}

// Batch resolves events for one transaction attempt. It memoizes keys it has
// already resolved so a batch of plays by one user hits the store once per
// dimension row. A Batch must be discarded together with its transaction.
type Batch struct {
	tx      Tx
	users   map[string]struct{}
	artists map[string]int64
	tracks  map[trackKey]models.Track
}

// NewBatch returns a resolver bound to tx.
func NewBatch(tx Tx) *Batch {
	return &Batch{
		tx:      tx,
		users:   make(map[string]struct{}),
		artists: make(map[string]int64),
		tracks:  make(map[trackKey]models.Track),
	}
}

// Resolve maps ev's natural keys to stored rows, creating missing ones.
// An invalid natural key yields a ResolutionError, which callers route to
// the rejection report. Storage failures are returned as PersistenceErrors.
func (b *Batch) Resolve(ctx context.Context, ev *models.CanonicalEvent) (*models.ResolvedEvent, error) {
	userID := strings.TrimSpace(ev.UserID)
	artistName := strings.TrimSpace(ev.ArtistName)
	trackName := strings.TrimSpace(ev.TrackName)
	switch {
	case userID == "":
		return nil, models.Resolution("resolve user", errEmptyUserID)
	case artistName == "":
		return nil, models.Resolution("resolve artist", errEmptyArtistName)
	case trackName == "":
		return nil, models.Resolution("resolve track", errEmptyTrackName)
	}

	out := &models.ResolvedEvent{Event: *ev, UserID: userID}

	if _, seen := b.users[userID]; !seen {
		created, err := b.tx.InsertOrGetUser(ctx, defaultUser(userID, ev))
		if err != nil {
			return nil, err
		}
		b.users[userID] = struct{}{}
		out.UserCreated = created
	}

	artistID, seen := b.artists[artistName]
	if !seen {
		id, created, err := b.tx.InsertOrGetArtist(ctx, &models.Artist{ArtistName: artistName, MBID: ev.ArtistMBID})
		if err != nil {
			return nil, err
		}
		artistID = id
		b.artists[artistName] = id
		out.ArtistCreated = created
	}
	out.ArtistID = artistID

	key := trackKey{name: trackName, artistID: artistID}
	track, seen := b.tracks[key]
	if !seen {
		stored, created, err := b.tx.InsertOrGetTrack(ctx, &models.Track{
			TrackName:       trackName,
			ArtistID:        artistID,
			Album:           ev.Album,
			Genre:           ev.Genre,
			DurationSec:     ev.DurationSec,
			Explicit:        ev.Explicit,
			PopularityScore: ev.PopularityScore,
		})
		if err != nil {
			return nil, err
		}
		track = stored
		b.tracks[key] = stored
		out.TrackCreated = created
	}
	out.TrackID = track.TrackID

	if out.Event.CompletionPending() && track.DurationSec != nil {
		out.Event.DurationSec = track.DurationSec
		out.Event.CompletionRate, out.Event.Clamped = normalize.CompletionRate(ev.PlayedSec, *track.DurationSec)
	}

	return out, nil
}

// defaultUser builds the row inserted on first sight of a user_id.
func defaultUser(userID string, ev *models.CanonicalEvent) *models.User {
	country := ev.Country
	if country == "" {
		country = models.UnknownCountry
	}
	return &models.User{
		UserID:           userID,
		Username:         userID,
		Country:          country,
		SubscriptionTier: models.TierFree,
		SignupDate:       ev.PlayedAt,
		LastActive:       ev.PlayedAt,
	}
}

// Rejection converts a ResolutionError into a rejection report entry.
func Rejection(ev *models.CanonicalEvent, err error) models.Rejection {
	reason := "resolution_error"
	switch {
	case errors.Is(err, errEmptyUserID):
		reason = ReasonEmptyUserID
	case errors.Is(err, errEmptyArtistName):
		reason = ReasonEmptyArtistName
	case errors.Is(err, errEmptyTrackName):
		reason = ReasonEmptyTrackName
	}
	return models.Rejection{
		Origin: ev.Origin,
		Source: ev.Source,
		Stage:  models.StageResolve,
		Reason: reason,
		Detail: err.Error(),
	}
}
