// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package resolver

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/listenflow/internal/models"
)

// memTx mimics the store's insert-or-get semantics in memory.
type memTx struct {
	users   map[string]models.User
	artists map[string]int64
	tracks  map[trackKey]models.Track
	nextID  int64
	calls   int
	failOn  string
}

func newMemTx() *memTx {
	return &memTx{
		users:   make(map[string]models.User),
		artists: make(map[string]int64),
		tracks:  make(map[trackKey]models.Track),
	}
}

func (m *memTx) InsertOrGetUser(_ context.Context, u *models.User) (bool, error) {
	m.calls++
	if m.failOn == "user" {
		return false, models.Persistence("insert_user", errors.New("bad connection"), true)
	}
	if _, ok := m.users[u.UserID]; ok {
		return false, nil
	}
	m.users[u.UserID] = *u
	return true, nil
}

func (m *memTx) InsertOrGetArtist(_ context.Context, a *models.Artist) (int64, bool, error) {
	m.calls++
	if id, ok := m.artists[a.ArtistName]; ok {
		return id, false, nil
	}
	m.nextID++
	m.artists[a.ArtistName] = m.nextID
	return m.nextID, true, nil
}

func (m *memTx) InsertOrGetTrack(_ context.Context, t *models.Track) (models.Track, bool, error) {
	m.calls++
	k := trackKey{t.TrackName, t.ArtistID}
	if tr, ok := m.tracks[k]; ok {
		return tr, false, nil
	}
	m.nextID++
	stored := *t
	stored.TrackID = m.nextID
	m.tracks[k] = stored
	return stored, true, nil
}

func event(user, artist, track string) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		UserID:     user,
		ArtistName: artist,
		TrackName:  track,
		PlayedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PlayedSec:  180,
		DeviceType: "mobile",
		Country:    "SE",
		Source:     models.SourceFile,
		Origin:     "test:1",
	}
}

func TestResolveCreatesThenReuses(t *testing.T) {
	t.Parallel()

	tx := newMemTx()
	b := NewBatch(tx)
	ctx := context.Background()

	first, err := b.Resolve(ctx, event("U1", "A1", "T1"))
	if err != nil {
		t.Fatal(err)
	}
	if !first.UserCreated || !first.ArtistCreated || !first.TrackCreated {
		t.Errorf("first sight flags = %v/%v/%v, want all true", first.UserCreated, first.ArtistCreated, first.TrackCreated)
	}

	second, err := b.Resolve(ctx, event("U1", "A1", "T1"))
	if err != nil {
		t.Fatal(err)
	}
	if second.UserCreated || second.ArtistCreated || second.TrackCreated {
		t.Error("second sight must reuse every dimension row")
	}
	if second.ArtistID != first.ArtistID || second.TrackID != first.TrackID {
		t.Errorf("keys changed: %+v vs %+v", second, first)
	}
	if tx.calls != 3 {
		t.Errorf("store calls = %d, want 3 (batch memoizes resolved keys)", tx.calls)
	}

	// A fresh batch on the same store reuses rows through insert-or-get.
	third, err := NewBatch(tx).Resolve(ctx, event("U1", "A1", "T1"))
	if err != nil {
		t.Fatal(err)
	}
	if third.ArtistCreated || third.ArtistID != first.ArtistID {
		t.Errorf("new batch re-created artist: %+v", third)
	}
}

func TestResolveDefaultUser(t *testing.T) {
	t.Parallel()

	tx := newMemTx()
	ev := event("rob", "Nova", "Drift")
	if _, err := NewBatch(tx).Resolve(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	u := tx.users["rob"]
	if u.Username != "rob" || u.Country != "SE" || u.SubscriptionTier != models.TierFree {
		t.Errorf("default user = %+v", u)
	}
	if !u.SignupDate.Equal(ev.PlayedAt) || !u.LastActive.Equal(ev.PlayedAt) {
		t.Errorf("user dates = %v/%v, want %v", u.SignupDate, u.LastActive, ev.PlayedAt)
	}
}

func TestResolveTrackUnderDifferentArtist(t *testing.T) {
	t.Parallel()

	b := NewBatch(newMemTx())
	ctx := context.Background()

	a, err := b.Resolve(ctx, event("U1", "Nova", "Intro"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Resolve(ctx, event("U1", "Lumen", "Intro"))
	if err != nil {
		t.Fatal(err)
	}
	if a.TrackID == c.TrackID {
		t.Error("same track name under two artists must be two tracks")
	}
}

func TestResolveInvalidNaturalKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ev     *models.CanonicalEvent
		reason string
	}{
		{"empty artist", event("U1", "", "T1"), ReasonEmptyArtistName},
		{"blank artist", event("U1", "   ", "T1"), ReasonEmptyArtistName},
		{"blank track", event("U1", "A1", " "), ReasonEmptyTrackName},
		{"blank user", event(" ", "A1", "T1"), ReasonEmptyUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newMemTx()
			_, err := NewBatch(tx).Resolve(context.Background(), tt.ev)
			if !errors.Is(err, models.ErrResolution) {
				t.Fatalf("error = %v, want ResolutionError", err)
			}
			if tx.calls != 0 {
				t.Errorf("store touched %d times for an invalid key", tx.calls)
			}
			rej := Rejection(tt.ev, err)
			if rej.Reason != tt.reason || rej.Stage != models.StageResolve {
				t.Errorf("rejection = %+v, want reason %q", rej, tt.reason)
			}
		})
	}
}

func TestResolveDeferredCompletionRate(t *testing.T) {
	t.Parallel()

	tx := newMemTx()
	b := NewBatch(tx)
	ctx := context.Background()

	// First play carries the duration and creates the track row.
	withDuration := event("U1", "A1", "T1")
	d := 200
	withDuration.DurationSec = &d
	if _, err := b.Resolve(ctx, withDuration); err != nil {
		t.Fatal(err)
	}

	// A later play without duration takes it from the stored track.
	pending := event("U2", "A1", "T1")
	pending.PlayedSec = 150
	res, err := NewBatch(tx).Resolve(ctx, pending)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event.CompletionRate == nil || math.Abs(*res.Event.CompletionRate-0.75) > 1e-9 {
		t.Errorf("CompletionRate = %v, want 0.75", res.Event.CompletionRate)
	}
	if pending.CompletionRate != nil {
		t.Error("Resolve must not mutate the input event")
	}

	// Unknown everywhere stays NULL and unflagged.
	unknown, err := b.Resolve(ctx, event("U1", "A2", "T9"))
	if err != nil {
		t.Fatal(err)
	}
	if unknown.Event.CompletionRate != nil || unknown.Event.Clamped {
		t.Errorf("unknown duration gave rate=%v clamped=%v", unknown.Event.CompletionRate, unknown.Event.Clamped)
	}
}

func TestResolvePropagatesPersistenceError(t *testing.T) {
	t.Parallel()

	tx := newMemTx()
	tx.failOn = "user"
	_, err := NewBatch(tx).Resolve(context.Background(), event("U1", "A1", "T1"))
	if !errors.Is(err, models.ErrPersistence) {
		t.Errorf("error = %v, want PersistenceError", err)
	}
}
