// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package persist

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/listenflow/internal/models"
)

// PlayKey is the natural identity of a play.
type PlayKey struct {
	UserID   string
	TrackID  int64
	PlayedAt time.Time
}

func (k PlayKey) String() string {
	return fmt.Sprintf("%s|%d|%d", k.UserID, k.TrackID, k.PlayedAt.UTC().UnixNano())
}

// PlayID derives a stable UUID from the natural key, so re-ingesting the same
// listen always yields the same play_id.
func PlayID(k PlayKey) uuid.UUID {
	hash := sha256.Sum256([]byte(k.String()))

	// 16 bytes in, so FromBytes cannot fail.
	id, err := uuid.FromBytes(hash[:16])
	if err != nil {
		return uuid.New()
	}

	// Set version 5 (name based) and variant bits
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80

	return id
}

// ListenKey identifies a play by dimension natural keys. Dry runs use it
// since surrogate ids of dimensions created inside a rolled back transaction
// change from one batch to the next.
type ListenKey struct {
	UserID     string
	ArtistName string
	TrackName  string
	PlayedAt   time.Time
}

// ListenKeyOf returns the natural identity of a resolved event.
func ListenKeyOf(r *models.ResolvedEvent) ListenKey {
	return ListenKey{
		UserID:     r.UserID,
		ArtistName: strings.TrimSpace(r.Event.ArtistName),
		TrackName:  strings.TrimSpace(r.Event.TrackName),
		PlayedAt:   r.Event.PlayedAt,
	}
}

func (k ListenKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%d", k.UserID, k.ArtistName, k.TrackName, k.PlayedAt.UTC().UnixNano())
}

// PlayKeySet tracks listens seen during a dry run, where nothing is written
// and the store cannot dedupe for us.
type PlayKeySet map[string]struct{}

// Add records k and reports whether it was new.
func (s PlayKeySet) Add(k ListenKey) bool {
	key := k.String()
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}
