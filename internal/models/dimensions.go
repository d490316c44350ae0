// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier values accepted by the users table.
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierFamily  = "family"
)

// UnknownCountry is the ISO 3166 user-assigned code used when a country
// cannot be determined.
const UnknownCountry = "ZZ"

// User is the user dimension keyed by the external user_id.
type User struct {
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	Email            *string   `json:"email,omitempty"`
	Country          string    `json:"country"`
	SubscriptionTier string    `json:"subscription_tier"`
	SignupDate       time.Time `json:"signup_date"`
	LastActive       time.Time `json:"last_active"`
}

// Artist is the artist dimension, unique on ArtistName.
type Artist struct {
	ArtistID         int64   `json:"artist_id"`
	ArtistName       string  `json:"artist_name"`
	MBID             *string `json:"artist_mbid,omitempty"`
	GenrePrimary     *string `json:"genre_primary,omitempty"`
	Country          *string `json:"country,omitempty"`
	Verified         bool    `json:"verified"`
	MonthlyListeners *int64  `json:"monthly_listeners,omitempty"`

	// EnrichedAt is set once a MusicBrainz lookup for MBID has answered.
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// Track is the track dimension, unique on (TrackName, ArtistID).
type Track struct {
	TrackID         int64   `json:"track_id"`
	TrackName       string  `json:"track_name"`
	ArtistID        int64   `json:"artist_id"`
	Album           *string `json:"album,omitempty"`
	Genre           *string `json:"genre,omitempty"`
	DurationSec     *int    `json:"duration_sec,omitempty"`
	Explicit        bool    `json:"explicit"`
	PopularityScore *int    `json:"popularity_score,omitempty"`
}

// Play is the fact row. (UserID, TrackID, PlayedAt) is the natural key.
type Play struct {
	PlayID          uuid.UUID  `json:"play_id"`
	UserID          string     `json:"user_id"`
	TrackID         int64      `json:"track_id"`
	PlayedAt        time.Time  `json:"played_at"`
	PlayedSec       int        `json:"played_sec"`
	CompletionRate  *float64   `json:"completion_rate,omitempty"`
	Clamped         bool       `json:"clamped"`
	DeviceType      string     `json:"device_type"`
	Country         string     `json:"country"`
	SkipReason      *string    `json:"skip_reason,omitempty"`
	Liked           bool       `json:"liked"`
	AddedToPlaylist bool       `json:"added_to_playlist"`
	Source          SourceKind `json:"source"`
	IngestedAt      time.Time  `json:"ingested_at"`
}
