// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package models

import "time"

// CanonicalEvent is a validated listening event with units converted to
// seconds and every timestamp in UTC.
type CanonicalEvent struct {
	UserID     string    `json:"user_id" validate:"required"`
	TrackName  string    `json:"track_name" validate:"required"`
	ArtistName string    `json:"artist_name"`
	ArtistMBID *string   `json:"artist_mbid,omitempty" validate:"omitempty,uuid"`
	PlayedAt   time.Time `json:"played_at" validate:"required"`
	PlayedSec  int       `json:"played_sec" validate:"gte=0"`

	// DurationSec is the track length when the record carried it.
	DurationSec *int `json:"duration_sec,omitempty" validate:"omitempty,gte=0"`

	// CompletionRate is nil when the duration was unknown at normalization
	// time. The resolver computes it from the Track row in that case.
	CompletionRate *float64 `json:"completion_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	Clamped        bool     `json:"clamped"`

	Album           *string `json:"album,omitempty"`
	Genre           *string `json:"genre,omitempty"`
	Explicit        bool    `json:"explicit"`
	PopularityScore *int    `json:"popularity_score,omitempty"`

	DeviceType      string  `json:"device_type" validate:"required"`
	Country         string  `json:"country" validate:"country"`
	SkipReason      *string `json:"skip_reason,omitempty"`
	Liked           bool    `json:"liked"`
	AddedToPlaylist bool    `json:"added_to_playlist"`

	Source SourceKind `json:"source" validate:"oneof=file api stream"`
	Origin string     `json:"origin"`
}

// CompletionPending reports whether the completion rate still has to be
// derived from the resolved Track row.
func (e *CanonicalEvent) CompletionPending() bool {
	return e.CompletionRate == nil
}

// ResolvedEvent is a canonical event with all dimension keys attached.
type ResolvedEvent struct {
	Event    CanonicalEvent `json:"event"`
	UserID   string         `json:"user_id"`
	ArtistID int64          `json:"artist_id"`
	TrackID  int64          `json:"track_id"`

	// Created flags record which dimension rows this event inserted.
	UserCreated   bool `json:"user_created"`
	ArtistCreated bool `json:"artist_created"`
	TrackCreated  bool `json:"track_created"`
}

// Rejection describes one record or event routed away from persistence.
type Rejection struct {
	Origin string     `json:"origin"`
	Source SourceKind `json:"source"`
	Stage  string     `json:"stage"` // "normalize" or "resolve"
	Reason string     `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Rejection stage names.
const (
	StageNormalize = "normalize"
	StageResolve   = "resolve"
)

// RejectionReport accumulates rejections over a run.
// Only the first Limit entries are retained; Total keeps counting.
type RejectionReport struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason"`
	Samples  []Rejection    `json:"samples"`
	Limit    int            `json:"-"`
}

// DefaultRejectionSampleLimit bounds the retained rejection samples.
const DefaultRejectionSampleLimit = 100

// NewRejectionReport returns an empty report keeping up to limit samples.
func NewRejectionReport(limit int) *RejectionReport {
	if limit <= 0 {
		limit = DefaultRejectionSampleLimit
	}
	return &RejectionReport{
		ByReason: make(map[string]int),
		Limit:    limit,
	}
}

// Add records a rejection.
func (r *RejectionReport) Add(rej Rejection) {
	r.Total++
	r.ByReason[rej.Reason]++
	if len(r.Samples) < r.Limit {
		r.Samples = append(r.Samples, rej)
	}
}

// Merge folds other into r.
func (r *RejectionReport) Merge(other *RejectionReport) {
	if other == nil {
		return
	}
	r.Total += other.Total
	for reason, n := range other.ByReason {
		r.ByReason[reason] += n
	}
	for _, s := range other.Samples {
		if len(r.Samples) >= r.Limit {
			break
		}
		r.Samples = append(r.Samples, s)
	}
}
