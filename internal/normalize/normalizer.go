// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package normalize turns loosely typed source records into canonical
// listening events.
//
// Normalize is a pure function: no I/O, no shared state. Malformed records
// come back as a Rejection value with a reason code; they never produce an
// error and never stop the caller from processing the next record.
package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/validation"
)

// Rejection reason codes.
const (
	ReasonMissingUser      = "missing_user"
	ReasonMissingTrack     = "missing_track"
	ReasonMissingPlayedAt  = "missing_played_at"
	ReasonInvalidPlayedAt  = "invalid_played_at"
	ReasonMissingPlayedSec = "missing_played_sec"
	ReasonInvalidPlayedSec = "invalid_played_sec"
	ReasonNegativePlayed   = "negative_played_sec"
	ReasonInvalidEvent     = "invalid_event"
	ReasonUnparsable       = "unparsable_record"
)

// Field aliases accepted from sources, in lookup order.
var (
	userKeys       = []string{"user_id", "user", "user_name", "username"}
	trackKeys      = []string{"track_name", "track", "title"}
	artistKeys     = []string{"artist_name", "artist", "artist_credit_name"}
	artistMBIDKeys = []string{"artist_mbid", "primary_artist_mbid"}
	playedAtKeys   = []string{"played_at", "listened_at", "timestamp"}
	albumKeys      = []string{"album", "release_name"}
	countryKeys    = []string{"country", "listening_country", "origin_country"}
	popularityKeys = []string{"popularity_score", "popularity"}
	playlistKeys   = []string{"added_to_playlist", "playlist_add"}
	deviceHintKeys = []string{"listening_from", "submission_client", "origin_url", "platform", "client"}
	skipReasonKeys = []string{"skip_reason"}
	explicitKeys   = []string{"explicit"}
	likedKeys      = []string{"liked"}
	genreKeys      = []string{"genre"}
	deviceTypeKeys = []string{"device_type", "device"}
)

// Normalize converts raw into a CanonicalEvent, or explains why it cannot.
// Exactly one of the results is non-nil.
func Normalize(raw models.RawRecord) (*models.CanonicalEvent, *models.Rejection) {
	reject := func(reason, detail string) (*models.CanonicalEvent, *models.Rejection) {
		return nil, &models.Rejection{
			Origin: raw.Origin,
			Source: raw.Source,
			Stage:  models.StageNormalize,
			Reason: reason,
			Detail: detail,
		}
	}

	if raw.Err != "" {
		return reject(ReasonUnparsable, raw.Err)
	}

	userID, ok := stringField(raw, userKeys...)
	if !ok {
		return reject(ReasonMissingUser, "")
	}
	trackName, ok := stringField(raw, trackKeys...)
	if !ok {
		return reject(ReasonMissingTrack, "")
	}

	playedAtRaw, ok := raw.Get(playedAtKeys...)
	if !ok || isBlank(playedAtRaw) {
		return reject(ReasonMissingPlayedAt, "")
	}
	playedAt, err := asTime(playedAtRaw)
	if err != nil {
		return reject(ReasonInvalidPlayedAt, err.Error())
	}

	playedSec, reason, err := playedSeconds(raw)
	if reason != "" {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		return reject(reason, detail)
	}

	ev := &models.CanonicalEvent{
		UserID:    userID,
		TrackName: trackName,
		PlayedAt:  playedAt,
		PlayedSec: playedSec,
		Source:    raw.Source,
		Origin:    raw.Origin,
	}

	// Artist stays empty when absent; the resolver rejects it with a
	// resolution error so the report says why.
	ev.ArtistName, _ = stringField(raw, artistKeys...)
	ev.ArtistMBID = artistMBID(raw)

	ev.DurationSec = trackDuration(raw)
	if ev.DurationSec != nil {
		ev.CompletionRate, ev.Clamped = CompletionRate(playedSec, *ev.DurationSec)
	}

	ev.Album = optionalString(raw, albumKeys...)
	ev.Genre = optionalString(raw, genreKeys...)
	ev.SkipReason = optionalString(raw, skipReasonKeys...)
	if v, ok := raw.Get(popularityKeys...); ok {
		if n, err := asSeconds(v, 1); err == nil {
			ev.PopularityScore = &n
		}
	}
	ev.Explicit = boolField(raw, explicitKeys...)
	ev.Liked = boolField(raw, likedKeys...)
	ev.AddedToPlaylist = boolField(raw, playlistKeys...)

	country, _ := stringField(raw, countryKeys...)
	ev.Country = NormalizeCountry(country)
	ev.DeviceType = deviceType(raw)

	if err := validation.ValidateStruct(ev); err != nil {
		var verrs *validation.Errors
		if errors.As(err, &verrs) {
			return reject(ReasonInvalidEvent, verrs.First().Message)
		}
		return reject(ReasonInvalidEvent, err.Error())
	}

	return ev, nil
}

// CompletionRate computes played/duration clamped to [0, 1]. clamped reports
// that the raw ratio was outside the range. A non-positive duration yields nil.
func CompletionRate(playedSec, durationSec int) (rate *float64, clamped bool) {
	if durationSec <= 0 {
		return nil, false
	}
	r := float64(playedSec) / float64(durationSec)
	switch {
	case r > 1:
		r, clamped = 1, true
	case r < 0:
		r, clamped = 0, true
	}
	return &r, clamped
}

// playedSeconds reads played_sec, falling back to played_ms.
func playedSeconds(raw models.RawRecord) (int, string, error) {
	v, scale := raw.Fields["played_sec"], 1.0
	if isBlank(v) {
		v, scale = raw.Fields["played_ms"], 1000.0
	}
	if isBlank(v) {
		return 0, ReasonMissingPlayedSec, nil
	}
	sec, err := asSeconds(v, scale)
	if err != nil {
		return 0, ReasonInvalidPlayedSec, err
	}
	if sec < 0 {
		return 0, ReasonNegativePlayed, nil
	}
	return sec, "", nil
}

// trackDuration reads duration_sec or duration_ms. Unparsable, zero or
// negative durations count as unknown.
func trackDuration(raw models.RawRecord) *int {
	for _, f := range []struct {
		key   string
		scale float64
	}{{"duration_sec", 1}, {"duration_ms", 1000}} {
		v := raw.Fields[f.key]
		if isBlank(v) {
			continue
		}
		sec, err := asSeconds(v, f.scale)
		if err != nil || sec <= 0 {
			return nil
		}
		return &sec
	}
	return nil
}

// artistMBID reads the MusicBrainz artist id in canonical form. Anything
// that is not a UUID counts as unknown.
func artistMBID(raw models.RawRecord) *string {
	s, ok := stringField(raw, artistMBIDKeys...)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return nil
	}
	out := id.String()
	return &out
}

func deviceType(raw models.RawRecord) string {
	if explicit, ok := stringField(raw, deviceTypeKeys...); ok {
		return InferDeviceLabel(explicit)
	}
	hints := make([]string, 0, len(deviceHintKeys))
	for _, k := range deviceHintKeys {
		if s, ok := stringField(raw, k); ok {
			hints = append(hints, s)
		}
	}
	return InferDevice(hints...)
}

// InferDeviceLabel keeps a known device label as is and maps free text
// through InferDevice.
func InferDeviceLabel(label string) string {
	switch label {
	case DeviceCar, DeviceWearable, DeviceSmartSpeaker, DeviceTV, DeviceMobile,
		DeviceDesktop, DeviceWeb, DeviceSpotifyApp, DeviceAppleMusic, DeviceUnknown:
		return label
	}
	return InferDevice(label)
}

func stringField(raw models.RawRecord, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw.Fields[k]; ok && v != nil {
			if s, ok := asString(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

func optionalString(raw models.RawRecord, keys ...string) *string {
	if s, ok := stringField(raw, keys...); ok {
		return &s
	}
	return nil
}

func boolField(raw models.RawRecord, keys ...string) bool {
	v, ok := raw.Get(keys...)
	return ok && asBool(v)
}

// isBlank treats nil and whitespace-only strings as absent. CSV sources
// produce empty strings for missing cells.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// EventTime extracts the played_at value of raw without validating the rest of
// the record. Readers use it to order and filter records; ok is false when the
// record has no parsable event time.
func EventTime(raw models.RawRecord) (t time.Time, ok bool) {
	v, found := raw.Get(playedAtKeys...)
	if !found || isBlank(v) {
		return time.Time{}, false
	}
	t, err := asTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
