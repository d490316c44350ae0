// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/listenflow/internal/config"
)

var (
	simArtistWords = []string{"Nova", "Velvet", "Echo", "Harbor", "Signal", "Paper", "Lumen", "Static", "Orbit", "Willow"}
	simTrackWords  = []string{"Drift", "Afterglow", "Northbound", "Glass", "Undertow", "Satellites", "Ember", "Quiet Hours"}
	simDevices     = []string{"mobile", "desktop", "web", "car", "smart_speaker", "tv", "wearable"}
	simCountries   = []string{"US", "GB", "DE", "FR", "SE", "BR", "JP", "CA"}
	simTiers       = []string{"free", "premium", "family"}
	simSkips       = []string{"skipped_by_user", "next_track", "interrupted"}
)

// simNamespace scopes simulated message IDs.
var simNamespace = uuid.MustParse("6f1c2b8e-3a54-4d2b-9a0e-7c1d5f3e8b21")

// Simulator generates a deterministic stream of listens. The same seed and
// settings always produce the same records, message IDs included.
type Simulator struct {
	cfg   config.SimulateConfig
	start time.Time
}

// NewSimulator validates cfg and returns a simulator.
func NewSimulator(cfg config.SimulateConfig) (*Simulator, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return nil, err
	}
	if cfg.Users < 1 || cfg.Artists < 1 || cfg.TracksPerArtist < 1 || cfg.Spacing <= 0 {
		return nil, fmt.Errorf("simulate needs users, artists, tracks_per_artist and spacing > 0")
	}
	return &Simulator{cfg: cfg, start: start}, nil
}

// SimulatedListen is one generated listen with its stable message ID.
type SimulatedListen struct {
	ID     string
	Fields map[string]any
}

// Listens returns cfg.Count listens. Event times increase by Spacing, but the
// emission order is shuffled so readers have to order them.
func (s *Simulator) Listens() []SimulatedListen {
	rng := rand.New(rand.NewPCG(uint64(s.cfg.Seed), 0x9e3779b97f4a7c15))

	out := make([]SimulatedListen, 0, s.cfg.Count)
	for i := 0; i < s.cfg.Count; i++ {
		artist := rng.IntN(s.cfg.Artists)
		track := rng.IntN(s.cfg.TracksPerArtist)
		user := rng.IntN(s.cfg.Users)

		duration := 120 + rng.IntN(300)
		// A few listens run past the track length and get clamped downstream.
		played := int(float64(duration) * (0.2 + rng.Float64()*0.9))

		fields := map[string]any{
			"user":              fmt.Sprintf("user-%03d", user),
			"artist":            simArtistName(artist),
			"track":             simTrackName(artist, track),
			"played_at":         s.start.Add(time.Duration(i) * s.cfg.Spacing).Format(time.RFC3339),
			"played_sec":        played,
			"duration_sec":      duration,
			"device_type":       simDevices[rng.IntN(len(simDevices))],
			"country":           simCountries[user%len(simCountries)],
			"subscription_tier": simTiers[user%len(simTiers)],
			"liked":             rng.IntN(5) == 0,
			"added_to_playlist": rng.IntN(10) == 0,
			"explicit":          track%4 == 0,
		}
		if played < duration/2 {
			fields["skip_reason"] = simSkips[rng.IntN(len(simSkips))]
		}

		id := uuid.NewSHA1(simNamespace, []byte(fmt.Sprintf("%d|%d", s.cfg.Seed, i)))
		out = append(out, SimulatedListen{ID: id.String(), Fields: fields})
	}

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Messages encodes the listens as Watermill messages with JSON payloads.
func (s *Simulator) Messages() ([]*message.Message, error) {
	listens := s.Listens()
	msgs := make([]*message.Message, 0, len(listens))
	for _, l := range listens {
		payload, err := json.Marshal(l.Fields)
		if err != nil {
			return nil, fmt.Errorf("encode simulated listen: %w", err)
		}
		msg := message.NewMessage(l.ID, payload)
		msg.Metadata.Set("source", "simulator")
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Publish sends every simulated listen to topic and returns the count.
func (s *Simulator) Publish(ctx context.Context, pub message.Publisher, topic string) (int, error) {
	msgs, err := s.Messages()
	if err != nil {
		return 0, err
	}
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := pub.Publish(topic, msg); err != nil {
			return i, fmt.Errorf("publish simulated listen: %w", err)
		}
	}
	return len(msgs), nil
}

func simArtistName(i int) string {
	name := simArtistWords[i%len(simArtistWords)]
	if n := i / len(simArtistWords); n > 0 {
		name = fmt.Sprintf("%s %d", name, n+1)
	}
	return name
}

func simTrackName(artist, track int) string {
	name := simTrackWords[(artist+track)%len(simTrackWords)]
	if n := track / len(simTrackWords); n > 0 {
		name = fmt.Sprintf("%s (Part %d)", name, n+1)
	}
	return name
}
