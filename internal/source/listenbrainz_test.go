// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
)

// fakeListenBrainz serves listens the way the real API does: the count
// listens right after min_ts, newest first.
type fakeListenBrainz struct {
	mu       sync.Mutex
	listens  []Listen
	requests []string
	tokens   []string
}

func newFakeListenBrainz(timestamps ...int64) *fakeListenBrainz {
	f := &fakeListenBrainz{}
	for i, ts := range timestamps {
		f.listens = append(f.listens, Listen{
			ListenedAt:    ts,
			UserName:      "rob",
			RecordingMSID: fmt.Sprintf("msid-%d", i),
			TrackMetadata: ListenMetadata{
				ArtistName:  "Nova",
				TrackName:   fmt.Sprintf("Track %d", i),
				ReleaseName: "First Light",
				AdditionalInfo: map[string]any{
					"duration_ms":       200000,
					"listening_from":    "Spotify Android",
					"listening_country": "se",
				},
				MBIDMapping: &MBIDMapping{RecordingMBID: fmt.Sprintf("mbid-%d", i)},
			},
		})
	}
	sort.SliceStable(f.listens, func(i, j int) bool { return f.listens[i].ListenedAt < f.listens[j].ListenedAt })
	return f
}

func (f *fakeListenBrainz) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.URL.RawQuery)
	f.tokens = append(f.tokens, r.Header.Get("Authorization"))

	if r.URL.Path != "/user/rob/listens" {
		http.NotFound(w, r)
		return
	}
	minTS, _ := strconv.ParseInt(r.URL.Query().Get("min_ts"), 10, 64)
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	var page ListensPage
	for _, l := range f.listens {
		if l.ListenedAt > minTS && len(page.Payload.Listens) < count {
			page.Payload.Listens = append(page.Payload.Listens, l)
		}
	}
	for i, j := 0, len(page.Payload.Listens)-1; i < j; i, j = i+1, j-1 {
		page.Payload.Listens[i], page.Payload.Listens[j] = page.Payload.Listens[j], page.Payload.Listens[i]
	}
	page.Payload.Count = len(page.Payload.Listens)
	page.Payload.UserID = "rob"

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func apiConfig(baseURL string) *config.SourceConfig {
	cfg := testSourceConfig()
	cfg.Kind = "api"
	cfg.API.BaseURL = baseURL
	cfg.API.User = "rob"
	cfg.API.Token = "secret"
	return cfg
}

func listenTimes(t *testing.T, records []models.RawRecord) []int64 {
	t.Helper()
	out := make([]int64, len(records))
	for i, r := range records {
		ts, ok := normalize.EventTime(r)
		if !ok {
			t.Fatalf("record %d has no event time: %+v", i, r)
		}
		out[i] = ts.Unix()
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListenBrainzReaderPagesAscending(t *testing.T) {
	t.Parallel()

	fake := newFakeListenBrainz(1000, 1001, 1002, 1003, 1004)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := NewListenBrainzReader(apiConfig(srv.URL), srv.Client())
	records := readAll(t, r, nil)

	if got := listenTimes(t, records); !equalInts(got, []int64{1000, 1001, 1002, 1003, 1004}) {
		t.Errorf("listened_at order = %v", got)
	}
	if fake.tokens[0] != "Token secret" {
		t.Errorf("Authorization = %q", fake.tokens[0])
	}
	if fake.requests[0] != "count=2&min_ts=0" {
		t.Errorf("first query = %q", fake.requests[0])
	}

	ev, rej := normalize.Normalize(records[0])
	if rej != nil {
		t.Fatalf("rejection %+v", rej)
	}
	if ev.UserID != "rob" || ev.ArtistName != "Nova" || ev.PlayedSec != 200 || ev.Country != "SE" || ev.DeviceType != normalize.DeviceMobile {
		t.Errorf("mapped event = %+v", ev)
	}
	if ev.Album == nil || *ev.Album != "First Light" {
		t.Errorf("album = %v", ev.Album)
	}
}

func TestListenBrainzReaderSameSecondAcrossPages(t *testing.T) {
	t.Parallel()

	// Two listens share one second and straddle a page boundary.
	fake := newFakeListenBrainz(1000, 1001, 1001, 1002)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := NewListenBrainzReader(apiConfig(srv.URL), srv.Client())
	records := readAll(t, r, nil)

	if got := listenTimes(t, records); !equalInts(got, []int64{1000, 1001, 1001, 1002}) {
		t.Errorf("listened_at = %v, want every listen exactly once", got)
	}
}

func TestListenBrainzReaderSinceAndLimits(t *testing.T) {
	t.Parallel()

	fake := newFakeListenBrainz(1000, 1001, 1002, 1003, 1004, 1005)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	since := time.Unix(1002, 0).UTC()

	r := NewListenBrainzReader(apiConfig(srv.URL), srv.Client())
	if got := listenTimes(t, readAll(t, r, &since)); !equalInts(got, []int64{1002, 1003, 1004, 1005}) {
		t.Errorf("since read = %v", got)
	}
	if fake.requests[0] != "count=2&min_ts=1001" {
		t.Errorf("first query = %q, want min_ts one second below the watermark", fake.requests[0])
	}

	cfg := apiConfig(srv.URL)
	cfg.API.MaxPages = 1
	r = NewListenBrainzReader(cfg, srv.Client())
	if got := listenTimes(t, readAll(t, r, &since)); !equalInts(got, []int64{1002, 1003}) {
		t.Errorf("max_pages read = %v", got)
	}

	// The window counts from the first listen after the watermark (1003).
	cfg = apiConfig(srv.URL)
	cfg.MaxWindow = time.Second
	r = NewListenBrainzReader(cfg, srv.Client())
	if got := listenTimes(t, readAll(t, r, &since)); !equalInts(got, []int64{1002, 1003, 1004}) {
		t.Errorf("max_window read = %v", got)
	}

	cfg = apiConfig(srv.URL)
	cfg.MaxRecords = 3
	r = NewListenBrainzReader(cfg, srv.Client())
	if got := listenTimes(t, readAll(t, r, &since)); !equalInts(got, []int64{1002, 1003, 1004}) {
		t.Errorf("max_records read = %v", got)
	}
}

func TestListenBrainzReaderCrossesGapLongerThanWindow(t *testing.T) {
	t.Parallel()

	fake := newFakeListenBrainz(1000, 1001, 1001+3*3600, 1001+3*3600+30)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.MaxWindow = time.Hour
	since := time.Unix(1001, 0).UTC()

	got := listenTimes(t, readAll(t, NewListenBrainzReader(cfg, srv.Client()), &since))
	if !equalInts(got, []int64{1001, 1001 + 3*3600, 1001 + 3*3600 + 30}) {
		t.Errorf("read after a 3h gap = %v", got)
	}
}

func TestListenBrainzClientRetriesRateLimit(t *testing.T) {
	t.Parallel()

	fake := newFakeListenBrainz(1000)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fake.ServeHTTP(w, r)
	}))
	defer srv.Close()

	client := NewListenBrainzClient(&apiConfig(srv.URL).API, srv.Client())
	page, err := client.GetListens(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("GetListens: %v", err)
	}
	if len(page.Payload.Listens) != 1 || calls.Load() != 2 {
		t.Errorf("listens = %d after %d calls", len(page.Payload.Listens), calls.Load())
	}
}

func TestListenBrainzClientGivesUpOnRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	client := NewListenBrainzClient(&cfg.API, srv.Client())
	if _, err := client.GetListens(context.Background(), 0, 10); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestListenBrainzReaderServerErrorIsSourceUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream on fire", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewListenBrainzReader(apiConfig(srv.URL), srv.Client())
	it, err := r.ReadSince(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = it.Next(context.Background())
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Errorf("error = %v, want SourceUnavailable", err)
	}
}

func TestListenBrainzReaderClientErrorIsRejected(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, "request refused", status)
			}))
			defer srv.Close()

			r := NewListenBrainzReader(apiConfig(srv.URL), srv.Client())
			it, err := r.ReadSince(context.Background(), nil)
			if err != nil {
				t.Fatal(err)
			}
			_, err = it.Next(context.Background())
			if !errors.Is(err, models.ErrSourceRejected) {
				t.Errorf("error = %v, want SourceRejected", err)
			}
			if errors.Is(err, models.ErrSourceUnavailable) {
				t.Errorf("error = %v must not be retried as SourceUnavailable", err)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != status {
				t.Errorf("error = %v, want status %d", err, status)
			}
			if got := hits.Load(); got != 1 {
				t.Errorf("requests = %d, want 1", got)
			}
		})
	}
}

func TestCircuitBreakerIgnoresRejectedRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cb := NewCircuitBreakerClient(NewListenBrainzClient(&cfg.API, srv.Client()))
	for i := 0; i < 8; i++ {
		if _, err := cb.GetListens(context.Background(), 0, 10); !isPermanentStatus(err) {
			t.Fatalf("call %d: error = %v, want a permanent status error", i, err)
		}
	}
	if got := cb.State(); got != "closed" {
		t.Errorf("breaker state = %q, want closed", got)
	}
}

func TestStatusErrorPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		if got := (&StatusError{StatusCode: tt.code}).Permanent(); got != tt.want {
			t.Errorf("Permanent(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestListenRecordCarriesFirstArtistMBID(t *testing.T) {
	t.Parallel()

	l := Listen{ListenedAt: 1000, TrackMetadata: ListenMetadata{
		ArtistName: "Nova & Friends",
		TrackName:  "T",
		MBIDMapping: &MBIDMapping{ArtistMBIDs: []string{
			"b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d",
			"a74b1b7f-71a5-4011-9441-d0b5e4122711",
		}},
	}}
	ev, rej := normalize.Normalize(listenRecord(l, "rob", "api:test"))
	if rej != nil {
		t.Fatalf("rejection %+v", rej)
	}
	if ev.ArtistMBID == nil || *ev.ArtistMBID != "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d" {
		t.Errorf("ArtistMBID = %v, want the first credited artist", ev.ArtistMBID)
	}
}

func TestListenRecordWithoutDuration(t *testing.T) {
	t.Parallel()

	l := Listen{ListenedAt: 1000, TrackMetadata: ListenMetadata{ArtistName: "A", TrackName: "T"}}
	raw := listenRecord(l, "rob", "api:test")

	ev, rej := normalize.Normalize(raw)
	if rej != nil {
		t.Fatalf("rejection %+v", rej)
	}
	if ev.UserID != "rob" || ev.PlayedSec != 0 || ev.CompletionRate != nil {
		t.Errorf("event = %+v", ev)
	}
}
