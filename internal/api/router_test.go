// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listenflow/internal/database"
	"github.com/tomtom215/listenflow/internal/ingest"
	"github.com/tomtom215/listenflow/internal/models"
)

type fakeStore struct {
	pingErr error
	counts  database.Counts
	wm      *time.Time
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Counts(context.Context) (database.Counts, error) {
	if f.pingErr != nil {
		return database.Counts{}, f.pingErr
	}
	return f.counts, nil
}

func (f *fakeStore) MaxPlayedAt(context.Context) (*time.Time, error) {
	if f.pingErr != nil {
		return nil, f.pingErr
	}
	return f.wm, nil
}

type fakeHistory struct {
	runs []*ingest.Summary
	err  error
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]*ingest.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeHistory) Get(_ context.Context, id string) (*ingest.Summary, error) {
	for _, r := range f.runs {
		if r.RunID == id {
			return r, nil
		}
	}
	return nil, f.err
}

type fakeScheduler struct {
	pending bool
	last    *ingest.Summary
}

func (f *fakeScheduler) Trigger() bool {
	if f.pending {
		return false
	}
	f.pending = true
	return true
}

func (f *fakeScheduler) Last() *ingest.Summary { return f.last }

var watermark = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testRuns() []*ingest.Summary {
	return []*ingest.Summary{
		{RunID: "run-b", State: ingest.StateCompleted, Inserted: 4},
		{RunID: "run-a", State: ingest.StateFailed, Inserted: 1},
	}
}

type envelopeResponse struct {
	Status string           `json:"status"`
	Error  *models.APIError `json:"error"`
}

// envelope decodes the response and returns its data as raw JSON.
func envelope(t *testing.T, rec *httptest.ResponseRecorder) (envelopeResponse, json.RawMessage) {
	t.Helper()
	var raw struct {
		Status string           `json:"status"`
		Data   json.RawMessage  `json:"data"`
		Error  *models.APIError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return envelopeResponse{Status: raw.Status, Error: raw.Error}, raw.Data
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      *fakeStore
		scheduler  Scheduler
		wantCode   int
		wantStatus string
	}{
		{
			name:       "healthy",
			store:      &fakeStore{counts: database.Counts{Plays: 7}, wm: &watermark},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "storage down",
			store:      &fakeStore{pingErr: errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
		},
		{
			name:       "last run failed",
			store:      &fakeStore{},
			scheduler:  &fakeScheduler{last: &ingest.Summary{RunID: "r1", State: ingest.StateFailed}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := NewRouter(NewHandler(tt.store, nil, tt.scheduler), DefaultRouterConfig())
			rec := serve(router, http.MethodGet, "/healthz")
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			_, data := envelope(t, rec)
			var health models.HealthStatus
			if err := json.Unmarshal(data, &health); err != nil {
				t.Fatal(err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", health.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthReportsWatermark(t *testing.T) {
	t.Parallel()
	store := &fakeStore{counts: database.Counts{Plays: 7}, wm: &watermark}
	rec := serve(NewRouter(NewHandler(store, nil, nil), DefaultRouterConfig()), http.MethodGet, "/healthz")

	_, data := envelope(t, rec)
	var health models.HealthStatus
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatal(err)
	}
	if !health.DatabaseConnected || health.Plays != 7 || health.Watermark == nil || !health.Watermark.Equal(watermark) {
		t.Errorf("health = %+v", health)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	store := &fakeStore{counts: database.Counts{Users: 1, Artists: 2, Tracks: 3, Plays: 4}, wm: &watermark}
	rec := serve(NewRouter(NewHandler(store, nil, nil), DefaultRouterConfig()), http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	_, data := envelope(t, rec)
	var got struct {
		database.Counts
		Watermark *time.Time `json:"watermark"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Tracks != 3 || got.Plays != 4 || got.Watermark == nil {
		t.Errorf("stats = %+v", got)
	}

	down := serve(NewRouter(NewHandler(&fakeStore{pingErr: errors.New("down")}, nil, nil), DefaultRouterConfig()), http.MethodGet, "/stats")
	if down.Code != http.StatusServiceUnavailable {
		t.Errorf("code with storage down = %d", down.Code)
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	router := NewRouter(NewHandler(&fakeStore{}, &fakeHistory{runs: testRuns()}, nil), DefaultRouterConfig())

	tests := []struct {
		target   string
		wantCode int
		wantLen  int
	}{
		{"/runs", http.StatusOK, 2},
		{"/runs?limit=1", http.StatusOK, 1},
		{"/runs?limit=abc", http.StatusOK, 2},
		{"/runs?limit=0", http.StatusBadRequest, 0},
		{"/runs?limit=5000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp, data := envelope(t, rec)
			if tt.wantCode != http.StatusOK {
				if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
					t.Errorf("error = %+v", resp.Error)
				}
				return
			}
			var runs []ingest.Summary
			if err := json.Unmarshal(data, &runs); err != nil {
				t.Fatal(err)
			}
			if len(runs) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(runs), tt.wantLen)
			}
		})
	}
}

func TestListRunsHistoryDisabled(t *testing.T) {
	t.Parallel()
	rec := serve(NewRouter(NewHandler(&fakeStore{}, nil, nil), DefaultRouterConfig()), http.MethodGet, "/runs")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
	resp, _ := envelope(t, rec)
	if resp.Status != "error" || resp.Error.Code != "HISTORY_DISABLED" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListRunsHistoryError(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{err: errors.New("badger closed")}
	rec := serve(NewRouter(NewHandler(&fakeStore{}, h, nil), DefaultRouterConfig()), http.MethodGet, "/runs")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "badger closed") {
		t.Error("internal error leaked to the client")
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{last: &ingest.Summary{RunID: "run-live", State: ingest.StateCompleted}}
	router := NewRouter(NewHandler(&fakeStore{}, &fakeHistory{runs: testRuns()}, sched), DefaultRouterConfig())

	tests := []struct {
		target   string
		wantCode int
		wantID   string
	}{
		{"/runs/run-a", http.StatusOK, "run-a"},
		{"/runs/last", http.StatusOK, "run-live"},
		{"/runs/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantID == "" {
				return
			}
			_, data := envelope(t, rec)
			var sum ingest.Summary
			if err := json.Unmarshal(data, &sum); err != nil {
				t.Fatal(err)
			}
			if sum.RunID != tt.wantID {
				t.Errorf("run id = %q, want %q", sum.RunID, tt.wantID)
			}
		})
	}
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{}
	router := NewRouter(NewHandler(&fakeStore{}, nil, sched), DefaultRouterConfig())

	if rec := serve(router, http.MethodPost, "/runs"); rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger code = %d", rec.Code)
	}
	if rec := serve(router, http.MethodPost, "/runs"); rec.Code != http.StatusConflict {
		t.Errorf("pending trigger code = %d, want 409", rec.Code)
	}

	noSched := NewRouter(NewHandler(&fakeStore{}, nil, nil), DefaultRouterConfig())
	if rec := serve(noSched, http.MethodPost, "/runs"); rec.Code != http.StatusNotFound {
		t.Errorf("trigger without scheduler code = %d, want 404", rec.Code)
	}
}

func TestTriggerRunRateLimited(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{}
	router := NewRouter(NewHandler(&fakeStore{}, nil, sched), RouterConfig{TriggerLimit: 2, TriggerWindow: time.Minute})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(router, http.MethodPost, "/runs").Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want the third request limited", codes)
	}
}

func TestMetricsAndFallbacks(t *testing.T) {
	t.Parallel()
	router := NewRouter(NewHandler(&fakeStore{}, nil, nil), DefaultRouterConfig())

	if rec := serve(router, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("/metrics code = %d", rec.Code)
	}
	if rec := serve(router, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path code = %d", rec.Code)
	}
	if rec := serve(router, http.MethodDelete, "/healthz"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /healthz code = %d", rec.Code)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()
	if got := sanitizeLogValue("a\nb\tc"); got != `a\x0ab\x09c` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}
