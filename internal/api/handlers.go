// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/listenflow/internal/database"
	"github.com/tomtom215/listenflow/internal/ingest"
	"github.com/tomtom215/listenflow/internal/models"
)

// Store is the storage view the API needs. Satisfied by *database.DB.
type Store interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (database.Counts, error)
	MaxPlayedAt(ctx context.Context) (*time.Time, error)
}

// RunHistory lists recorded runs. Satisfied by *history.Store.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]*ingest.Summary, error)
	Get(ctx context.Context, runID string) (*ingest.Summary, error)
}

// Scheduler is the running ingestion scheduler. Satisfied by
// *services.IngestService.
type Scheduler interface {
	Trigger() bool
	Last() *ingest.Summary
}

// Handler serves the operator API. History and Scheduler may be nil; their
// endpoints then answer 404.
type Handler struct {
	store     Store
	history   RunHistory
	scheduler Scheduler
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(store Store, history RunHistory, scheduler Scheduler) *Handler {
	return &Handler{
		store:     store,
		history:   history,
		scheduler: scheduler,
		startTime: time.Now(),
	}
}

// Health pings storage and reports the watermark and the last run.
// It answers 503 when storage is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	health := models.HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Seconds(),
	}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		health.Status = "unavailable"
		status = http.StatusServiceUnavailable
		logRequestError(r, "STORAGE_UNAVAILABLE", err)
	} else {
		health.DatabaseConnected = true
		if wm, err := h.store.MaxPlayedAt(ctx); err == nil {
			health.Watermark = wm
		}
		if c, err := h.store.Counts(ctx); err == nil {
			health.Plays = c.Plays
		}
	}

	if h.scheduler != nil {
		if last := h.scheduler.Last(); last != nil {
			health.LastRunID = last.RunID
			health.LastRunState = string(last.State)
			if last.Failed() && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	respondData(w, status, health, start)
}

// Stats returns table counts and the watermark.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	counts, err := h.store.Counts(ctx)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage is unavailable", err)
		return
	}
	wm, err := h.store.MaxPlayedAt(ctx)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage is unavailable", err)
		return
	}

	respondData(w, http.StatusOK, struct {
		database.Counts
		Watermark *time.Time `json:"watermark"`
	}{counts, wm}, start)
}

type listRunsRequest struct {
	Limit int `json:"limit" validate:"min=1,max=1000"`
}

// ListRuns returns recorded runs, newest first. ?limit defaults to 20.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.history == nil {
		respondError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "Run history is disabled", nil)
		return
	}

	req := listRunsRequest{Limit: getIntParam(r, "limit", 20)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	runs, err := h.history.List(r.Context(), req.Limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*ingest.Summary{}
	}
	respondData(w, http.StatusOK, runs, start)
}

// GetRun returns one recorded run by id. The id "last" returns the
// scheduler's most recent run even when history is disabled.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	if id == "last" && h.scheduler != nil {
		if last := h.scheduler.Last(); last != nil {
			respondData(w, http.StatusOK, last, start)
			return
		}
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "No run has finished yet", nil)
		return
	}

	if h.history == nil {
		respondError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "Run history is disabled", nil)
		return
	}
	sum, err := h.history.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to read run", err)
		return
	}
	if sum == nil {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
		return
	}
	respondData(w, http.StatusOK, sum, start)
}

// TriggerRun asks the scheduler for an immediate run. It answers 202 when
// the run is queued and 409 when one is already pending.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.scheduler == nil {
		respondError(w, r, http.StatusNotFound, "SCHEDULER_DISABLED", "No scheduler is running", nil)
		return
	}
	if !h.scheduler.Trigger() {
		respondError(w, r, http.StatusConflict, "RUN_PENDING", "A triggered run is already pending", nil)
		return
	}
	respondData(w, http.StatusAccepted, map[string]string{"status": "queued"}, start)
}
