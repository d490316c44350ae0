// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the router.
type RouterConfig struct {
	// TriggerLimit bounds POST /runs per client IP per TriggerWindow.
	// Zero disables the limit.
	TriggerLimit  int
	TriggerWindow time.Duration
}

// DefaultRouterConfig allows six manual triggers a minute per client.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{TriggerLimit: 6, TriggerWindow: time.Minute}
}

// NewRouter builds the operator HTTP surface.
//
//	GET  /healthz      storage ping, watermark, last run
//	GET  /metrics      prometheus
//	GET  /stats        row counts and watermark
//	GET  /runs         recorded runs, newest first (?limit=)
//	GET  /runs/{id}    one run; "last" is the scheduler's latest
//	POST /runs         trigger a run now
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger())

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", h.Stats)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
		r.With(RateLimitByIP(cfg.TriggerLimit, cfg.TriggerWindow)).Post("/", h.TriggerRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
