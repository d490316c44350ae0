// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/cursor"
	"github.com/tomtom215/listenflow/internal/enrich"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/metrics"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
	"github.com/tomtom215/listenflow/internal/persist"
	"github.com/tomtom215/listenflow/internal/source"
)

// Recorder keeps finished run summaries. It is never consulted for the
// watermark.
type Recorder interface {
	Record(ctx context.Context, s *Summary) error
}

// Enricher fills dimension attributes after a completed run. Its failures
// are logged and never fail the run.
type Enricher interface {
	Enrich(ctx context.Context) (enrich.Result, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Watermarks  cursor.Store
	Reader      source.Reader
	Coordinator *persist.Coordinator

	// History and Enricher are optional.
	History  Recorder
	Enricher Enricher
}

// RunOptions select the mode of one run.
type RunOptions struct {
	DryRun     bool
	FullResync bool
}

// Orchestrator drives runs: cursor, read, normalize, resolve, persist, batch
// by batch. It holds no per-run state, so runs may overlap.
type Orchestrator struct {
	cfg          config.IngestConfig
	initialSince time.Time
	watermarks   cursor.Store
	reader       source.Reader
	coordinator  *persist.Coordinator
	history      Recorder
	enricher     Enricher
}

// New validates deps and returns an Orchestrator.
func New(cfg *config.IngestConfig, deps Deps) (*Orchestrator, error) {
	if deps.Watermarks == nil || deps.Reader == nil || deps.Coordinator == nil {
		return nil, errors.New("ingest: watermarks, reader and coordinator are required")
	}
	initial, err := cfg.InitialSinceTime()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:          *cfg,
		initialSince: initial,
		watermarks:   deps.Watermarks,
		reader:       deps.Reader,
		coordinator:  deps.Coordinator,
		history:      deps.History,
		enricher:     deps.Enricher,
	}
	if o.cfg.BatchSize < 1 {
		o.cfg.BatchSize = 1000
	}
	if o.cfg.RetryAttempts < 1 {
		o.cfg.RetryAttempts = 1
	}
	if o.cfg.ReadAttempts < 1 {
		o.cfg.ReadAttempts = 1
	}
	return o, nil
}

// Run executes one ingestion pass. The summary is always returned; the error
// is non-nil exactly when the run ends Failed.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	fullResync := opts.FullResync || o.cfg.FullResync

	r := &run{
		o:      o,
		dryRun: opts.DryRun,
		cursor: cursor.NewProvider(o.watermarks, cursor.Options{
			InitialSince: o.initialSince,
			FullResync:   fullResync,
		}),
		summary: &Summary{
			RunID:      logging.NewRunID(),
			Source:     o.reader.Kind(),
			DryRun:     opts.DryRun,
			FullResync: fullResync,
			State:      StateIdle,
			StartTime:  time.Now(),
			Rejections: models.NewRejectionReport(o.cfg.RejectionSamples),
		},
	}
	if opts.DryRun {
		r.seen = make(persist.PlayKeySet)
	}

	ctx = logging.ContextWithRunID(ctx, r.summary.RunID)

	logging.Ctx(ctx).Info().
		Str("source", string(r.summary.Source)).
		Bool("dry_run", r.dryRun).
		Bool("full_resync", fullResync).
		Int("batch_size", o.cfg.BatchSize).
		Msg("Starting ingestion run")

	err := r.execute(ctx)
	if err == nil && !r.dryRun && o.enricher != nil {
		r.enrich(ctx)
	}
	r.finish(ctx, err)

	if err != nil {
		return r.summary.Copy(), err
	}
	return r.summary.Copy(), nil
}

// run is the state of one Run call.
type run struct {
	o       *Orchestrator
	cursor  *cursor.Provider
	dryRun  bool
	seen    persist.PlayKeySet
	summary *Summary
	batch   int
}

func (r *run) transition(ctx context.Context, to State) {
	from := r.summary.State
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		logging.Ctx(ctx).Warn().Str("from", string(from)).Str("to", string(to)).Msg("Unexpected state transition")
	}
	r.summary.State = to
	logging.Ctx(ctx).Trace().Str("from", string(from)).Str("to", string(to)).Int("batch", r.batch).Msg("State transition")
}

func (r *run) execute(ctx context.Context) error {
	r.transition(ctx, StateFetchingCursor)
	pos, err := r.cursor.Position(ctx)
	if err != nil {
		return err
	}
	r.summary.StartWatermark = pos.Watermark
	r.summary.LastGoodWatermark = pos.Watermark

	since := pos.Since
	delay := r.o.cfg.RetryDelay

	for attempt := 1; ; attempt++ {
		r.summary.ReadAttempts = attempt
		r.summary.Since = since

		err := r.readAndCommit(ctx, since)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrSourceUnavailable) || attempt >= r.o.cfg.ReadAttempts {
			return err
		}

		logging.Ctx(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.o.cfg.ReadAttempts).
			Dur("delay", delay).
			Msg("Source unavailable, retrying read")
		metrics.ReadRetries.Inc()

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2

		r.transition(ctx, StateFetchingCursor)
		since, err = r.resume(ctx)
		if err != nil {
			return err
		}
	}
}

// resume re-derives the lower bound after a failed read. Progress made by
// this run counts even for full resyncs and dry runs, whose cursor position
// does not move with the store.
func (r *run) resume(ctx context.Context) (*time.Time, error) {
	pos, err := r.cursor.Position(ctx)
	if err != nil {
		return nil, err
	}
	since := pos.Since
	if last := r.summary.LastGoodWatermark; last != nil && r.summary.Batches > 0 {
		if since == nil || last.After(*since) {
			at := *last
			since = &at
		}
	}
	return since, nil
}

func (r *run) readAndCommit(ctx context.Context, since *time.Time) error {
	r.transition(ctx, StateReading)

	it, err := r.o.reader.ReadSince(ctx, since)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil {
			logging.Ctx(ctx).Warn().Err(closeErr).Msg("Error closing source iterator")
		}
	}()

	for {
		// Cancellation is honored between batches only.
		if err := ctx.Err(); err != nil {
			return err
		}

		records, done, err := r.nextBatch(ctx, it)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			r.batch++
			if err := r.processBatch(ctx, records); err != nil {
				return err
			}
			r.transition(ctx, StateReading)
		}
		if done {
			return nil
		}
	}
}

// nextBatch pulls up to BatchSize records. done is set once the iterator is
// exhausted.
func (r *run) nextBatch(ctx context.Context, it source.Iterator) (records []models.RawRecord, done bool, err error) {
	records = make([]models.RawRecord, 0, r.o.cfg.BatchSize)
	for len(records) < r.o.cfg.BatchSize {
		rec, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return records, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	return records, false, nil
}

func (r *run) processBatch(ctx context.Context, records []models.RawRecord) error {
	r.summary.Read += int64(len(records))

	r.transition(ctx, StateNormalizing)
	events := make([]*models.CanonicalEvent, 0, len(records))
	for _, raw := range records {
		ev, rej := normalize.Normalize(raw)
		if rej != nil {
			r.summary.Rejected++
			r.summary.Rejections.Add(*rej)
			metrics.RecordRejection(string(raw.Source), rej.Stage, rej.Reason)
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		logging.Ctx(ctx).Debug().Int("batch", r.batch).Int("records", len(records)).Msg("Batch fully rejected")
		return nil
	}

	// A started batch runs to commit or rollback even if the run is cancelled.
	// The coordinator's commit timeout still bounds it.
	batchCtx := context.WithoutCancel(ctx)

	res, err := r.commitWithRetry(ctx, batchCtx, events)
	if err != nil {
		return err
	}

	r.summary.addBatch(res)
	for _, rej := range res.Rejections {
		metrics.RecordRejection(string(rej.Source), rej.Stage, rej.Reason)
	}
	if !res.DryRun {
		metrics.RecordBatch(string(r.summary.Source), res.Events, res.Inserted, res.Skipped, res.Elapsed)
		metrics.DimensionsCreated.WithLabelValues("user").Add(float64(res.UsersCreated))
		metrics.DimensionsCreated.WithLabelValues("artist").Add(float64(res.ArtistsCreated))
		metrics.DimensionsCreated.WithLabelValues("track").Add(float64(res.TracksCreated))
	}

	logging.Ctx(ctx).Info().
		Int("batch", r.batch).
		Int("records", len(records)).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("rejected", len(records)-len(events)+res.Rejected).
		Int("clamped", res.Clamped).
		Str("watermark", formatTime(r.summary.LastGoodWatermark)).
		Dur("elapsed", res.Elapsed).
		Bool("dry_run", res.DryRun).
		Msg("Batch committed")

	return nil
}

// commitWithRetry retries a failing batch with exponential backoff. Every
// PersistenceError is retried since the whole batch rolls back and fact
// inserts are idempotent. Anything else fails the run at once.
func (r *run) commitWithRetry(ctx, batchCtx context.Context, events []*models.CanonicalEvent) (*persist.BatchResult, error) {
	var (
		res *persist.BatchResult
		err error
	)
	delay := r.o.cfg.RetryDelay

	for attempt := 1; attempt <= r.o.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			r.summary.BatchRetries++
			metrics.BatchRetries.Inc()
		}

		res, err = r.commitOnce(ctx, batchCtx, events)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, models.ErrPersistence) {
			return nil, err
		}

		if attempt < r.o.cfg.RetryAttempts {
			logging.Ctx(ctx).Warn().Err(err).
				Int("batch", r.batch).
				Int("attempt", attempt).
				Int("max_attempts", r.o.cfg.RetryAttempts).
				Bool("retryable", models.IsRetryable(err)).
				Dur("delay", delay).
				Msg("Batch failed, retrying")
			// Nothing of this batch is committed, so cancellation may cut the wait.
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("batch %d failed after %d attempts: %w", r.batch, r.o.cfg.RetryAttempts, err)
}

func (r *run) commitOnce(ctx, batchCtx context.Context, events []*models.CanonicalEvent) (*persist.BatchResult, error) {
	var (
		scope *persist.Scope
		seen  persist.PlayKeySet
		err   error
	)
	if r.dryRun {
		// A failed attempt must not leave its keys behind.
		seen = maps.Clone(r.seen)
		scope, err = r.o.coordinator.BeginDryRun(batchCtx, seen)
	} else {
		scope, err = r.o.coordinator.Begin(batchCtx)
	}
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	r.transition(ctx, StateResolving)
	resolved, err := scope.Resolve(events)
	if err != nil {
		return nil, err
	}

	r.transition(ctx, StatePersisting)
	if err := scope.Persist(resolved); err != nil {
		return nil, err
	}
	res, err := scope.Commit()
	if err != nil {
		return nil, err
	}
	if r.dryRun {
		r.seen = seen
	}
	return res, nil
}

func (r *run) enrich(ctx context.Context) {
	res, err := r.o.enricher.Enrich(ctx)
	r.summary.Enrichment = &res
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int("enriched", res.Enriched).Msg("Artist enrichment stopped early")
	}
}

func (r *run) finish(ctx context.Context, err error) {
	s := r.summary
	s.EndTime = time.Now()

	if err != nil {
		failedIn := s.State
		r.transition(ctx, StateFailed)
		s.Failure = &FailurePoint{
			State:     failedIn,
			Batch:     r.batch,
			Kind:      models.KindOf(err),
			Error:     err.Error(),
			Cancelled: ctx.Err() != nil,
		}

		logging.Ctx(ctx).Error().Err(err).
			Str("failed_in", string(failedIn)).
			Int("batch", r.batch).
			Int64("inserted", s.Inserted).
			Int64("rejected", s.Rejected).
			Str("last_good_watermark", formatTime(s.LastGoodWatermark)).
			Dur("duration", s.Duration()).
			Msg("Ingestion run failed")
	} else {
		r.transition(ctx, StateCompleted)
		logging.Ctx(ctx).Info().
			Int64("read", s.Read).
			Int64("inserted", s.Inserted).
			Int64("skipped", s.Skipped).
			Int64("rejected", s.Rejected).
			Int64("clamped", s.Clamped).
			Int("batches", s.Batches).
			Str("watermark", formatTime(s.LastGoodWatermark)).
			Float64("records_per_second", s.RecordsPerSecond()).
			Dur("duration", s.Duration()).
			Bool("dry_run", s.DryRun).
			Msg("Ingestion run completed")
	}

	outcome := metrics.RunOutcome{Failed: err != nil, DryRun: s.DryRun, Duration: s.Duration()}
	if s.LastGoodWatermark != nil {
		outcome.Watermark = *s.LastGoodWatermark
	}
	metrics.RecordRun(outcome)

	if r.o.history != nil {
		// The run context may already be cancelled.
		if herr := r.o.history.Record(context.WithoutCancel(ctx), s.Copy()); herr != nil {
			logging.Ctx(ctx).Warn().Err(herr).Msg("Failed to record run history")
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
