// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
)

// Reader reads listening records at or after a watermark.
//
// ReadSince may be called repeatedly with the same watermark; each call
// returns the same records or a superset of them.
type Reader interface {
	Kind() models.SourceKind
	ReadSince(ctx context.Context, since *time.Time) (Iterator, error)
	Close() error
}

// Iterator yields records in non-decreasing event-time order. Next returns
// io.EOF after the last record. Transport failures are SourceUnavailable.
type Iterator interface {
	Next(ctx context.Context) (models.RawRecord, error)
	Close() error
}

// Window bounds one read.
type Window struct {
	// Since is the inclusive lower bound. Nil reads all history.
	Since *time.Time

	// MaxWindow caps how far a read goes past the first event after Since.
	// It has no effect without Since.
	MaxWindow time.Duration

	// MaxRecords caps the number of timestamped records returned. Zero is
	// unbounded.
	MaxRecords int

	// start is the first event time strictly after Since.
	start *time.Time
}

// NewWindow builds a Window from the source configuration.
func NewWindow(since *time.Time, cfg *config.SourceConfig) Window {
	return Window{Since: since, MaxWindow: cfg.MaxWindow, MaxRecords: cfg.MaxRecords}
}

// Observe feeds an event time to the window. Readers that see events in
// ascending order call it for every event; the first time after Since
// anchors MaxWindow, so a gap in the data longer than MaxWindow is crossed
// instead of producing the same empty read on every run.
func (w *Window) Observe(t time.Time) {
	if w.Since == nil || w.start != nil || !t.After(*w.Since) {
		return
	}
	start := t
	w.start = &start
}

// Until returns the inclusive upper bound, or nil when unbounded. It stays
// nil until an event after Since has been observed.
func (w Window) Until() *time.Time {
	if w.Since == nil || w.MaxWindow <= 0 || w.start == nil {
		return nil
	}
	until := w.start.Add(w.MaxWindow)
	return &until
}

// Contains reports whether an event time falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Since != nil && t.Before(*w.Since) {
		return false
	}
	if until := w.Until(); until != nil && t.After(*until) {
		return false
	}
	return true
}

// Full reports whether n records already reach MaxRecords.
func (w Window) Full(n int) bool {
	return w.MaxRecords > 0 && n >= w.MaxRecords
}

// Apply filters records to the window, orders them by event time and caps
// the count. Records without a parsable event time are kept after the
// timestamped ones so the normalizer can reject them with a reason; they
// never take room under MaxRecords.
func (w Window) Apply(records []models.RawRecord) []models.RawRecord {
	type keyed struct {
		rec models.RawRecord
		at  time.Time
	}

	timed := make([]keyed, 0, len(records))
	var untimed []models.RawRecord
	for _, rec := range records {
		at, ok := normalize.EventTime(rec)
		if !ok {
			untimed = append(untimed, rec)
			continue
		}
		if w.Since != nil && at.Before(*w.Since) {
			continue
		}
		timed = append(timed, keyed{rec: rec, at: at})
	}

	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].at.Before(timed[j].at)
	})

	out := make([]models.RawRecord, 0, len(timed)+len(untimed))
	for _, k := range timed {
		w.Observe(k.at)
		if !w.Contains(k.at) || w.Full(len(out)) {
			break
		}
		out = append(out, k.rec)
	}
	return append(out, untimed...)
}

// sliceIterator serves records that were read and ordered up front.
type sliceIterator struct {
	records []models.RawRecord
	pos     int
}

func newSliceIterator(records []models.RawRecord) *sliceIterator {
	return &sliceIterator{records: records}
}

func (it *sliceIterator) Next(ctx context.Context) (models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.RawRecord{}, err
	}
	if it.pos >= len(it.records) {
		return models.RawRecord{}, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}

func (it *sliceIterator) Close() error {
	it.records = nil
	return nil
}

// Collect drains an iterator. It is meant for tests and small reads.
func Collect(ctx context.Context, it Iterator) ([]models.RawRecord, error) {
	defer func() { _ = it.Close() }()

	var out []models.RawRecord
	for {
		rec, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Dependencies carries resources some readers borrow from the caller.
type Dependencies struct {
	// DB runs read_parquet for parquet files. Nil opens a private
	// in-memory DuckDB.
	DB *sql.DB

	// HTTPClient overrides the API reader's client.
	HTTPClient *http.Client
}

// New returns the reader selected by cfg.Kind.
func New(cfg *config.SourceConfig, deps Dependencies) (Reader, error) {
	kind, err := models.ParseSourceKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.SourceFile:
		format := cfg.File.Format
		if format == "" {
			if format, err = config.FileFormatFromPath(cfg.File.Path); err != nil {
				return nil, err
			}
		}
		if format == FormatParquet {
			return NewParquetReader(cfg, deps.DB), nil
		}
		return NewFileReader(cfg, format)
	case models.SourceAPI:
		return NewListenBrainzReader(cfg, deps.HTTPClient), nil
	default:
		return NewStreamReader(cfg)
	}
}
