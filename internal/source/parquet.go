// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// DuckDB driver - read_parquet is built in, no extension install needed
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/models"
)

// ParquetReader reads a Parquet export through DuckDB's read_parquet.
type ParquetReader struct {
	db    *sql.DB
	owned bool
	path  string
	cfg   *config.SourceConfig
}

// NewParquetReader returns a reader that queries db. A nil db is replaced by a
// private in-memory DuckDB opened on first use and closed by Close.
func NewParquetReader(cfg *config.SourceConfig, db *sql.DB) *ParquetReader {
	return &ParquetReader{db: db, path: cfg.File.Path, cfg: cfg}
}

// Kind implements Reader.
func (r *ParquetReader) Kind() models.SourceKind { return models.SourceFile }

// Close releases the private DuckDB when the reader opened one.
func (r *ParquetReader) Close() error {
	if r.owned && r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

func (r *ParquetReader) conn() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	r.db, r.owned = db, true
	return db, nil
}

// ReadSince implements Reader.
func (r *ParquetReader) ReadSince(ctx context.Context, since *time.Time) (Iterator, error) {
	db, err := r.conn()
	if err != nil {
		return nil, models.SourceUnavailable("open_parquet", err)
	}

	// read_parquet takes a literal path; quote it the SQL way.
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s')", strings.ReplaceAll(r.path, "'", "''"))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.SourceUnavailable("read_parquet", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close parquet rows")
		}
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, models.SourceUnavailable("read_parquet", err)
	}

	var records []models.RawRecord
	for n := 0; rows.Next(); n++ {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, models.SourceUnavailable("scan_parquet", err)
		}

		fields := make(map[string]any, len(columns))
		for i, name := range columns {
			fields[name] = values[i]
		}
		records = append(records, models.RawRecord{
			Fields: fields,
			Source: models.SourceFile,
			Origin: fmt.Sprintf("%s:row%d", r.path, n),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, models.SourceUnavailable("read_parquet", err)
	}

	ordered := NewWindow(since, r.cfg).Apply(records)
	logging.Ctx(ctx).Debug().
		Str("path", r.path).
		Int("decoded", len(records)).
		Int("in_window", len(ordered)).
		Msg("Read parquet file")

	return newSliceIterator(ordered), nil
}
