// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/models"
)

// Batch file formats.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 4 * 1024 * 1024

// FileReader reads a CSV, JSON or JSON Lines export of listens.
//
// The whole file is decoded on every ReadSince and ordered by event time, so
// an unsorted export still yields ascending records.
type FileReader struct {
	path   string
	format string
	cfg    *config.SourceConfig
}

// NewFileReader returns a reader for the csv, json or jsonl format.
func NewFileReader(cfg *config.SourceConfig, format string) (*FileReader, error) {
	switch format {
	case FormatCSV, FormatJSON, FormatJSONL:
	default:
		return nil, fmt.Errorf("file reader does not handle format %q", format)
	}
	return &FileReader{path: cfg.File.Path, format: format, cfg: cfg}, nil
}

// Kind implements Reader.
func (r *FileReader) Kind() models.SourceKind { return models.SourceFile }

// Close implements Reader.
func (r *FileReader) Close() error { return nil }

// ReadSince implements Reader.
func (r *FileReader) ReadSince(ctx context.Context, since *time.Time) (Iterator, error) {
	start := time.Now()

	// #nosec G304 -- path comes from operator configuration
	f, err := os.Open(r.path)
	if err != nil {
		return nil, models.SourceUnavailable("open_file", err)
	}
	defer closeFile(f)

	var records []models.RawRecord
	switch r.format {
	case FormatCSV:
		records, err = r.readCSV(ctx, f)
	case FormatJSON:
		records, err = r.readJSON(f)
	case FormatJSONL:
		records, err = r.readJSONL(ctx, f)
	}
	if err != nil {
		return nil, err
	}

	window := NewWindow(since, r.cfg)
	ordered := window.Apply(records)

	logging.Ctx(ctx).Debug().
		Str("path", r.path).
		Str("format", r.format).
		Int("decoded", len(records)).
		Int("in_window", len(ordered)).
		Dur("elapsed", time.Since(start)).
		Msg("Read batch file")

	return newSliceIterator(ordered), nil
}

func (r *FileReader) readCSV(ctx context.Context, f io.Reader) ([]models.RawRecord, error) {
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, models.SourceUnavailable("read_csv_header", err)
	}
	for i := range header {
		header[i] = strings.TrimPrefix(header[i], "\ufeff")
	}

	var records []models.RawRecord
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}

		origin := fmt.Sprintf("%s:%d", r.path, line)
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			records = append(records, models.RawRecord{Source: models.SourceFile, Origin: origin, Err: parseErr.Error()})
			continue
		}
		if err != nil {
			return nil, models.SourceUnavailable("read_csv", err)
		}

		fields := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}
		records = append(records, models.RawRecord{Fields: fields, Source: models.SourceFile, Origin: origin})
	}
}

func (r *FileReader) readJSON(f io.Reader) ([]models.RawRecord, error) {
	dec := json.NewDecoder(f)
	dec.UseNumber()

	var rows []json.RawMessage
	if err := dec.Decode(&rows); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, models.SourceUnavailable("decode_json", err)
	}

	records := make([]models.RawRecord, 0, len(rows))
	for i, row := range rows {
		origin := fmt.Sprintf("%s:[%d]", r.path, i)
		records = append(records, decodeObject(row, models.SourceFile, origin))
	}
	return records, nil
}

func (r *FileReader) readJSONL(ctx context.Context, f io.Reader) ([]models.RawRecord, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var records []models.RawRecord
	for line := 1; scanner.Scan(); line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		origin := fmt.Sprintf("%s:%d", r.path, line)
		records = append(records, decodeObject(text, models.SourceFile, origin))
	}
	if err := scanner.Err(); err != nil {
		return nil, models.SourceUnavailable("read_jsonl", err)
	}
	return records, nil
}

// decodeObject decodes one JSON object into a RawRecord. A malformed object
// becomes a record carrying the decode error.
func decodeObject(data []byte, kind models.SourceKind, origin string) models.RawRecord {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return models.RawRecord{Source: kind, Origin: origin, Err: err.Error()}
	}
	if fields == nil {
		return models.RawRecord{Source: kind, Origin: origin, Err: "record is not a JSON object"}
	}
	return models.RawRecord{Fields: fields, Source: kind, Origin: origin}
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		logging.Warn().Err(err).Str("path", f.Name()).Msg("Failed to close source file")
	}
}
