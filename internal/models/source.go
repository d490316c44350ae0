// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package models

import "fmt"

// SourceKind is the provenance tag stored on every Play row.
type SourceKind string

const (
	SourceFile   SourceKind = "file"
	SourceAPI    SourceKind = "api"
	SourceStream SourceKind = "stream"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFile, SourceAPI, SourceStream:
		return true
	default:
		return false
	}
}

// ParseSourceKind converts a configuration string into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown source kind %q (expected file, api or stream)", s)
	}
	return k, nil
}

// RawRecord is a single upstream event before any schema enforcement.
// Fields keeps whatever the source decoded: strings, float64, int64,
// bool, time.Time or nil.
type RawRecord struct {
	Fields map[string]any `json:"fields"`

	// Source is the kind of reader that produced the record.
	Source SourceKind `json:"source"`

	// Origin locates the record upstream (file:line, page:index, topic:offset)
	// for the rejection report.
	Origin string `json:"origin"`

	// Err is set when the reader could not decode this one record. The
	// normalizer rejects it without looking at Fields.
	Err string `json:"error,omitempty"`
}

// Get returns the first present, non-nil value among the given keys.
func (r RawRecord) Get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
