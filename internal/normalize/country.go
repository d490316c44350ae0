// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package normalize

import (
	"strings"

	"github.com/tomtom215/listenflow/internal/models"
)

// NormalizeCountry returns an upper-case two-letter code. Longer values with
// an alphabetic prefix are truncated ("usa" -> "US"); anything else becomes ZZ.
func NormalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) >= 2 && isASCIIUpper(code[0]) && isASCIIUpper(code[1]) {
		return code[:2]
	}
	return models.UnknownCountry
}

func isASCIIUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}
