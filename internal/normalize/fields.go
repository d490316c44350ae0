// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errNotNumeric     = errors.New("not numeric")
	errOutOfRange     = errors.New("out of range")
	errTimeOutOfRange = errors.New("timestamp out of range")
)

// unixMillisThreshold separates unix seconds from unix milliseconds. Seconds
// stay below it until the year 5138.
const unixMillisThreshold = 1e11

// maxSeconds is the largest second count the store's INTEGER columns hold.
const maxSeconds = math.MaxInt32

// Accepted event times: years 1 through 9999, well inside the store's
// TIMESTAMP range.
var (
	minEventTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxEventTime = time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)
)

// numberLike matches json.Number from both encoding/json and goccy/go-json.
type numberLike interface {
	Float64() (float64, error)
	String() string
}

// asString returns a trimmed string for string-ish values. Numbers are
// formatted without exponent so CSV and JSON inputs agree.
func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case []byte:
		s := strings.TrimSpace(string(x))
		return s, s != ""
	case numberLike:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case fmt.Stringer:
		s := strings.TrimSpace(x.String())
		return s, s != ""
	default:
		return "", false
	}
}

// asFloat converts numeric values and numeric strings.
func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case numberLike:
		return x.Float64()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, errNotNumeric
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errNotNumeric
		}
		return f, nil
	default:
		return 0, errNotNumeric
	}
}

// asSeconds reads a duration in seconds, rounding to the nearest second.
// Values beyond ±maxSeconds are errOutOfRange.
func asSeconds(v any, scale float64) (int, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumeric
	}
	sec := math.Round(f / scale)
	if math.Abs(sec) > maxSeconds {
		return 0, errOutOfRange
	}
	return int(sec), nil
}

// asBool accepts booleans, 0/1 numbers and the usual string spellings.
// Anything unrecognised is false.
func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "y", "yes":
			return true
		}
		return false
	default:
		f, err := asFloat(v)
		return err == nil && f != 0
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// asTime parses a played_at value into UTC with microsecond precision, the
// resolution of the store.
func asTime(v any) (time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, errors.New("empty timestamp")
		}
		parsed, err := parseTimeString(s)
		if err != nil {
			return time.Time{}, err
		}
		t = parsed
	default:
		f, err := asFloat(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
		}
		if t, err = fromUnix(f); err != nil {
			return time.Time{}, err
		}
	}
	if t.IsZero() {
		return time.Time{}, errors.New("zero timestamp")
	}
	t = t.UTC()
	if t.Before(minEventTime) || t.After(maxEventTime) {
		return time.Time{}, errTimeOutOfRange
	}
	return t.Truncate(time.Microsecond), nil
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(f)
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// fromUnix reads unix seconds, or milliseconds at and above
// unixMillisThreshold. The range is checked before any integer conversion.
func fromUnix(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, errNotNumeric
	}
	if math.Abs(f) >= unixMillisThreshold {
		if f < float64(minEventTime.UnixMilli()) || f > float64(maxEventTime.UnixMilli()) {
			return time.Time{}, errTimeOutOfRange
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
