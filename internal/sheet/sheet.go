// Package sheet reads platform exports (CSV or XLSX) into header-keyed rows.
package sheet

import (
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/settlr/internal/numeric"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported_file_format")
	ErrNoHeader          = errors.New("missing_header_row")
)

// Row is one data row keyed by normalized header.
type Row map[string]any

// NormalizeHeader trims, drops a BOM and collapses inner whitespace.
func NormalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Join(strings.Fields(s), " ")
}

// Normalize returns a copy of r with every key normalized. When two keys
// collapse to the same header the first non-empty value wins.
func Normalize(r map[string]any) Row {
	out := make(Row, len(r))
	for k, v := range r {
		key := NormalizeHeader(k)
		if key == "" {
			continue
		}
		if existing, ok := out[key]; ok && !isBlank(existing) {
			continue
		}
		out[key] = v
	}
	return out
}

// Value returns the first non-blank cell among keys.
func (r Row) Value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-blank cell among keys as trimmed text.
func (r Row) String(keys ...string) string {
	v, ok := r.Value(keys...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(toString(v))
}

// Number coerces the first non-blank cell among keys, 0 when absent.
func (r Row) Number(keys ...string) float64 {
	v, _ := r.Value(keys...)
	return numeric.N(v)
}

// Has reports whether any of keys is a column of this row (blank or not).
func (r Row) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := r[k]; ok {
			return true
		}
	}
	return false
}

// Time parses the first non-blank cell among keys as a spreadsheet date.
func (r Row) Time(keys ...string) (time.Time, bool) {
	v, ok := r.Value(keys...)
	if !ok {
		return time.Time{}, false
	}
	return ParseTime(v)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return formatNumber(t)
	case int:
		return formatNumber(float64(t))
	case int64:
		return formatNumber(float64(t))
	case interface{ String() string }:
		return t.String()
	}
	return ""
}
