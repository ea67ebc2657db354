package sheet

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/settlr/internal/numeric"
)

// excelEpochOffsetDays is the serial of 1970-01-01 in the 1900 date system.
const excelEpochOffsetDays = 25569

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-1-2 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006/1/2 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
	"2006年1月2日",
	time.RFC3339,
}

// FromExcelSerial converts a 1900-system serial date to UTC.
func FromExcelSerial(serial float64) time.Time {
	ms := int64(numeric.Round((serial-excelEpochOffsetDays)*86400000, 0))
	return time.UnixMilli(ms).UTC()
}

// ParseTime accepts serial numbers (numeric or numeric text) and the date
// layouts seen in platform exports.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case float64, float32, int, int64:
		serial := numeric.N(t)
		if serial <= 0 {
			return time.Time{}, false
		}
		return FromExcelSerial(serial), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			if serial <= 0 {
				return time.Time{}, false
			}
			return FromExcelSerial(serial), true
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Period returns (year, month) of v, or (0, 0) when v is not a date.
func Period(v any) (int, int) {
	t, ok := ParseTime(v)
	if !ok {
		return 0, 0
	}
	return t.Year(), int(t.Month())
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
