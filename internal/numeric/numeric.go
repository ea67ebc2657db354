// Package numeric reproduces spreadsheet rounding and cell coercion.
//
// Amounts are carried as float64 everywhere; rounding goes through a decimal
// representation so that values like 1.005 round the way a spreadsheet shows
// them (1.01) rather than the way their binary approximation would.
package numeric

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Round rounds half away from zero to places decimals (ROUND).
func Round(x float64, places int32) float64 {
	if !finite(x) {
		return 0
	}
	d := decimal.NewFromFloat(x)
	// decimal.Round is half away from zero
	f, _ := d.Round(places).Float64()
	return f
}

// Round2 is Round(x, 2).
func Round2(x float64) float64 {
	return Round(x, 2)
}

// integralSnap is applied before ROUNDUP/ROUNDDOWN so that a ratio such as
// 0.3/0.1 (2.9999999999999996) is treated as the integer it displays as.
const integralSnap = 9

// CeilAway rounds to an integer away from zero (ROUNDUP(x, 0)).
func CeilAway(x float64) float64 {
	if !finite(x) || x == 0 {
		return 0
	}
	d := decimal.NewFromFloat(x).Round(integralSnap)
	var r decimal.Decimal
	if d.IsNegative() {
		r = d.Floor()
	} else {
		r = d.Ceil()
	}
	f, _ := r.Float64()
	return f
}

// FloorToward rounds to an integer toward zero (ROUNDDOWN(x, 0)).
func FloorToward(x float64) float64 {
	if !finite(x) || x == 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(x).Round(integralSnap).Truncate(0).Float64()
	return f
}

// Number coerces a spreadsheet cell. Strings keep only digits, '.' and '-'
// before parsing, so "¥1,234.50" and "1 234.5元" both parse. Anything that
// still fails yields def.
func Number(cell any, def float64) float64 {
	switch v := cell.(type) {
	case nil:
		return def
	case float64:
		if !finite(v) {
			return def
		}
		return v
	case float32:
		return Number(float64(v), def)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	case string:
		return parseString(v, def)
	case []byte:
		return parseString(string(v), def)
	default:
		return def
	}
}

// N is Number(cell, 0).
func N(cell any) float64 {
	return Number(cell, 0)
}

// Sum adds the coerced values of cells.
func Sum(cells ...any) float64 {
	total := 0.0
	for _, c := range cells {
		total += N(c)
	}
	return total
}

// Closure is I+J+K-L-M-N.
func Closure(recvCustomer, recvPlatform, extraCharge, feePlatformComm, feeAffiliate, feeOther float64) float64 {
	return recvCustomer + recvPlatform + extraCharge - feePlatformComm - feeAffiliate - feeOther
}

func parseString(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if !finite(f) {
			return def
		}
		return f
	}

	// Accounting negatives: (12.50) is -12.50.
	sign := 1.0
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		sign = -1
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	// Currency before the number (¥, $, RMB) and units after it (元, CNY).
	s = takeSign(s, &sign)
	s = strings.TrimLeftFunc(s, notNumberStart)
	s = takeSign(s, &sign)
	s = strings.TrimRightFunc(s, notNumberStart)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return def
	}
	return sign * f
}

func takeSign(s string, sign *float64) string {
	switch {
	case strings.HasPrefix(s, "-"):
		*sign = -*sign
		return s[1:]
	case strings.HasPrefix(s, "+"):
		return s[1:]
	}
	return s
}

func notNumberStart(r rune) bool {
	return r != '.' && (r < '0' || r > '9')
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
