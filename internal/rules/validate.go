package rules

import (
	"fmt"
	"math"

	"github.com/smallbiznis/settlr/internal/numeric"
)

// DefaultClosureTolerance is the allowed gap between net_received and its components.
const DefaultClosureTolerance = 0.02

// Validate checks required fields and the closure identity. It never rejects
// a row; callers downgrade the row to warn when warnings are returned.
func Validate(r FactRow, tolerance float64) []string {
	var warnings []string
	if r.Year == 0 || r.Month == 0 {
		warnings = append(warnings, "missing required field: year/month")
	}
	if r.OrderID == "" {
		warnings = append(warnings, "missing required field: order_id")
	}
	if r.InternalSKU == "" {
		warnings = append(warnings, "missing required field: internal_sku")
	}
	if r.FinCode == "" {
		warnings = append(warnings, "missing required field: fin_code")
	}
	if w := CheckClosure(r, tolerance); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

// CheckClosure compares rounded net_received with rounded I+J+K-L-M-N.
func CheckClosure(r FactRow, tolerance float64) string {
	if tolerance < 0 {
		tolerance = DefaultClosureTolerance
	}
	expected := numeric.Round2(numeric.Closure(r.RecvCustomer, r.RecvPlatform, r.ExtraCharge, r.FeePlatformComm, r.FeeAffiliate, r.FeeOther))
	actual := numeric.Round2(r.NetReceived)
	// compare in cents so 0.02 itself is inside tolerance
	if math.Round(math.Abs(expected-actual)*100) > math.Round(tolerance*100) {
		return fmt.Sprintf("net_received mismatch: expected %.2f, got %.2f", expected, actual)
	}
	return ""
}

// FinCode is the style code: the SKU text before its first '-'.
func FinCode(sku string) string {
	for i := 0; i < len(sku); i++ {
		if sku[i] == '-' {
			return sku[:i]
		}
	}
	return sku
}
