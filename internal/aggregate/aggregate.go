// Package aggregate rolls fact rows up to one row per SKU and period.
package aggregate

import (
	"fmt"
	"math"

	"github.com/smallbiznis/settlr/internal/numeric"
	"github.com/smallbiznis/settlr/internal/rowidentity"
	"github.com/smallbiznis/settlr/internal/rules"
)

// Row is the SKU-month rollup.
type Row struct {
	Platform           string  `json:"platform"`
	TenantID           string  `json:"tenant_id"`
	UploadID           string  `json:"upload_id"`
	JobID              string  `json:"job_id"`
	Year               int     `json:"year"`
	Month              int     `json:"month"`
	InternalSKU        string  `json:"internal_sku"`
	QtySoldSum         float64 `json:"qty_sold_sum"`
	IncomeTotalSum     float64 `json:"income_total_sum"`
	FeePlatformCommSum float64 `json:"fee_platform_comm_sum"`
	FeeOtherSum        float64 `json:"fee_other_sum"`
	NetReceivedSum     float64 `json:"net_received_sum"`
	RecordCount        int     `json:"record_count"`
}

// Provenance scopes a rollup to one job and period.
type Provenance struct {
	rowidentity.Provenance
	Year  int
	Month int
}

// Rollup groups rows by internal SKU in first-seen order. Error rows are
// excluded; warn rows count because their numbers are the best estimate.
func Rollup(rows []rules.FactRow, p Provenance) []Row {
	index := map[string]int{}
	var out []Row
	for _, r := range rows {
		if r.ValidationStatus == rules.StatusError {
			continue
		}
		i, ok := index[r.InternalSKU]
		if !ok {
			platform := p.Platform
			if platform == "" {
				platform = r.Platform
			}
			out = append(out, Row{
				Platform:    platform,
				TenantID:    p.TenantID,
				UploadID:    p.UploadID,
				JobID:       p.JobID,
				Year:        p.Year,
				Month:       p.Month,
				InternalSKU: r.InternalSKU,
			})
			i = len(out) - 1
			index[r.InternalSKU] = i
		}
		a := &out[i]
		a.QtySoldSum += r.QtySold
		a.IncomeTotalSum += r.RecvCustomer + r.RecvPlatform + r.ExtraCharge
		a.FeePlatformCommSum += r.FeePlatformComm
		a.FeeOtherSum += r.FeeAffiliate + r.FeeOther
		a.NetReceivedSum += r.NetReceived
		a.RecordCount++
	}

	for i := range out {
		a := &out[i]
		a.QtySoldSum = numeric.Round2(a.QtySoldSum)
		a.IncomeTotalSum = numeric.Round2(a.IncomeTotalSum)
		a.FeePlatformCommSum = numeric.Round2(a.FeePlatformCommSum)
		a.FeeOtherSum = numeric.Round2(a.FeeOtherSum)
		a.NetReceivedSum = numeric.Round2(a.NetReceivedSum)
	}
	return out
}

// CheckClosure returns one warning per SKU whose income - commission - other
// differs from net by more than tolerance.
func CheckClosure(rows []Row, tolerance float64) []string {
	if tolerance < 0 {
		tolerance = rules.DefaultClosureTolerance
	}
	var warnings []string
	for _, a := range rows {
		expected := numeric.Round2(a.IncomeTotalSum - a.FeePlatformCommSum - a.FeeOtherSum)
		if math.Round(math.Abs(expected-a.NetReceivedSum)*100) > math.Round(tolerance*100) {
			warnings = append(warnings, fmt.Sprintf("aggregate %s: net_received_sum %.2f, expected %.2f", a.InternalSKU, a.NetReceivedSum, expected))
		}
	}
	return warnings
}

// Totals sums every rollup row into one, keyed by an empty SKU.
func Totals(rows []Row) Row {
	var t Row
	for _, a := range rows {
		t.QtySoldSum += a.QtySoldSum
		t.IncomeTotalSum += a.IncomeTotalSum
		t.FeePlatformCommSum += a.FeePlatformCommSum
		t.FeeOtherSum += a.FeeOtherSum
		t.NetReceivedSum += a.NetReceivedSum
		t.RecordCount += a.RecordCount
	}
	t.QtySoldSum = numeric.Round2(t.QtySoldSum)
	t.IncomeTotalSum = numeric.Round2(t.IncomeTotalSum)
	t.FeePlatformCommSum = numeric.Round2(t.FeePlatformCommSum)
	t.FeeOtherSum = numeric.Round2(t.FeeOtherSum)
	t.NetReceivedSum = numeric.Round2(t.NetReceivedSum)
	return t
}
