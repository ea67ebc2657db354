// Package rowidentity derives the logical key and content hash of a fact row.
package rowidentity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/smallbiznis/settlr/internal/rules"
)

// Provenance is stamped on every row produced by one job.
type Provenance struct {
	Platform string
	TenantID string
	UploadID string
	JobID    string
}

// Key identifies the same logical fact across uploads.
func Key(platform, orderID, sku string, lineNo *int) string {
	parts := []string{platform, orderID, sku}
	if lineNo != nil {
		parts = append(parts, strconv.Itoa(*lineNo))
	}
	return strings.Join(parts, ":")
}

// mutableFields lists the hashed columns in sorted name order.
func mutableFields(r rules.FactRow) []float64 {
	return []float64{
		r.ExtraCharge,
		r.FeeAffiliate,
		r.FeeOther,
		r.FeePlatformComm,
		r.NetReceived,
		r.QtySold,
		r.RecvCustomer,
		r.RecvPlatform,
	}
}

// Hash changes only when quantity or a monetary column changes.
func Hash(r rules.FactRow) string {
	payload, _ := json.Marshal(mutableFields(r))
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Stamp fills provenance, row key and row hash in place.
func Stamp(rows []rules.FactRow, p Provenance) {
	for i := range rows {
		r := &rows[i]
		if p.Platform != "" {
			r.Platform = p.Platform
		}
		r.TenantID = p.TenantID
		r.UploadID = p.UploadID
		r.JobID = p.JobID
		r.RowKey = Key(r.Platform, r.OrderID, r.InternalSKU, r.LineNo)
		r.RowHash = Hash(*r)
	}
}
