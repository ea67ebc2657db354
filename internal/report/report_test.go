package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/settlr/internal/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlySummaryRendersPDF(t *testing.T) {
	doc, err := NewGenerator().MonthlySummary(context.Background(), Summary{
		TenantID:  "t1",
		Platform:  "xiaohongshu",
		Year:      2025,
		Month:     1,
		DatasetID: "dataset-1a2b3c4d",
		JobIDs:    []string{"job-1"},
		Rows: []aggregate.Row{
			{InternalSKU: "BAG-01", QtySoldSum: 2, IncomeTotalSum: 230, FeePlatformCommSum: -5, NetReceivedSum: 235, RecordCount: 1},
			{InternalSKU: "", QtySoldSum: 1, IncomeTotalSum: 10, NetReceivedSum: 10, RecordCount: 1},
		},
		Warnings:    []string{"aggregate BAG-01: net_received_sum 235.00, expected 235.00"},
		GeneratedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestMonthlySummaryEmpty(t *testing.T) {
	doc, err := NewGenerator().MonthlySummary(context.Background(), Summary{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, doc)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "3", formatQty(3))
	assert.Equal(t, "1.50", formatQty(1.5))
	assert.Equal(t, "-12.30", money(-12.3))
	assert.Equal(t, "(unmatched)", skuLabel(""))
}
