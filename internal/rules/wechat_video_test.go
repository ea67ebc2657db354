package rules

import (
	"testing"

	"github.com/smallbiznis/settlr/internal/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWechatVideoFirstLineCarriesOrderFees(t *testing.T) {
	lines := []sheet.Row{
		{
			wxvOrderID:      "W1",
			"SKU编码(自定义)":    "TEE-RED-M",
			wxvBI:           50,
			wxvBK:           100,
			wxvBN:           0,
			wxvBT:           0,
			wxvBM:           2,
			wxvAI:           8,
			wxvAS:           3,
			wxvAT:           1,
			wxvAU:           0.5,
			wxvBA:           4,
			wxvProductPromo: 5,
		},
		{
			wxvOrderID:      "W1",
			"商品编码(平台)":      "CAP-01",
			wxvBI:           30,
			wxvBK:           30,
			wxvBM:           1,
			wxvAI:           8,
			wxvAS:           3,
			wxvBA:           4,
			wxvProductPromo: 2,
		},
	}

	res, err := Transform(PlatformWechatVideo, Input{Settlement: lines, Year: 2025, Month: 3}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	first, second := res.Rows[0], res.Rows[1]
	assert.Equal(t, 2025, first.Year)
	assert.Equal(t, 3, first.Month)
	assert.Equal(t, "TEE", first.FinCode)
	assert.Equal(t, 2, *first.LineCount)
	assert.Equal(t, 1, *first.LineNo)
	assert.Equal(t, 2.0, first.QtySold)
	assert.Equal(t, 100.0, first.RecvCustomer)
	assert.Equal(t, 5.0, first.RecvPlatform)
	assert.Equal(t, 8.0, first.ExtraCharge)
	assert.Equal(t, 4.0, first.FeePlatformComm)
	assert.Equal(t, 4.0, first.FeeAffiliate)
	assert.Equal(t, 0.5, first.FeeOther)
	assert.Equal(t, 104.5, first.NetReceived)
	assert.Equal(t, StatusOK, first.ValidationStatus)

	assert.Equal(t, "CAP-01", second.InternalSKU)
	assert.Equal(t, 2, *second.LineNo)
	assert.Equal(t, 1.0, second.QtySold)
	assert.Equal(t, 30.0, second.RecvCustomer)
	assert.Equal(t, -2.0, second.RecvPlatform)
	assert.Zero(t, second.ExtraCharge)
	assert.Zero(t, second.FeePlatformComm)
	assert.Zero(t, second.FeeAffiliate)
	assert.Zero(t, second.FeeOther)
	assert.Equal(t, 28.0, second.NetReceived)
}

func TestWechatVideoZeroUnitPrice(t *testing.T) {
	res, err := Transform(PlatformWechatVideo, Input{
		Settlement: []sheet.Row{{wxvOrderID: "W2", "商品编码": "X-1", wxvBI: 0, wxvBK: 10, wxvBM: 1}},
		Year:       2025,
		Month:      3,
	}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Zero(t, res.Rows[0].QtySold)
	assert.Zero(t, res.Rows[0].RecvCustomer)
}

func TestWechatVideoQuantityRoundsUp(t *testing.T) {
	res, err := Transform(PlatformWechatVideo, Input{
		Settlement: []sheet.Row{{wxvOrderID: "W3", "商品编码": "X-1", wxvBI: 30, wxvBK: 31, wxvBM: 1}},
		Year:       2025,
		Month:      3,
	}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Rows[0].QtySold)
}
