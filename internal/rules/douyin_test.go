package rules

import (
	"testing"

	"github.com/smallbiznis/settlr/internal/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDouyinMapsColumnsAsIs(t *testing.T) {
	res, err := Transform(PlatformDouyin, Input{
		Settlement: []sheet.Row{
			{
				"订单编号":   "D1",
				"商品编码":   "BAG-02",
				"购买数量":   3,
				"买家支付金额": 90,
				"平台补贴":   10,
				"平台服务费":  5,
				"达人佣金":   8,
				"结算金额":   87,
			},
			{
				"Order ID":          "D2",
				"SKU":               "HAT-1",
				"Financial Code":    "FIN-HAT",
				"Purchase Quantity": 1,
				"Buyer Payment":     20,
				"Settlement Amount": 20,
			},
		},
		Year:  2025,
		Month: 4,
	}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	first := res.Rows[0]
	assert.Nil(t, first.LineCount)
	assert.Nil(t, first.LineNo)
	assert.Equal(t, "BAG-02", first.FinCode)
	assert.Equal(t, 3.0, first.QtySold)
	assert.Equal(t, 87.0, first.NetReceived)
	assert.Equal(t, StatusOK, first.ValidationStatus)

	second := res.Rows[1]
	assert.Equal(t, "D2", second.OrderID)
	assert.Equal(t, "FIN-HAT", second.FinCode)
	assert.Equal(t, StatusOK, second.ValidationStatus)
}

func TestDouyinClosureMismatchIsKeptAsWarning(t *testing.T) {
	res, err := Transform(PlatformDouyin, Input{
		Settlement: []sheet.Row{{"订单编号": "D1", "商品编码": "A-1", "买家支付金额": 100, "结算金额": 90}},
		Year:       2025,
		Month:      4,
	}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusWarn, res.Rows[0].ValidationStatus)
	assert.Equal(t, 90.0, res.Rows[0].NetReceived)
	require.Len(t, res.Rows[0].ValidationWarnings, 1)
	assert.Contains(t, res.Rows[0].ValidationWarnings[0], "net_received mismatch")
}
