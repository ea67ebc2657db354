package rules

import (
	"math"

	"github.com/smallbiznis/settlr/internal/numeric"
	"github.com/smallbiznis/settlr/internal/sheet"
)

// Settlement export columns.
const (
	xhsOrderID          = "订单号"
	xhsSpecID           = "规格ID"
	xhsSettleTime       = "结算时间"
	xhsAmount           = "商品实付/实退"
	xhsSellerDiscount   = "商家优惠"
	xhsPlatformDiscount = "平台优惠补贴"
	xhsPlatformFreight  = "平台运费补贴"
	xhsFreight          = "运费"
	xhsCommission       = "佣金总额"
	xhsAffiliate        = "分销佣金"
)

// Order export columns.
const (
	xhsOrderSKU        = "商家编码"
	xhsOrderTotal      = "商品总价(元)"
	xhsOrderQuantity   = "SKU件数"
	qtyRoundUpBoundary = 0.15
)

var xhsNumericColumns = []string{
	xhsAmount, xhsSellerDiscount, xhsPlatformDiscount, xhsPlatformFreight,
	xhsFreight, xhsCommission, xhsAffiliate,
}

type xhsOrderCounts struct {
	lines            int
	positiveFreights int
}

func transformXiaohongshu(t *transformer, rows []sourceRow) {
	orders := make(map[string]sheet.Row, len(t.in.Orders))
	for _, o := range t.in.Orders {
		orderID := o.String(xhsOrderID)
		if orderID == "" {
			continue
		}
		key := orderID + "_" + o.String(xhsSpecID)
		if _, seen := orders[key]; !seen {
			orders[key] = o
		}
	}

	counts := map[string]*xhsOrderCounts{}
	for _, src := range rows {
		orderID := src.row.String(xhsOrderID)
		if orderID == "" {
			continue
		}
		c, ok := counts[orderID]
		if !ok {
			c = &xhsOrderCounts{}
			counts[orderID] = c
		}
		c.lines++
		if src.row.Number(xhsFreight) > 0 {
			c.positiveFreights++
		}
	}

	lineNos := map[string]int{}
	for _, src := range rows {
		orderID := src.row.String(xhsOrderID)
		if orderID == "" {
			t.warnf(src.line, "skipped row without %s", xhsOrderID)
			continue
		}
		lineNos[orderID]++
		lineNo := lineNos[orderID]
		c := counts[orderID]
		order, matched := orders[orderID+"_"+src.row.String(xhsSpecID)]

		year, month := 0, 0
		if v, ok := src.row.Value(xhsSettleTime); ok {
			year, month = sheet.Period(v)
		}
		if year != 0 && (year != t.in.Year || month != t.in.Month) {
			t.warnf(src.line, "order %s settled in %04d-%02d, outside job period %04d-%02d", orderID, year, month, t.in.Year, t.in.Month)
			continue
		}

		base := FactRow{
			Year:      year,
			Month:     month,
			OrderID:   orderID,
			LineCount: intPtr(c.lines),
			LineNo:    intPtr(lineNo),
		}
		if matched {
			base.InternalSKU = order.String(xhsOrderSKU)
		}
		base.FinCode = FinCode(base.InternalSKU)

		if !matched {
			// still computed; the empty SKU surfaces through validation
			t.warnf(src.line, "order %s spec %s not found in order export", orderID, src.row.String(xhsSpecID))
		}

		row, err := compute(func() (FactRow, error) {
			if err := cellError(src.row, xhsNumericColumns...); err != nil {
				return base, err
			}
			r := base
			r.QtySold = xhsQuantity(src.row, order, matched)
			r.RecvCustomer = numeric.Round2(src.row.Number(xhsAmount))
			r.RecvPlatform = numeric.Round2(src.row.Number(xhsPlatformDiscount) + src.row.Number(xhsPlatformFreight))
			r.ExtraCharge = numeric.Round2(xhsFreightShare(src.row.Number(xhsFreight), c.positiveFreights))
			r.FeePlatformComm = numeric.Round2(-src.row.Number(xhsCommission))
			r.FeeAffiliate = numeric.Round2(-src.row.Number(xhsAffiliate))
			r.FeeOther = 0
			r.NetReceived = numeric.Round2(numeric.Closure(r.RecvCustomer, r.RecvPlatform, r.ExtraCharge, r.FeePlatformComm, r.FeeAffiliate, r.FeeOther))
			return r, nil
		})
		if err != nil {
			t.emitError(base, src, err)
			continue
		}
		t.emit(row, src)
	}
}

// xhsQuantity infers units from the settled amount: partial refunds below
// 15% of a unit round toward zero, anything larger rounds away from zero.
func xhsQuantity(settle, order sheet.Row, matched bool) float64 {
	if !matched {
		return 0
	}
	total := order.Number(xhsOrderTotal)
	units := order.Number(xhsOrderQuantity)
	if total == 0 || units == 0 {
		return 0
	}
	numerator := settle.Number(xhsAmount) + settle.Number(xhsSellerDiscount) + settle.Number(xhsPlatformDiscount)
	return QuantityFromRatio(numerator / (total / units))
}

// QuantityFromRatio applies the strict > 0.15 boundary.
func QuantityFromRatio(ratio float64) float64 {
	if math.Abs(ratio) > qtyRoundUpBoundary {
		return numeric.CeilAway(ratio)
	}
	return numeric.FloorToward(ratio)
}

// xhsFreightShare spreads positive freight across the order's positive-freight lines.
func xhsFreightShare(freight float64, positiveLines int) float64 {
	if freight <= 0 {
		return freight
	}
	if positiveLines < 1 {
		positiveLines = 1
	}
	return freight / float64(positiveLines)
}
