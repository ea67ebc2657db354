package rules

var (
	dyOrderID         = []string{"订单编号", "订单号", "Order ID", "Order Number"}
	dySKU             = []string{"商品编码", "商家编码", "Product Code", "SKU"}
	dyQuantity        = []string{"购买数量", "数量", "Purchase Quantity", "Qty"}
	dyRecvCustomer    = []string{"买家支付金额", "应收买家", "Buyer Payment"}
	dyRecvPlatform    = []string{"平台补贴", "应收平台", "Platform Subsidy"}
	dyExtraCharge     = []string{"附加费用", "价外收费", "Additional Fee"}
	dyFeePlatformComm = []string{"平台服务费", "平台佣金", "Platform Service Fee"}
	dyFeeAffiliate    = []string{"达人佣金", "分销佣金", "KOL Commission"}
	dyFeeOther        = []string{"其他费用", "Other Fee"}
	dyNetReceived     = []string{"结算金额", "Settlement Amount"}
	dyFinCode         = []string{"财务编码", "Financial Code", "Fin Code"}
)

// transformDouyin maps the single settlement export column-for-column.
// Douyin has no multi-line orders so line_count and line_no stay nil.
func transformDouyin(t *transformer, rows []sourceRow) {
	var numericColumns []string
	for _, group := range [][]string{dyQuantity, dyRecvCustomer, dyRecvPlatform, dyExtraCharge, dyFeePlatformComm, dyFeeAffiliate, dyFeeOther, dyNetReceived} {
		numericColumns = append(numericColumns, group...)
	}

	for _, src := range rows {
		raw := src.row
		sku := raw.String(dySKU...)
		fin := raw.String(dyFinCode...)
		if fin == "" {
			fin = sku
		}
		base := FactRow{
			Year:        t.in.Year,
			Month:       t.in.Month,
			OrderID:     raw.String(dyOrderID...),
			InternalSKU: sku,
			FinCode:     fin,
		}

		row, err := compute(func() (FactRow, error) {
			if err := cellError(raw, numericColumns...); err != nil {
				return base, err
			}
			r := base
			r.QtySold = raw.Number(dyQuantity...)
			r.RecvCustomer = raw.Number(dyRecvCustomer...)
			r.RecvPlatform = raw.Number(dyRecvPlatform...)
			r.ExtraCharge = raw.Number(dyExtraCharge...)
			r.FeePlatformComm = raw.Number(dyFeePlatformComm...)
			r.FeeAffiliate = raw.Number(dyFeeAffiliate...)
			r.FeeOther = raw.Number(dyFeeOther...)
			r.NetReceived = raw.Number(dyNetReceived...)
			return r, nil
		})
		if err != nil {
			t.emitError(base, src, err)
			continue
		}
		t.emit(row, src)
	}
}
