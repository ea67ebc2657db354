package rules

import (
	"github.com/smallbiznis/settlr/internal/numeric"
	"github.com/smallbiznis/settlr/internal/sheet"
)

// Column letters follow the reconciliation workbook the formulas came from.
const (
	wxvOrderID        = "订单号"
	wxvBI             = "商品价格"
	wxvBK             = "商品实际价格(总共)"
	wxvBN             = "商品平台券优惠"
	wxvBT             = "商品已退款金额"
	wxvBM             = "商品数量"
	wxvAI             = "订单运费"
	wxvAS             = "技术服务费"
	wxvAT             = "技术服务费（将以人气卡形式返还）"
	wxvAU             = "运费险预计投保费用"
	wxvBA             = "带货费用"
	wxvProductPromo   = "商品优惠"
	wxvCrossShopPromo = "跨店优惠"
	wxvPriceChange    = "商品改价"
	wxvPoints         = "积分抵扣"
)

var wxvSKUColumns = []string{
	"SKU编码(自定义)",
	"商品编码(自定义)",
	"商品编码(平台)",
	"平台商品编码",
	"商品编码",
}

var wxvNumericColumns = []string{
	wxvBI, wxvBK, wxvBN, wxvBT, wxvBM, wxvAI, wxvAS, wxvAT, wxvAU, wxvBA,
	wxvProductPromo, wxvCrossShopPromo, wxvPriceChange, wxvPoints,
}

func transformWechatVideo(t *transformer, rows []sourceRow) {
	lineCounts := map[string]int{}
	for _, src := range rows {
		lineCounts[src.row.String(wxvOrderID)]++
	}

	lineNos := map[string]int{}
	for _, src := range rows {
		orderID := src.row.String(wxvOrderID)
		lineNos[orderID]++
		sku := src.row.String(wxvSKUColumns...)

		base := FactRow{
			Year:        t.in.Year,
			Month:       t.in.Month,
			OrderID:     orderID,
			LineCount:   intPtr(lineCounts[orderID]),
			LineNo:      intPtr(lineNos[orderID]),
			InternalSKU: sku,
			FinCode:     FinCode(sku),
		}

		row, err := compute(func() (FactRow, error) {
			if err := cellError(src.row, wxvNumericColumns...); err != nil {
				return base, err
			}
			return wechatVideoAmounts(base, src.row), nil
		})
		if err != nil {
			t.emitError(base, src, err)
			continue
		}
		t.emit(row, src)
	}
}

// wechatVideoAmounts fills the monetary fields. Order-level fees and freight
// are carried only by line 1 of a multi-line order.
func wechatVideoAmounts(r FactRow, raw sheet.Row) FactRow {
	bi := raw.Number(wxvBI)
	bk := raw.Number(wxvBK)
	bn := raw.Number(wxvBN)
	bt := raw.Number(wxvBT)
	bm := raw.Number(wxvBM)
	promos := raw.Number(wxvProductPromo) + raw.Number(wxvCrossShopPromo) + raw.Number(wxvPriceChange) + raw.Number(wxvPoints)
	first := r.LineNoOrZero() == 1

	if bi != 0 {
		r.QtySold = numeric.CeilAway((bk + bn - bt) / bi)
	}
	if r.QtySold != 0 {
		r.RecvCustomer = numeric.Round2(bi*bm - bt)
	}
	if r.QtySold > 0 && first {
		r.RecvPlatform = numeric.Round2(promos)
	} else {
		r.RecvPlatform = numeric.Round2(-promos)
	}
	if first {
		r.ExtraCharge = numeric.Round2(raw.Number(wxvAI))
		r.FeePlatformComm = numeric.Round2(raw.Number(wxvAS) + raw.Number(wxvAT))
		r.FeeAffiliate = numeric.Round2(raw.Number(wxvBA))
		r.FeeOther = numeric.Round2(raw.Number(wxvAU))
	}
	r.NetReceived = numeric.Round2(numeric.Closure(r.RecvCustomer, r.RecvPlatform, r.ExtraCharge, r.FeePlatformComm, r.FeeAffiliate, r.FeeOther))
	return r
}
