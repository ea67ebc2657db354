// Package report renders monthly settlement summaries as PDF.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/settlr/internal/aggregate"
)

const maxWarnings = 20

// Summary is everything printed on a monthly report.
type Summary struct {
	TenantID    string
	Platform    string
	Year        int
	Month       int
	DatasetID   string
	JobIDs      []string
	Rows        []aggregate.Row
	Warnings    []string
	GeneratedAt time.Time
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

var (
	headerText = props.Text{Style: fontstyle.Bold, Size: 8}
	headerNum  = props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}
	cellText   = props.Text{Size: 8}
	cellNum    = props.Text{Size: 8, Align: align.Right}
)

// MonthlySummary renders s with one table row per SKU and a totals row.
func (g *Generator) MonthlySummary(_ context.Context, s Summary) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Monthly settlement summary", props.Text{Size: 18, Style: fontstyle.Bold}),
	)
	m.AddRow(22,
		col.New(6).Add(
			text.New("Tenant: "+s.TenantID, props.Text{Top: 0}),
			text.New("Platform: "+s.Platform, props.Text{Top: 5}),
			text.New(fmt.Sprintf("Period: %04d-%02d", s.Year, s.Month), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Dataset: "+s.DatasetID, props.Text{Top: 0, Align: align.Right}),
			text.New(fmt.Sprintf("Jobs: %d", len(s.JobIDs)), props.Text{Top: 5, Align: align.Right}),
			text.New("Generated: "+s.GeneratedAt.UTC().Format(time.RFC3339), props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(8,
		text.NewCol(2, "SKU", headerText),
		text.NewCol(1, "Qty", headerNum),
		text.NewCol(2, "Income", headerNum),
		text.NewCol(2, "Commission", headerNum),
		text.NewCol(2, "Other", headerNum),
		text.NewCol(2, "Net", headerNum),
		text.NewCol(1, "Rows", headerNum),
	)
	for _, r := range s.Rows {
		m.AddRow(7, tableRow(skuLabel(r.InternalSKU), r, cellText, cellNum)...)
	}
	m.AddRow(8, tableRow("Total", aggregate.Totals(s.Rows), headerText, headerNum)...)

	if len(s.Warnings) > 0 {
		m.AddRow(10, text.NewCol(12, fmt.Sprintf("Warnings (%d)", len(s.Warnings)), props.Text{Style: fontstyle.Bold, Top: 4}))
		for i, w := range s.Warnings {
			if i == maxWarnings {
				m.AddRow(6, text.NewCol(12, fmt.Sprintf("... %d more", len(s.Warnings)-maxWarnings), cellText))
				break
			}
			m.AddRow(6, text.NewCol(12, w, cellText))
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func tableRow(label string, r aggregate.Row, labelProps, numProps props.Text) []core.Col {
	return []core.Col{
		text.NewCol(2, label, labelProps),
		text.NewCol(1, formatQty(r.QtySoldSum), numProps),
		text.NewCol(2, money(r.IncomeTotalSum), numProps),
		text.NewCol(2, money(r.FeePlatformCommSum), numProps),
		text.NewCol(2, money(r.FeeOtherSum), numProps),
		text.NewCol(2, money(r.NetReceivedSum), numProps),
		text.NewCol(1, fmt.Sprintf("%d", r.RecordCount), numProps),
	}
}

func skuLabel(sku string) string {
	if sku == "" {
		return "(unmatched)"
	}
	return sku
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatQty(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
