package report

import (
	"context"

	"github.com/smallbiznis/settlr/internal/aggregate"
	"github.com/smallbiznis/settlr/internal/clock"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	"github.com/smallbiznis/settlr/internal/rules"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Datasets datasetdomain.Service
	Builder  *effectiveview.Builder
	Engine   *rules.Engine `optional:"true"`
	Clock    clock.Clock   `optional:"true"`
}

// Service assembles a Summary from the effective view of a period.
type Service struct {
	log      *zap.Logger
	datasets datasetdomain.Service
	builder  *effectiveview.Builder
	engine   *rules.Engine
	clock    clock.Clock
	gen      *Generator
}

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		log:      p.Log.Named("report.service"),
		datasets: p.Datasets,
		builder:  p.Builder,
		engine:   p.Engine,
		clock:    c,
		gen:      NewGenerator(),
	}
}

var Module = fx.Module("report",
	fx.Provide(NewService),
)

// Summary returns ErrDatasetNotFound when the period has no active dataset.
func (s *Service) Summary(ctx context.Context, key datasetdomain.Key) (Summary, error) {
	d, err := s.datasets.GetActive(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	if d == nil {
		return Summary{}, datasetdomain.ErrDatasetNotFound
	}
	rows, err := s.builder.Aggregates(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		TenantID:    key.TenantID,
		Platform:    key.Platform,
		Year:        key.Year,
		Month:       key.Month,
		DatasetID:   d.DatasetID,
		JobIDs:      d.JobIDs(),
		Rows:        rows,
		Warnings:    aggregate.CheckClosure(rows, s.engine.Options().ClosureTolerance),
		GeneratedAt: s.clock.Now(),
	}, nil
}

// MonthlyPDF renders the period summary.
func (s *Service) MonthlyPDF(ctx context.Context, key datasetdomain.Key) ([]byte, error) {
	sum, err := s.Summary(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, err := s.gen.MonthlySummary(ctx, sum)
	if err != nil {
		return nil, err
	}
	s.log.Info("report.generated",
		zap.String("dataset_id", sum.DatasetID),
		zap.Int("skus", len(sum.Rows)),
		zap.Int("bytes", len(doc)),
	)
	return doc, nil
}
