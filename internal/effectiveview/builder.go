package effectiveview

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/settlr/internal/aggregate"
	"github.com/smallbiznis/settlr/internal/clock"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/rowidentity"
	"github.com/smallbiznis/settlr/internal/rules"
	"go.uber.org/zap"
)

// Manifest lists what the effective view of a period is made of.
type Manifest struct {
	DatasetID         string          `json:"datasetId"`
	EffectiveUploadID string          `json:"effectiveUploadId"`
	JobIDs            []string        `json:"jobIds"`
	RowCount          int             `json:"rowCount"`
	UploadIDs         []string        `json:"uploadIds"`
	Rows              []ManifestEntry `json:"rows"`
	BuiltAt           time.Time       `json:"builtAt"`
}

type ManifestEntry struct {
	RowKey   string `json:"rowKey"`
	UploadID string `json:"uploadId"`
	RowHash  string `json:"rowHash"`
}

type BuildStats struct {
	RowCount    int `json:"rowCount"`
	JobCount    int `json:"jobCount"`
	UploadCount int `json:"uploadCount"`
}

type Builder struct {
	store Store
	clock clock.Clock
	log   *zap.Logger
}

func NewBuilder(store Store, c clock.Clock, log *zap.Logger) *Builder {
	if c == nil {
		c = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{store: store, clock: c, log: log.Named("effectiveview.builder")}
}

func (b *Builder) Store() Store { return b.store }

// WriteFacts stores a job's fact partition.
func (b *Builder) WriteFacts(ctx context.Context, p Partition, rows []rules.FactRow) error {
	records, err := EncodeRows(rows)
	if err != nil {
		return err
	}
	return b.store.WritePartition(ctx, p, KindFact, records)
}

// WriteAggregates stores a job's aggregate partition.
func (b *Builder) WriteAggregates(ctx context.Context, p Partition, rows []aggregate.Row) error {
	records, err := EncodeRows(rows)
	if err != nil {
		return err
	}
	return b.store.WritePartition(ctx, p, KindAgg, records)
}

// Build writes the period manifest from the dataset's row index.
func (b *Builder) Build(ctx context.Context, d *datasetdomain.Dataset, rows []datasetdomain.Row) (BuildStats, error) {
	if d == nil {
		return BuildStats{}, datasetdomain.ErrDatasetNotFound
	}

	seen := map[string]struct{}{}
	var uploads []string
	entries := make([]ManifestEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, ManifestEntry{RowKey: r.RowKey, UploadID: r.UploadID, RowHash: r.RowHash})
		if _, ok := seen[r.UploadID]; !ok {
			seen[r.UploadID] = struct{}{}
			uploads = append(uploads, r.UploadID)
		}
	}

	m := Manifest{
		DatasetID:         d.DatasetID,
		EffectiveUploadID: d.EffectiveUploadID,
		JobIDs:            d.JobIDs(),
		RowCount:          len(entries),
		UploadIDs:         uploads,
		Rows:              entries,
		BuiltAt:           b.clock.Now(),
	}
	if err := b.store.WriteManifest(ctx, d.Key(), m); err != nil {
		return BuildStats{}, fmt.Errorf("write manifest: %w", err)
	}

	stats := BuildStats{RowCount: m.RowCount, JobCount: len(m.JobIDs), UploadCount: len(uploads)}
	b.log.Info("effectiveview.built",
		zap.String("dataset_id", d.DatasetID),
		zap.Int("rows", stats.RowCount),
		zap.Int("jobs", stats.JobCount),
	)
	return stats, nil
}

// Facts returns the effective fact rows of key in row-index order. For each
// row key the last listed job whose row hash matches the index wins.
func (b *Builder) Facts(ctx context.Context, key datasetdomain.Key) ([]rules.FactRow, error) {
	m, err := b.store.ReadManifest(ctx, key)
	if err != nil || m == nil {
		return nil, err
	}
	return b.facts(ctx, key, m)
}

func (b *Builder) facts(ctx context.Context, key datasetdomain.Key, m *Manifest) ([]rules.FactRow, error) {
	want := make(map[string]string, len(m.Rows))
	for _, e := range m.Rows {
		want[e.RowKey] = e.RowHash
	}

	chosen := make(map[string]rules.FactRow, len(m.Rows))
	for _, jobID := range m.JobIDs {
		records, err := b.store.ReadPartition(ctx, Partition{Key: key, JobID: jobID}, KindFact)
		if err != nil {
			return nil, err
		}
		facts, err := DecodeRows[rules.FactRow](records)
		if err != nil {
			return nil, fmt.Errorf("decode partition %s: %w", jobID, err)
		}
		for _, f := range facts {
			if hash, ok := want[f.RowKey]; ok && hash == f.RowHash {
				chosen[f.RowKey] = f
			}
		}
	}

	out := make([]rules.FactRow, 0, len(chosen))
	missing := 0
	for _, e := range m.Rows {
		f, ok := chosen[e.RowKey]
		if !ok {
			missing++
			continue
		}
		out = append(out, f)
	}
	if missing > 0 {
		b.log.Warn("effectiveview.rows_missing",
			zap.String("dataset_id", m.DatasetID),
			zap.Int("missing", missing),
		)
	}
	return out, nil
}

// Aggregates re-rolls the effective facts.
func (b *Builder) Aggregates(ctx context.Context, key datasetdomain.Key) ([]aggregate.Row, error) {
	m, err := b.store.ReadManifest(ctx, key)
	if err != nil || m == nil {
		return nil, err
	}
	facts, err := b.facts(ctx, key, m)
	if err != nil || len(facts) == 0 {
		return nil, err
	}
	var jobID string
	if len(m.JobIDs) > 0 {
		jobID = m.JobIDs[len(m.JobIDs)-1]
	}
	p := aggregate.Provenance{
		Provenance: rowidentity.Provenance{
			Platform: key.Platform,
			TenantID: key.TenantID,
			JobID:    jobID,
		},
		Year:  key.Year,
		Month: key.Month,
	}
	p.UploadID = m.EffectiveUploadID
	return aggregate.Rollup(facts, p), nil
}
