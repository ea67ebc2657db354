package effectiveview

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/settlr/internal/aggregate"
	"github.com/smallbiznis/settlr/internal/clock"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/rowidentity"
	"github.com/smallbiznis/settlr/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var key = datasetdomain.Key{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 3}

func facts(jobID string, rows ...rules.FactRow) []rules.FactRow {
	out := append([]rules.FactRow(nil), rows...)
	rowidentity.Stamp(out, rowidentity.Provenance{Platform: key.Platform, TenantID: key.TenantID, UploadID: "up-" + jobID, JobID: jobID})
	return out
}

func dataset(jobIDs ...string) *datasetdomain.Dataset {
	return &datasetdomain.Dataset{
		DatasetID:         datasetdomain.GenerateID(key),
		TenantID:          key.TenantID,
		Platform:          key.Platform,
		Year:              key.Year,
		Month:             key.Month,
		EffectiveUploadID: "up-" + jobIDs[len(jobIDs)-1],
		Metadata:          map[string]any{"jobIds": jobIDs},
	}
}

func index(rows []rules.FactRow) []datasetdomain.Row {
	var out []datasetdomain.Row
	for _, r := range rows {
		out = append(out, datasetdomain.Row{RowKey: r.RowKey, RowHash: r.RowHash, UploadID: r.UploadID})
	}
	return out
}

func TestPartitionRoundTripAndLayout(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	b := NewBuilder(store, clock.NewFakeClock(time.Now()), zaptest.NewLogger(t))
	ctx := context.Background()

	rows := facts("job-1", rules.FactRow{OrderID: "D1", InternalSKU: "A-1", QtySold: 1, RecvCustomer: 10, NetReceived: 10})
	p := Partition{Key: key, JobID: "job-1"}
	require.NoError(t, b.WriteFacts(ctx, p, rows))

	path := filepath.Join(root, "fact_effective", "tenant_id=t1", "platform=douyin", "year=2025", "month=3", "job_id=job-1", "fact.columnar")
	assert.Equal(t, path, store.PartitionPath(p, KindFact))
	_, err := os.Stat(path)
	require.NoError(t, err)

	records, err := store.ReadPartition(ctx, p, KindFact)
	require.NoError(t, err)
	got, err := DecodeRows[rules.FactRow](records)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	missing, err := store.ReadPartition(ctx, Partition{Key: key, JobID: "job-x"}, KindFact)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.ReadPartition(ctx, p, KindAgg)
	require.NoError(t, err)
	assert.Error(t, store.WritePartition(ctx, Partition{Key: key}, KindFact, nil))
}

func TestFactsPicksHashMatchingRowsAcrossJobs(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	b := NewBuilder(store, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	job1 := facts("job-1",
		rules.FactRow{OrderID: "D1", InternalSKU: "A-1", QtySold: 1, RecvCustomer: 10, NetReceived: 10},
		rules.FactRow{OrderID: "D2", InternalSKU: "B-1", QtySold: 1, RecvCustomer: 20, NetReceived: 20},
	)
	job2 := facts("job-2",
		rules.FactRow{OrderID: "D2", InternalSKU: "B-1", QtySold: 1, RecvCustomer: 15, NetReceived: 15},
		rules.FactRow{OrderID: "D3", InternalSKU: "A-1", QtySold: 2, RecvCustomer: 30, NetReceived: 30},
	)
	require.NoError(t, b.WriteFacts(ctx, Partition{Key: key, JobID: "job-1"}, job1))
	require.NoError(t, b.WriteFacts(ctx, Partition{Key: key, JobID: "job-2"}, job2))

	// index after merging job-1 then job-2
	idx := index([]rules.FactRow{job1[0], job2[0], job2[1]})
	stats, err := b.Build(ctx, dataset("job-1", "job-2"), idx)
	require.NoError(t, err)
	assert.Equal(t, BuildStats{RowCount: 3, JobCount: 2, UploadCount: 2}, stats)

	got, err := b.Facts(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "D1", got[0].OrderID)
	assert.Equal(t, 15.0, got[1].RecvCustomer)
	assert.Equal(t, "job-2", got[1].JobID)
	assert.Equal(t, "D3", got[2].OrderID)

	aggs, err := b.Aggregates(ctx, key)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "A-1", aggs[0].InternalSKU)
	assert.Equal(t, 3.0, aggs[0].QtySoldSum)
	assert.Equal(t, 40.0, aggs[0].NetReceivedSum)
	assert.Equal(t, "job-2", aggs[0].JobID)
	assert.Equal(t, 15.0, aggs[1].NetReceivedSum)
}

func TestRemovePeriod(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	b := NewBuilder(store, nil, nil)
	ctx := context.Background()

	rows := facts("job-1", rules.FactRow{OrderID: "D1", InternalSKU: "A-1", NetReceived: 1, RecvCustomer: 1})
	require.NoError(t, b.WriteFacts(ctx, Partition{Key: key, JobID: "job-1"}, rows))
	require.NoError(t, b.WriteAggregates(ctx, Partition{Key: key, JobID: "job-1"}, aggregate.Rollup(rows, aggregate.Provenance{})))
	_, err := b.Build(ctx, dataset("job-1"), index(rows))
	require.NoError(t, err)

	require.NoError(t, store.RemovePeriod(ctx, key))

	m, err := store.ReadManifest(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, m)
	got, err := b.Facts(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)
	records, err := store.ReadPartition(ctx, Partition{Key: key, JobID: "job-1"}, KindAgg)
	require.NoError(t, err)
	assert.Nil(t, records)
}
