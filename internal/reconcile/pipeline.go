package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallbiznis/settlr/internal/aggregate"
	"github.com/smallbiznis/settlr/internal/blob"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	obsmetrics "github.com/smallbiznis/settlr/internal/observability/metrics"
	"github.com/smallbiznis/settlr/internal/observability/tracing"
	"github.com/smallbiznis/settlr/internal/rowidentity"
	"github.com/smallbiznis/settlr/internal/rules"
	"github.com/smallbiznis/settlr/internal/sheet"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// inputs are the staged local copies of a job's files.
type inputs struct {
	settlement     []sheet.Row
	orders         []sheet.Row
	settlementName string
}

// run executes the pipeline and returns the metadata to store on the job.
// Partial metadata is returned alongside an error.
func (w *Worker) run(ctx context.Context, job *jobdomain.Job) (map[string]any, error) {
	meta := map[string]any{"uploadId": job.UploadID}

	platform, err := rules.ParsePlatform(job.Platform)
	if err != nil {
		return meta, err
	}
	key := datasetdomain.Key{TenantID: job.TenantID, Platform: platform.String(), Year: job.Year, Month: job.Month}
	w.progress(ctx, job.ID, 10, "validated")
	w.progress(ctx, job.ID, 20, "started")

	var in inputs
	err = w.stage(ctx, obsmetrics.StageFetch, func(ctx context.Context) error {
		var err error
		in, err = w.fetch(ctx, job, platform)
		return err
	})
	if err != nil {
		return meta, err
	}

	w.progress(ctx, job.ID, 40, "parsing")
	var res rules.Result
	err = w.stage(ctx, obsmetrics.StageTransform, func(context.Context) error {
		var err error
		res, err = w.engine.Transform(platform, rules.Input{
			Settlement: in.settlement,
			Orders:     in.orders,
			Year:       job.Year,
			Month:      job.Month,
			SourceFile: in.settlementName,
		})
		return err
	})
	if err != nil {
		return meta, err
	}

	prov := rowidentity.Provenance{Platform: platform.String(), TenantID: job.TenantID, UploadID: job.UploadID, JobID: job.ID}
	rowidentity.Stamp(res.Rows, prov)
	aggs := aggregate.Rollup(res.Rows, aggregate.Provenance{Provenance: prov, Year: job.Year, Month: job.Month})
	closure := aggregate.CheckClosure(aggs, w.engine.Options().ClosureTolerance)

	counts := res.Counts()
	for status, n := range counts {
		w.wm.AddFactRows(platform.String(), string(status), n)
		w.metrics.RecordFactRows(ctx, platform.String(), string(status), n)
	}
	w.metrics.RecordClosureWarnings(ctx, platform.String(), len(closure))

	warnings := append(append([]string(nil), res.Warnings...), closure...)
	meta["factCount"] = len(res.Rows)
	meta["aggCount"] = len(aggs)
	meta["skipped"] = res.Skipped
	meta["okCount"] = counts[rules.StatusOK]
	meta["warnCount"] = counts[rules.StatusWarn]
	meta["errorCount"] = counts[rules.StatusError]
	meta["warningCount"] = len(warnings)
	if len(warnings) > 0 {
		meta["warnings"] = warnings
	}
	w.progress(ctx, job.ID, 60, fmt.Sprintf("parsed %d rows", len(res.Rows)))

	w.progress(ctx, job.ID, 70, "writing partitions")
	part := effectiveview.Partition{Key: key, JobID: job.ID}
	err = w.stage(ctx, obsmetrics.StagePartition, func(ctx context.Context) error {
		if err := w.builder.WriteFacts(ctx, part, res.Rows); err != nil {
			return fmt.Errorf("write facts: %w", err)
		}
		if err := w.builder.WriteAggregates(ctx, part, aggs); err != nil {
			return fmt.Errorf("write aggregates: %w", err)
		}
		return nil
	})
	if err != nil {
		return meta, err
	}
	w.progress(ctx, job.ID, 85, "partitions written")

	w.progress(ctx, job.ID, 90, "merging dataset")
	var d *datasetdomain.Dataset
	err = w.stage(ctx, obsmetrics.StageMerge, func(ctx context.Context) error {
		var err error
		d, err = w.register(ctx, job, key, res.Rows, meta)
		return err
	})
	if err != nil {
		return meta, err
	}
	meta["datasetId"] = d.DatasetID

	w.progress(ctx, job.ID, 95, "building effective view")
	err = w.stage(ctx, obsmetrics.StageEffective, func(ctx context.Context) error {
		rows, err := w.datasets.Rows(ctx, d.DatasetID)
		if err != nil {
			return err
		}
		stats, err := w.builder.Build(ctx, d, rows)
		if err != nil {
			return err
		}
		meta["effectiveRowCount"] = stats.RowCount
		return nil
	})
	if err != nil {
		// The row index is already committed; the view can be rebuilt later.
		w.log.Warn("worker.effective.build_failed", zap.String("job_id", job.ID), zap.Error(err))
		meta["effectiveBuildError"] = err.Error()
	}

	meta["summary"] = fmt.Sprintf("completed: %d fact rows, %d aggregate rows", len(res.Rows), len(aggs))
	return meta, nil
}

func (w *Worker) fetch(ctx context.Context, job *jobdomain.Job, platform rules.Platform) (inputs, error) {
	w.progress(ctx, job.ID, 25, "fetching files")
	var in inputs

	dir, err := os.MkdirTemp(w.cfg.StagingDir, job.ID+"-")
	if err != nil {
		return in, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ref, ok := job.File(jobdomain.FileSettlement)
	if !ok {
		return in, rules.ErrEmptyFile
	}
	in.settlementName = ref.FileName
	if in.settlementName == "" {
		in.settlementName = filepath.Base(ref.ObjectKey)
	}
	in.settlement, err = w.readRef(ctx, dir, ref)
	if err != nil {
		return in, fmt.Errorf("settlement: %w", err)
	}
	w.progress(ctx, job.ID, 30, "settlement fetched")

	if ref, ok := job.File(jobdomain.FileOrders); ok {
		in.orders, err = w.readRef(ctx, dir, ref)
		if err != nil {
			return in, fmt.Errorf("orders: %w", err)
		}
	} else if platform.RequiresOrders() {
		return in, rules.ErrMissingOrdersFile
	}
	w.progress(ctx, job.ID, 35, "orders fetched")
	return in, nil
}

func (w *Worker) readRef(ctx context.Context, dir string, ref jobdomain.FileRef) ([]sheet.Row, error) {
	sub, err := os.MkdirTemp(dir, string(ref.Kind)+"-")
	if err != nil {
		return nil, err
	}
	local, err := blob.Stage(ctx, w.blobs, sub, ref.ObjectKey, ref.FileName)
	if err != nil {
		return nil, err
	}
	return sheet.ReadFile(local)
}

// register points the period's dataset at this job and merges the row index.
func (w *Worker) register(ctx context.Context, job *jobdomain.Job, key datasetdomain.Key, rows []rules.FactRow, meta map[string]any) (*datasetdomain.Dataset, error) {
	var previous []string
	active, err := w.datasets.GetActive(ctx, key)
	if err != nil {
		return nil, err
	}
	if active != nil {
		previous = active.JobIDs()
	}

	req := datasetdomain.CreateRequest{
		Key:      key,
		UploadID: job.UploadID,
		Metadata: map[string]any{"jobId": job.ID, "uploadId": job.UploadID},
	}
	var d *datasetdomain.Dataset
	if job.Mode == jobdomain.ModeReplace {
		req.Metadata["jobIds"] = []string{job.ID}
		d, err = w.datasets.Replace(ctx, req)
	} else {
		req.Metadata["jobIds"] = append(previous, job.ID)
		d, err = w.datasets.CreateOrReactivate(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	pairs := make([]datasetdomain.KeyHash, 0, len(rows))
	for _, r := range rows {
		pairs = append(pairs, datasetdomain.KeyHash{RowKey: r.RowKey, RowHash: r.RowHash})
	}
	stats, err := w.datasets.Merge(ctx, d.DatasetID, job.UploadID, pairs)
	if err != nil {
		return nil, err
	}

	platform := key.Platform
	for outcome, n := range map[string]int{"inserted": stats.Inserted, "updated": stats.Updated, "unchanged": stats.Unchanged} {
		w.wm.AddMergeRows(platform, outcome, n)
		w.metrics.RecordMergeOutcome(ctx, platform, outcome, n)
	}
	meta["merge"] = map[string]any{"inserted": stats.Inserted, "updated": stats.Updated, "unchanged": stats.Unchanged}
	if len(previous) > 0 {
		meta["previousJobIds"] = previous
	}
	return d, nil
}

// stage times fn and wraps it in a span.
func (w *Worker) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "reconcile."+name, attribute.String("stage", name))
	start := time.Now()
	err := fn(ctx)
	w.wm.ObserveStage(name, time.Since(start))
	tracing.EndSpan(span, err)
	return err
}

func (w *Worker) progress(ctx context.Context, jobID string, pct int, message string) {
	if err := w.jobs.UpdateProgress(ctx, jobID, pct, message); err != nil {
		w.log.Warn("worker.progress.error", zap.String("job_id", jobID), zap.Int("progress", pct), zap.Error(err))
	}
}
