package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/settlr/internal/blob"
	"github.com/smallbiznis/settlr/internal/clock"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	datasetrepo "github.com/smallbiznis/settlr/internal/dataset/repository"
	datasetservice "github.com/smallbiznis/settlr/internal/dataset/service"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	"github.com/smallbiznis/settlr/internal/intake"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	jobrepo "github.com/smallbiznis/settlr/internal/job/repository"
	jobservice "github.com/smallbiznis/settlr/internal/job/service"
	obsmetrics "github.com/smallbiznis/settlr/internal/observability/metrics"
	"github.com/smallbiznis/settlr/internal/queue"
	"github.com/smallbiznis/settlr/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const douyinCSV = "订单编号,商品编码,购买数量,买家支付金额,平台补贴,平台服务费,达人佣金,结算金额\n" +
	"D1,BAG-02,3,90,10,5,8,87\n" +
	"D2,HAT-1,1,20,0,0,0,20\n"

// D1 changes quantity and amounts, D2 is identical.
const douyinCSVRevised = "订单编号,商品编码,购买数量,买家支付金额,平台补贴,平台服务费,达人佣金,结算金额\n" +
	"D1,BAG-02,2,60,10,5,8,57\n" +
	"D2,HAT-1,1,20,0,0,0,20\n"

type harness struct {
	worker   *Worker
	intake   *intake.Service
	jobs     jobdomain.Service
	datasets datasetdomain.Service
	builder  *effectiveview.Builder
	queue    *queue.MemoryQueue
	blobs    *blob.LocalStore
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&jobdomain.Job{}, &datasetdomain.Dataset{}, &datasetdomain.Row{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := zaptest.NewLogger(t)
	fc := clock.NewFakeClock(time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	store := effectiveview.NewLocalStore(t.TempDir())
	builder := effectiveview.NewBuilder(store, fc, log)
	jobs := jobservice.New(jobservice.Params{DB: db, Log: log, Repo: jobrepo.Provide(), Clock: fc})
	datasets := datasetservice.New(datasetservice.Params{
		DB: db, Log: log, GenID: node, Repo: datasetrepo.Provide(), Clock: fc, Partitions: store,
	})
	q := queue.NewMemoryQueue(fc)
	blobs := blob.NewLocalStore(t.TempDir())
	registry := prometheus.NewRegistry()
	wm := obsmetrics.NewWorkerMetrics(registry, obsmetrics.Config{})

	w := NewWorker(Params{
		Log:      log,
		Queue:    q,
		Jobs:     jobs,
		Datasets: datasets,
		Builder:  builder,
		Engine:   rules.NewEngine(nil),
		Blobs:    blobs,
		Config:   Config{StagingDir: t.TempDir(), ReserveTimeout: 0, PollInterval: time.Millisecond},
		Clock:    fc,
		Worker:   wm,
	})
	w.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	in := intake.New(intake.Params{Log: log, Jobs: jobs, Queue: q, Blobs: blobs, Clock: fc})
	return &harness{worker: w, intake: in, jobs: jobs, datasets: datasets, builder: builder, queue: q, blobs: blobs, clock: fc, registry: registry}
}

func (h *harness) submit(t *testing.T, csv, mode string) *jobdomain.Job {
	t.Helper()
	ctx := context.Background()
	ref, err := h.intake.Upload(ctx, "t1", jobdomain.FileSettlement, "抖音结算.csv", strings.NewReader(csv))
	require.NoError(t, err)
	job, err := h.intake.Submit(ctx, intake.Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 4, Mode: mode, Files: []jobdomain.FileRef{ref}})
	require.NoError(t, err)
	return job
}

func (h *harness) reserve(t *testing.T) *queue.Message {
	t.Helper()
	msg, err := h.queue.Reserve(context.Background(), queue.ReserveOptions{Visibility: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

var period = datasetdomain.Key{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 4}

func TestHandleMessageCompletesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, douyinCSV, "")

	msg := h.reserve(t)
	require.NoError(t, h.worker.HandleMessage(ctx, msg))

	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, datasetdomain.GenerateID(period), got.DatasetID)
	assert.EqualValues(t, 2, got.Metadata["factCount"])
	assert.EqualValues(t, 2, got.Metadata["aggCount"])

	d, err := h.datasets.GetActive(ctx, period)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{job.ID}, d.JobIDs())
	assert.Equal(t, job.UploadID, d.EffectiveUploadID)

	facts, err := h.builder.Facts(ctx, period)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "D1", facts[0].OrderID)
	assert.Equal(t, 87.0, facts[0].NetReceived)

	assert.ErrorIs(t, h.queue.Ack(ctx, msg.ID), queue.ErrUnknownMessage, "message should already be acked")
	count, err := testutil.GatherAndCount(h.registry, "settlr_worker_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobMetadataKeepsEveryWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("订单编号,商品编码,购买数量,买家支付金额,平台补贴,平台服务费,达人佣金,结算金额\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "W%d,,1,10,0,0,0,10\n", i)
	}
	job := h.submit(t, b.String(), "")
	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))

	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobdomain.StatusCompleted, got.Status)
	count, ok := got.Metadata["warningCount"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, count, int64(60), "each row lacks a sku")
	warnings, ok := got.Metadata["warnings"].([]any)
	require.True(t, ok)
	assert.Len(t, warnings, int(count))
}

func TestMergeModeKeepsLatestRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.submit(t, douyinCSV, "merge")
	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))
	second := h.submit(t, douyinCSVRevised, "merge")
	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))

	got, err := h.jobs.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, jobdomain.StatusCompleted, got.Status)
	merge, ok := got.Metadata["merge"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, merge["updated"])
	assert.EqualValues(t, 1, merge["unchanged"])

	d, err := h.datasets.GetActive(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, d.JobIDs())

	facts, err := h.builder.Facts(ctx, period)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, 2.0, facts[0].QtySold)
	assert.Equal(t, second.ID, facts[0].JobID)

	aggs, err := h.builder.Aggregates(ctx, period)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, 57.0, aggs[0].NetReceivedSum)
}

func TestReplaceModeResetsJobIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.submit(t, douyinCSV, "merge")
	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))
	second := h.submit(t, douyinCSVRevised, "replace")
	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))

	d, err := h.datasets.GetActive(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, d.JobIDs())

	got, err := h.jobs.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{first.ID}, got.Metadata["previousJobIds"])
	merge := got.Metadata["merge"].(map[string]any)
	assert.EqualValues(t, 2, merge["inserted"])
}

func TestMissingJobIsDeadLettered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload, err := queue.Payload{JobID: "job-missing", Platform: "douyin"}.Encode()
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, payload, queue.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))

	dead := h.queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, ErrJobNotFound.Error(), dead[0].Error)
}

func TestInvalidPayloadIsDeadLettered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.queue.Enqueue(ctx, []byte(`not json`), queue.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))
	require.Len(t, h.queue.DeadLetters(), 1)
}

func TestTerminalJobIsAckedAndSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, douyinCSV, "")
	_, err := h.jobs.Fail(ctx, job.ID, "cancelled by operator", nil)
	require.NoError(t, err)

	msg := h.reserve(t)
	require.NoError(t, h.worker.HandleMessage(ctx, msg))

	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, got.Status)
	assert.Equal(t, "cancelled by operator", got.Message)
	assert.ErrorIs(t, h.queue.Ack(ctx, msg.ID), queue.ErrUnknownMessage)
}

func TestMissingInputFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, err := h.intake.Submit(ctx, intake.Request{
		TenantID: "t1", Platform: "douyin", Year: 2025, Month: 4,
		Files: []jobdomain.FileRef{{Kind: jobdomain.FileSettlement, ObjectKey: "uploads/t1/nowhere.csv"}},
	})
	require.NoError(t, err)

	msg := h.reserve(t)
	require.NoError(t, h.worker.HandleMessage(ctx, msg))

	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "input file not found")
	assert.NotEmpty(t, got.Metadata["error"])
	assert.ErrorIs(t, h.queue.Ack(ctx, msg.ID), queue.ErrUnknownMessage)

	d, err := h.datasets.GetActive(ctx, period)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestUnsupportedFormatFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref, err := h.intake.Upload(ctx, "t1", jobdomain.FileSettlement, "export.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	job, err := h.intake.Submit(ctx, intake.Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 4, Files: []jobdomain.FileRef{ref}})
	require.NoError(t, err)

	require.NoError(t, h.worker.HandleMessage(ctx, h.reserve(t)))
	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "unsupported_file_format")
}

func TestCrashBeforeAckIsRedelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, douyinCSV, "")

	// First consumer marks the job processing and dies without acking.
	first := h.reserve(t)
	_, err := h.jobs.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	again := h.reserve(t)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.ReceiveCount)

	require.NoError(t, h.worker.HandleMessage(ctx, again))
	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusCompleted, got.Status)

	// A duplicate delivery of a finished job changes nothing.
	rows, err := h.datasets.Rows(ctx, datasetdomain.GenerateID(period))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunForeverStopsAfterMaxJobs(t *testing.T) {
	h := newHarness(t)
	h.worker.cfg.MaxJobs = 1
	job := h.submit(t, douyinCSV, "")

	done := make(chan struct{})
	go func() {
		h.worker.RunForever(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusCompleted, got.Status)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.RunForever(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5, cfg.LookupAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.LookupBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Visibility)
}
