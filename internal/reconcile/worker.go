// Package reconcile runs queued jobs through the transform, partition and
// dataset merge pipeline.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/settlr/internal/blob"
	"github.com/smallbiznis/settlr/internal/clock"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	obscontext "github.com/smallbiznis/settlr/internal/observability/context"
	obslogger "github.com/smallbiznis/settlr/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlr/internal/observability/metrics"
	"github.com/smallbiznis/settlr/internal/observability/tracing"
	"github.com/smallbiznis/settlr/internal/queue"
	"github.com/smallbiznis/settlr/internal/rules"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tracerName = "settlr.reconcile"

var (
	ErrInvalidPayload = errors.New("invalid_queue_payload")
	ErrJobNotFound    = errors.New("job_not_found")
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Queue    queue.Queue
	Jobs     jobdomain.Service
	Datasets datasetdomain.Service
	Builder  *effectiveview.Builder
	Engine   *rules.Engine
	Blobs    blob.Store
	Config   Config                    `optional:"true"`
	Clock    clock.Clock               `optional:"true"`
	Worker   *obsmetrics.WorkerMetrics `optional:"true"`
	Metrics  *obsmetrics.Metrics       `optional:"true"`
}

type Worker struct {
	log      *zap.Logger
	queue    queue.Queue
	jobs     jobdomain.Service
	datasets datasetdomain.Service
	builder  *effectiveview.Builder
	engine   *rules.Engine
	blobs    blob.Store
	cfg      Config
	clock    clock.Clock
	wm       *obsmetrics.WorkerMetrics
	metrics  *obsmetrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(p Params) *Worker {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Worker{
		log:      p.Log.Named("reconcile.worker"),
		queue:    p.Queue,
		jobs:     p.Jobs,
		datasets: p.Datasets,
		builder:  p.Builder,
		engine:   p.Engine,
		blobs:    p.Blobs,
		cfg:      p.Config.withDefaults(),
		clock:    c,
		wm:       p.Worker,
		metrics:  p.Metrics,
		sleep:    sleepCtx,
	}
}

// RunForever reserves and handles messages one at a time until ctx ends or
// MaxJobs messages were handled.
func (w *Worker) RunForever(ctx context.Context) {
	w.log.Info("worker.start",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("visibility", w.cfg.Visibility),
		zap.Int("max_jobs", w.cfg.MaxJobs),
	)
	handled := 0
	for ctx.Err() == nil {
		if w.cfg.MaxJobs > 0 && handled >= w.cfg.MaxJobs {
			w.log.Info("worker.max_jobs.reached", zap.Int("handled", handled))
			return
		}

		msg, err := w.queue.Reserve(ctx, queue.ReserveOptions{
			Timeout:    w.cfg.ReserveTimeout,
			Visibility: w.cfg.Visibility,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.wm.IncReserveError()
			w.log.Warn("worker.reserve.error", zap.Error(err))
			_ = w.sleep(ctx, w.cfg.PollInterval*3)
			continue
		}
		if msg == nil {
			w.wm.IncReserveEmpty()
			w.observeDepth(ctx)
			_ = w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		if err := w.HandleMessage(ctx, msg); err != nil {
			w.log.Warn("worker.message.error", zap.String("message_id", msg.ID), zap.Error(err))
		}
		handled++
	}
	w.log.Info("worker.stop", zap.Int("handled", handled))
}

// HandleMessage processes one reservation. A message whose job cannot be
// found is dead-lettered; every other outcome is acknowledged once the job
// reached a terminal state. A returned error leaves the message to be
// redelivered after its visibility timeout.
func (w *Worker) HandleMessage(ctx context.Context, msg *queue.Message) error {
	payload, err := queue.DecodePayload(msg.Payload)
	if err != nil || payload.JobID == "" {
		w.log.Error("worker.payload.invalid", zap.String("message_id", msg.ID), zap.Error(err))
		w.wm.IncJob(payload.Platform, obsmetrics.JobOutcomeDeadLetter)
		return w.queue.Fail(ctx, msg.ID, ErrInvalidPayload)
	}

	log := w.log.With(zap.String("message_id", msg.ID), zap.String("job_id", payload.JobID), zap.Int("receive_count", msg.ReceiveCount))

	job, err := w.lookupJob(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Error("worker.job.missing")
		w.wm.IncJob(payload.Platform, obsmetrics.JobOutcomeDeadLetter)
		return w.queue.Fail(ctx, msg.ID, ErrJobNotFound)
	}
	if job.Status.Terminal() {
		log.Info("worker.job.skip", zap.String("status", string(job.Status)))
		w.wm.IncJob(job.Platform, obsmetrics.JobOutcomeSkipped)
		return w.ack(ctx, msg)
	}

	if err := w.process(ctx, job, log); err != nil {
		return err
	}
	return w.ack(ctx, msg)
}

// lookupJob retries briefly: the record may lag the message on replicas.
func (w *Worker) lookupJob(ctx context.Context, id string) (*jobdomain.Job, error) {
	var lastErr error
	for i := 0; i < w.cfg.LookupAttempts; i++ {
		job, err := w.jobs.Get(ctx, id)
		if err == nil && job != nil {
			return job, nil
		}
		lastErr = err
		if i == w.cfg.LookupAttempts-1 {
			break
		}
		if err := w.sleep(ctx, w.cfg.LookupBackoff<<i); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// process drives job to completed or failed. It only returns an error when
// the job could not be moved to a terminal state.
func (w *Worker) process(ctx context.Context, job *jobdomain.Job, log *zap.Logger) error {
	started := w.clock.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "reconcile.job",
		attribute.String("job.id", job.ID),
		attribute.String("job.platform", job.Platform),
		attribute.String("job.mode", string(job.Mode)),
		attribute.Int("job.year", job.Year),
		attribute.Int("job.month", job.Month),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()
	// Store queries issued below pick these up through the gorm logger.
	ctx = obscontext.WithJobID(obscontext.WithTenantID(ctx, job.TenantID), job.ID)
	log = log.With(obslogger.TraceFields(ctx)...)

	log.Info("worker.job.start", zap.String("platform", job.Platform), zap.String("tenant_id", job.TenantID))

	if _, err := w.jobs.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, jobdomain.ErrTerminalJob) {
			w.wm.IncJob(job.Platform, obsmetrics.JobOutcomeSkipped)
			return nil
		}
		spanErr = err
		return err
	}

	meta, err := w.run(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Shutting down: leave the job processing so the redelivery resumes it.
		spanErr = err
		return err
	}

	outcome := obsmetrics.JobOutcomeCompleted
	if err != nil {
		outcome = obsmetrics.JobOutcomeFailed
		spanErr = err
		w.wm.IncJobError(job.Platform, err)
		if _, ferr := w.jobs.Fail(ctx, job.ID, failureMessage(err), meta); ferr != nil {
			return errors.Join(err, ferr)
		}
		log.Error("worker.job.failed", zap.Error(err))
	} else if _, cerr := w.jobs.Complete(ctx, job.ID, meta); cerr != nil {
		spanErr = cerr
		return cerr
	}

	elapsed := w.clock.Now().Sub(started)
	w.wm.IncJob(job.Platform, outcome)
	w.wm.ObserveJobDuration(job.Platform, elapsed)
	log.Info("worker.job.finish", zap.String("outcome", outcome), zap.Duration("duration", elapsed))
	return nil
}

func (w *Worker) ack(ctx context.Context, msg *queue.Message) error {
	if err := w.queue.Ack(ctx, msg.ID); err != nil && !errors.Is(err, queue.ErrUnknownMessage) {
		return err
	}
	return nil
}

func (w *Worker) observeDepth(ctx context.Context) {
	if w.wm == nil {
		return
	}
	if n, err := w.queue.Size(ctx); err == nil {
		w.wm.SetQueueDepth(n)
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, rules.ErrEmptyFile):
		return "settlement file has no data rows"
	case errors.Is(err, rules.ErrMissingOrdersFile):
		return "orders file is required for this platform"
	case errors.Is(err, blob.ErrObjectNotFound):
		return "input file not found: " + err.Error()
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
