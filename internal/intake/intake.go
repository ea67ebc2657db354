// Package intake validates reconciliation requests, records the job and
// hands it to the queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/settlr/internal/blob"
	"github.com/smallbiznis/settlr/internal/clock"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	obsmetrics "github.com/smallbiznis/settlr/internal/observability/metrics"
	"github.com/smallbiznis/settlr/internal/queue"
	"github.com/smallbiznis/settlr/internal/ratelimit"
	"github.com/smallbiznis/settlr/internal/rules"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidPlatform   = errors.New("invalid_platform")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidMode       = errors.New("invalid_mode")
	ErrMissingSettlement = errors.New("missing_settlement_file")
	ErrMissingOrders     = errors.New("missing_orders_file")
	ErrRateLimited       = errors.New("rate_limited")
	ErrEnqueueFailed     = errors.New("enqueue_failed")
)

type Request struct {
	TenantID string
	Platform string
	Year     int
	Month    int
	Mode     string
	UploadID string
	Files    []jobdomain.FileRef
	// RequestedBy is recorded in job metadata.
	RequestedBy string
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Jobs    jobdomain.Service
	Queue   queue.Queue
	Blobs   blob.Writer              `optional:"true"`
	Limiter *ratelimit.SubmitLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics      `optional:"true"`
	Clock   clock.Clock              `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	jobs    jobdomain.Service
	queue   queue.Queue
	blobs   blob.Writer
	limiter *ratelimit.SubmitLimiter
	metrics *obsmetrics.Metrics
	clock   clock.Clock
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		log:     p.Log.Named("intake.service"),
		jobs:    p.Jobs,
		queue:   p.Queue,
		blobs:   p.Blobs,
		limiter: p.Limiter,
		metrics: p.Metrics,
		clock:   c,
	}
}

var Module = fx.Module("intake",
	fx.Provide(New),
)

// Submit creates a pending job and enqueues it. The job exists before the
// message so a worker never sees an unknown id for long.
func (s *Service) Submit(ctx context.Context, req Request) (*jobdomain.Job, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	platform, err := rules.ParsePlatform(req.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlatform, strings.TrimSpace(req.Platform))
	}
	if req.Year < 2000 || req.Year > 2100 || req.Month < 1 || req.Month > 12 {
		return nil, ErrInvalidPeriod
	}
	mode, err := jobdomain.ParseMode(strings.TrimSpace(req.Mode))
	if err != nil {
		return nil, ErrInvalidMode
	}

	files := normalizeFiles(req.Files)
	if !hasKind(files, jobdomain.FileSettlement) {
		return nil, ErrMissingSettlement
	}
	if platform.RequiresOrders() && !hasKind(files, jobdomain.FileOrders) {
		return nil, ErrMissingOrders
	}

	if err := s.allow(ctx, tenantID); err != nil {
		return nil, err
	}

	uploadID := strings.TrimSpace(req.UploadID)
	if uploadID == "" {
		uploadID = "upload-" + uuid.NewString()
	}

	meta := map[string]any{
		"uploadId":    uploadID,
		"requestedAt": s.clock.Now().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if by := strings.TrimSpace(req.RequestedBy); by != "" {
		meta["requestedBy"] = by
	}

	job, err := s.jobs.Create(ctx, jobdomain.CreateRequest{
		TenantID: tenantID,
		Platform: platform.String(),
		Year:     req.Year,
		Month:    req.Month,
		UploadID: uploadID,
		Mode:     mode,
		FileRefs: files,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	payload, err := queue.Payload{
		JobID:    job.ID,
		Platform: job.Platform,
		TenantID: job.TenantID,
		Year:     job.Year,
		Month:    job.Month,
		Mode:     string(job.Mode),
		FileRefs: files,
	}.Encode()
	if err == nil {
		_, err = s.queue.Enqueue(ctx, payload, queue.EnqueueOptions{})
	}
	if err != nil {
		s.log.Error("intake.enqueue.failed", zap.String("job_id", job.ID), zap.Error(err))
		if _, failErr := s.jobs.Fail(ctx, job.ID, "enqueue failed: "+err.Error(), nil); failErr != nil {
			s.log.Warn("intake.job.fail_error", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	s.metrics.RecordJobSubmitted(ctx, job.Platform, string(job.Mode))
	s.log.Info("intake.job.submitted",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("platform", job.Platform),
		zap.Int("year", job.Year),
		zap.Int("month", job.Month),
		zap.String("mode", string(job.Mode)),
	)
	return job, nil
}

// Upload stores an export under a tenant-scoped key and returns its reference.
func (s *Service) Upload(ctx context.Context, tenantID string, kind jobdomain.FileKind, fileName string, r io.Reader) (jobdomain.FileRef, error) {
	if s.blobs == nil {
		return jobdomain.FileRef{}, errors.New("blob_writer_not_configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return jobdomain.FileRef{}, ErrInvalidTenant
	}
	key := path.Join("uploads", blob.StagedName(tenantID), uuid.NewString(), blob.StagedName(fileName))
	if err := s.blobs.Put(ctx, key, r); err != nil {
		return jobdomain.FileRef{}, err
	}
	return jobdomain.FileRef{Kind: kind, ObjectKey: key, FileName: fileName}, nil
}

func (s *Service) allow(ctx context.Context, tenantID string) error {
	if !s.limiter.Enabled() {
		return nil
	}
	res, err := s.limiter.AllowTenant(ctx, tenantID)
	if err != nil {
		s.log.Warn("intake.rate_limit.error", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter.Round(time.Second))
	}
	return nil
}

func normalizeFiles(in []jobdomain.FileRef) []jobdomain.FileRef {
	out := make([]jobdomain.FileRef, 0, len(in))
	for _, f := range in {
		f.ObjectKey = strings.TrimSpace(f.ObjectKey)
		if f.ObjectKey == "" {
			continue
		}
		if f.Kind == "" {
			f.Kind = jobdomain.FileSettlement
		}
		out = append(out, f)
	}
	return out
}

func hasKind(files []jobdomain.FileRef, kind jobdomain.FileKind) bool {
	for _, f := range files {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
