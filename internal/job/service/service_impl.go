package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/settlr/internal/clock"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	"github.com/smallbiznis/settlr/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  jobdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  jobdomain.Repository
	clock clock.Clock
}

func New(p Params) jobdomain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:    p.DB,
		log:   log.Named("job.service"),
		repo:  p.Repo,
		clock: c,
	}
}

// NewID returns "job-" + a time-ordered UUID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "job-" + uuid.NewString()
	}
	return "job-" + id.String()
}

func (s *Service) Create(ctx context.Context, req jobdomain.CreateRequest) (*jobdomain.Job, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Platform) == "" {
		return nil, jobdomain.ErrInvalidJob
	}
	mode, err := jobdomain.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	job := &jobdomain.Job{
		ID:        NewID(),
		TenantID:  req.TenantID,
		Platform:  req.Platform,
		Year:      req.Year,
		Month:     req.Month,
		UploadID:  req.UploadID,
		DatasetID: req.DatasetID,
		Mode:      mode,
		Status:    jobdomain.StatusPending,
		Message:   "queued",
		Metadata:  mergeMetadata(nil, req.Metadata),
		FileRefs:  datatypes.JSONSlice[jobdomain.FileRef](req.FileRefs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, job); err != nil {
		return nil, err
	}
	s.log.Info("job.created",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("platform", job.Platform),
		zap.Int("year", job.Year),
		zap.Int("month", job.Month),
		zap.String("mode", string(job.Mode)),
	)
	return job, nil
}

// Get returns nil, nil when the job does not exist.
func (s *Service) Get(ctx context.Context, id string) (*jobdomain.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, f jobdomain.Filter) ([]jobdomain.Job, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(f.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, jobdomain.ErrInvalidCursor
	}
	status := jobdomain.Status(strings.TrimSpace(f.Status))
	switch status {
	case "", jobdomain.StatusPending, jobdomain.StatusProcessing, jobdomain.StatusCompleted, jobdomain.StatusFailed:
	default:
		return nil, pagination.PageInfo{}, jobdomain.ErrInvalidStatus
	}

	size := f.Size()
	lf := jobdomain.ListFilter{
		TenantID: strings.TrimSpace(f.TenantID),
		Platform: strings.TrimSpace(f.Platform),
		Status:   status,
		Year:     f.Year,
		Month:    f.Month,
		Limit:    size + 1,
	}
	if cursor != nil {
		lf.After = cursor.ID
	}

	items, err := s.repo.List(ctx, s.db, lf)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	page, info := pagination.Trim(items, size, func(j jobdomain.Job) string { return j.ID })
	return page, info, nil
}

func (s *Service) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	_, err := s.mutate(ctx, id, func(j *jobdomain.Job) error {
		if j.Status.Terminal() {
			return jobdomain.ErrTerminalJob
		}
		j.Progress = clampProgress(progress)
		if message != "" {
			j.Message = message
		}
		return nil
	})
	return err
}

func (s *Service) MarkProcessing(ctx context.Context, id string) (*jobdomain.Job, error) {
	return s.transition(ctx, id, jobdomain.StatusProcessing, "processing", nil)
}

func (s *Service) Complete(ctx context.Context, id string, metadata map[string]any) (*jobdomain.Job, error) {
	return s.transition(ctx, id, jobdomain.StatusCompleted, "completed", metadata)
}

func (s *Service) Fail(ctx context.Context, id, message string, metadata map[string]any) (*jobdomain.Job, error) {
	meta := mergeMetadata(metadata, map[string]any{"error": message})
	return s.transition(ctx, id, jobdomain.StatusFailed, message, meta)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if job == nil {
		return jobdomain.ErrNotFound
	}
	if err := s.repo.Delete(ctx, s.db, id); err != nil {
		return err
	}
	s.log.Info("job.deleted", zap.String("job_id", id))
	return nil
}

func (s *Service) transition(ctx context.Context, id string, to jobdomain.Status, message string, metadata map[string]any) (*jobdomain.Job, error) {
	return s.mutate(ctx, id, func(j *jobdomain.Job) error {
		if !jobdomain.CanTransition(j.Status, to) {
			if j.Status.Terminal() {
				return jobdomain.ErrTerminalJob
			}
			return jobdomain.ErrInvalidStatus
		}
		j.Status = to
		j.Message = message
		j.Metadata = mergeMetadata(j.Metadata, metadata)
		if datasetID, ok := metadata["datasetId"].(string); ok && datasetID != "" {
			j.DatasetID = datasetID
		}
		if to.Terminal() {
			now := s.clock.Now()
			j.CompletedAt = &now
			if to == jobdomain.StatusCompleted {
				j.Progress = 100
			}
		}
		return nil
	})
}

// mutate re-reads the job inside a transaction before applying fn.
func (s *Service) mutate(ctx context.Context, id string, fn func(*jobdomain.Job) error) (*jobdomain.Job, error) {
	var out *jobdomain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return jobdomain.ErrNotFound
		}
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, job); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func mergeMetadata(existing, incoming map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
