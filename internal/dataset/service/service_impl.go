package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/smallbiznis/settlr/internal/config"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/observability/metrics"
	dbpkg "github.com/smallbiznis/settlr/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKeyPrefix     = "dataset:"
	lockRetryInterval = 50 * time.Millisecond
	defaultLockTTL    = 30 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       datasetdomain.Repository
	Clock      clock.Clock                    `optional:"true"`
	Cfg        config.Config                  `optional:"true"`
	Locker     datasetdomain.Locker           `optional:"true"`
	Partitions datasetdomain.PartitionRemover `optional:"true"`
	Metrics    *metrics.Metrics               `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       datasetdomain.Repository
	clock      clock.Clock
	locker     datasetdomain.Locker
	lockTTL    time.Duration
	partitions datasetdomain.PartitionRemover
	metrics    *metrics.Metrics
}

func New(p Params) datasetdomain.Service {
	return NewService(p)
}

// NewService returns the concrete registry; tests use it directly.
func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	ttl := p.Cfg.Registry.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		db:         p.DB,
		log:        log.Named("dataset.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      c,
		locker:     p.Locker,
		lockTTL:    ttl,
		partitions: p.Partitions,
		metrics:    p.Metrics,
	}
}

func (s *Service) GetActive(ctx context.Context, key datasetdomain.Key) (*datasetdomain.Dataset, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.repo.FindActive(ctx, s.db, key)
}

func (s *Service) CreateOrReactivate(ctx context.Context, req datasetdomain.CreateRequest) (*datasetdomain.Dataset, error) {
	return s.upsert(ctx, req, false)
}

// Replace drops the previous row index and reactivates the dataset with
// only the incoming metadata.
func (s *Service) Replace(ctx context.Context, req datasetdomain.CreateRequest) (*datasetdomain.Dataset, error) {
	return s.upsert(ctx, req, true)
}

func (s *Service) upsert(ctx context.Context, req datasetdomain.CreateRequest, replace bool) (*datasetdomain.Dataset, error) {
	if err := validateKey(req.Key); err != nil {
		return nil, err
	}
	uploadID := strings.TrimSpace(req.UploadID)
	if uploadID == "" {
		return nil, datasetdomain.ErrInvalidUploadID
	}

	datasetID := datasetdomain.GenerateID(req.Key)
	var out *datasetdomain.Dataset
	err := s.withLock(ctx, datasetID, func() error {
		var err error
		out, err = s.upsertTx(ctx, req, datasetID, uploadID, replace)
		if err != nil && dbpkg.IsDuplicateKeyErr(err) {
			// Lost the insert race to another process; the re-read now sees
			// its record and reactivates it instead.
			s.log.Warn("dataset.create.raced", zap.String("dataset_id", datasetID))
			out, err = s.upsertTx(ctx, req, datasetID, uploadID, replace)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) upsertTx(ctx context.Context, req datasetdomain.CreateRequest, datasetID, uploadID string, replace bool) (*datasetdomain.Dataset, error) {
	var out *datasetdomain.Dataset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		records, err := s.repo.ListByDatasetID(ctx, tx, datasetID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		if len(records) == 0 {
			d := &datasetdomain.Dataset{
				ID:                s.genID.Generate(),
				DatasetID:         datasetID,
				TenantID:          req.Key.TenantID,
				Platform:          req.Key.Platform,
				Year:              req.Key.Year,
				Month:             req.Key.Month,
				Status:            datasetdomain.StatusActive,
				EffectiveUploadID: uploadID,
				Metadata:          datasetdomain.MergeMetadata(nil, req.Metadata),
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := s.repo.Insert(ctx, tx, d); err != nil {
				return err
			}
			s.log.Info("dataset.created", zap.String("dataset_id", datasetID), zap.String("upload_id", uploadID))
			out = d
			return nil
		}

		d, err := s.repairDuplicates(ctx, tx, records)
		if err != nil {
			return err
		}

		if replace {
			previous := d.JobIDs()
			by := jobIDFrom(req.Metadata)
			if _, err := s.repo.SupersedeAll(ctx, tx, datasetID, by, now); err != nil {
				return err
			}
			dropped, err := s.repo.DeleteRows(ctx, tx, datasetID)
			if err != nil {
				return err
			}
			d.Metadata = datasetdomain.MergeMetadata(nil, req.Metadata)
			if len(previous) > 0 {
				d.Metadata["previousJobIds"] = previous
			}
			s.log.Info("dataset.replaced",
				zap.String("dataset_id", datasetID),
				zap.String("by", by),
				zap.Int64("dropped_rows", dropped),
			)
		} else {
			d.Metadata = datasetdomain.MergeMetadata(d.Metadata, req.Metadata)
		}

		d.Status = datasetdomain.StatusActive
		d.EffectiveUploadID = uploadID
		d.SupersededAt = nil
		d.SupersededBy = nil
		d.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// repairDuplicates keeps the first record of a duplicated id and deletes
// the rest.
func (s *Service) repairDuplicates(ctx context.Context, tx *gorm.DB, records []datasetdomain.Dataset) (*datasetdomain.Dataset, error) {
	first := records[0]
	if len(records) == 1 {
		return &first, nil
	}
	extras := make([]snowflake.ID, 0, len(records)-1)
	for _, r := range records[1:] {
		extras = append(extras, r.ID)
	}
	if err := s.repo.DeleteByIDs(ctx, tx, extras); err != nil {
		return nil, err
	}
	s.log.Warn("dataset.repair.duplicates",
		zap.String("dataset_id", first.DatasetID),
		zap.Int("removed", len(extras)),
	)
	return &first, nil
}

func (s *Service) Supersede(ctx context.Context, datasetID, by string) (*datasetdomain.Dataset, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return nil, datasetdomain.ErrDatasetNotFound
	}
	var out *datasetdomain.Dataset
	err := s.withLock(ctx, datasetID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := s.repo.SupersedeAll(ctx, tx, datasetID, by, s.clock.Now())
			if err != nil {
				return err
			}
			if n == 0 {
				return datasetdomain.ErrDatasetNotFound
			}
			records, err := s.repo.ListByDatasetID(ctx, tx, datasetID)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				out = &records[0]
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UpdateMetadata(ctx context.Context, datasetID string, metadata map[string]any) (*datasetdomain.Dataset, error) {
	var out *datasetdomain.Dataset
	err := s.withLock(ctx, datasetID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			records, err := s.repo.ListByDatasetID(ctx, tx, datasetID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return datasetdomain.ErrDatasetNotFound
			}
			d := records[0]
			d.Metadata = datasetdomain.MergeMetadata(d.Metadata, metadata)
			d.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, tx, &d); err != nil {
				return err
			}
			out = &d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Merge classifies each pair against the dataset's row index. Re-running an
// identical batch yields only unchanged rows.
func (s *Service) Merge(ctx context.Context, datasetID, uploadID string, pairs []datasetdomain.KeyHash) (datasetdomain.MergeStats, error) {
	var stats datasetdomain.MergeStats
	err := s.withLock(ctx, datasetID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			records, err := s.repo.ListByDatasetID(ctx, tx, datasetID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return datasetdomain.ErrDatasetNotFound
			}

			existing, err := s.repo.ListRows(ctx, tx, datasetID)
			if err != nil {
				return err
			}
			index := make(map[string]string, len(existing))
			for _, r := range existing {
				index[r.RowKey] = r.RowHash
			}

			now := s.clock.Now()
			var inserts []datasetdomain.Row
			pending := map[string]int{}
			updates := map[string]*datasetdomain.Row{}
			var updateOrder []string

			for _, p := range pairs {
				hash, known := index[p.RowKey]
				switch {
				case !known:
					stats.Inserted++
					pending[p.RowKey] = len(inserts)
					inserts = append(inserts, datasetdomain.Row{
						DatasetID: datasetID,
						RowKey:    p.RowKey,
						UploadID:  uploadID,
						RowHash:   p.RowHash,
						CreatedAt: now,
						UpdatedAt: now,
					})
				case hash != p.RowHash:
					stats.Updated++
					if i, ok := pending[p.RowKey]; ok {
						inserts[i].RowHash = p.RowHash
						break
					}
					if _, ok := updates[p.RowKey]; !ok {
						updateOrder = append(updateOrder, p.RowKey)
					}
					updates[p.RowKey] = &datasetdomain.Row{
						DatasetID: datasetID,
						RowKey:    p.RowKey,
						UploadID:  uploadID,
						RowHash:   p.RowHash,
						UpdatedAt: now,
					}
				default:
					stats.Unchanged++
				}
				index[p.RowKey] = p.RowHash
			}

			if err := s.repo.InsertRows(ctx, tx, inserts); err != nil {
				return err
			}
			for _, key := range updateOrder {
				if err := s.repo.UpdateRow(ctx, tx, updates[key]); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return datasetdomain.MergeStats{}, err
	}

	s.log.Info("dataset.merged",
		zap.String("dataset_id", datasetID),
		zap.String("upload_id", uploadID),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
	)
	return stats, nil
}

// Clear soft-deletes the active dataset of key. A missing dataset is a
// not_found result and writes nothing.
func (s *Service) Clear(ctx context.Context, key datasetdomain.Key) (datasetdomain.ClearResult, error) {
	if err := validateKey(key); err != nil {
		return datasetdomain.ClearResult{}, err
	}
	active, err := s.repo.FindActive(ctx, s.db, key)
	if err != nil {
		return datasetdomain.ClearResult{}, err
	}
	if active == nil {
		s.metrics.RecordDatasetCleared(ctx, key.Platform, string(datasetdomain.ClearOutcomeNotFound))
		return datasetdomain.ClearResult{Outcome: datasetdomain.ClearOutcomeNotFound}, nil
	}

	result := datasetdomain.ClearResult{
		Outcome:   datasetdomain.ClearOutcomeCleared,
		DatasetID: active.DatasetID,
		JobIDs:    active.JobIDs(),
	}

	var dropped int64
	err = s.withLock(ctx, active.DatasetID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.repo.SupersedeAll(ctx, tx, active.DatasetID, datasetdomain.SupersededByClear, s.clock.Now()); err != nil {
				return err
			}
			n, err := s.repo.DeleteRows(ctx, tx, active.DatasetID)
			dropped = n
			return err
		})
	})
	if err != nil {
		return datasetdomain.ClearResult{}, err
	}

	if s.partitions != nil {
		if err := s.partitions.RemovePeriod(ctx, key); err != nil {
			s.log.Warn("dataset.clear.partitions_failed", zap.String("dataset_id", active.DatasetID), zap.Error(err))
		}
	}

	s.metrics.RecordDatasetCleared(ctx, key.Platform, string(datasetdomain.ClearOutcomeCleared))
	s.log.Info("dataset.cleared",
		zap.String("dataset_id", active.DatasetID),
		zap.String("tenant_id", key.TenantID),
		zap.String("platform", key.Platform),
		zap.Int("year", key.Year),
		zap.Int("month", key.Month),
		zap.Strings("job_ids", result.JobIDs),
		zap.Int64("dropped_rows", dropped),
	)
	return result, nil
}

func (s *Service) Rows(ctx context.Context, datasetID string) ([]datasetdomain.Row, error) {
	return s.repo.ListRows(ctx, s.db, datasetID)
}

func (s *Service) withLock(ctx context.Context, datasetID string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}

	key := lockKeyPrefix + datasetID
	deadline := time.Now().Add(s.lockTTL)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("dataset.lock.release_failed", zap.String("dataset_id", datasetID), zap.Error(err))
				}
			}()
			return fn()
		}
		if time.Now().After(deadline) {
			return datasetdomain.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func validateKey(key datasetdomain.Key) error {
	if strings.TrimSpace(key.TenantID) == "" || strings.TrimSpace(key.Platform) == "" {
		return datasetdomain.ErrInvalidKey
	}
	if key.Year <= 0 || key.Month < 1 || key.Month > 12 {
		return datasetdomain.ErrInvalidKey
	}
	return nil
}

func jobIDFrom(metadata map[string]any) string {
	if id, ok := metadata["jobId"].(string); ok && id != "" {
		return id
	}
	return "replace"
}

// IsNotFound reports whether err is the registry's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, datasetdomain.ErrDatasetNotFound)
}

var _ datasetdomain.Service = (*Service)(nil)
