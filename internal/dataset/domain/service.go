package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	GetActive(ctx context.Context, key Key) (*Dataset, error)
	CreateOrReactivate(ctx context.Context, req CreateRequest) (*Dataset, error)
	Replace(ctx context.Context, req CreateRequest) (*Dataset, error)
	Supersede(ctx context.Context, datasetID, by string) (*Dataset, error)
	UpdateMetadata(ctx context.Context, datasetID string, metadata map[string]any) (*Dataset, error)
	Merge(ctx context.Context, datasetID, uploadID string, pairs []KeyHash) (MergeStats, error)
	Clear(ctx context.Context, key Key) (ClearResult, error)
	Rows(ctx context.Context, datasetID string) ([]Row, error)
}

type CreateRequest struct {
	Key      Key
	UploadID string
	Metadata map[string]any
}

type MergeStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

func (s MergeStats) Total() int { return s.Inserted + s.Updated + s.Unchanged }

type ClearOutcome string

const (
	ClearOutcomeCleared  ClearOutcome = "cleared"
	ClearOutcomeNotFound ClearOutcome = "not_found"
)

type ClearResult struct {
	Outcome   ClearOutcome `json:"status"`
	DatasetID string       `json:"dataset_id,omitempty"`
	JobIDs    []string     `json:"job_ids,omitempty"`
}

// PartitionRemover deletes the durable effective view of a period.
type PartitionRemover interface {
	RemovePeriod(ctx context.Context, key Key) error
}

// Locker serializes registry mutations across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// SupersededByClear marks datasets superseded through Clear.
const SupersededByClear = "manual-clear"

var (
	ErrDatasetNotFound = errors.New("dataset_not_found")
	ErrInvalidKey      = errors.New("invalid_dataset_key")
	ErrInvalidUploadID = errors.New("invalid_upload_id")
	ErrLockTimeout     = errors.New("dataset_lock_timeout")
)
