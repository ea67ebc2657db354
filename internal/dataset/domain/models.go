package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
)

// Key addresses one tenant/platform/period.
type Key struct {
	TenantID string `json:"tenant_id"`
	Platform string `json:"platform"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.TenantID, k.Platform, k.Year, k.Month)
}

// GenerateID derives the dataset id deterministically from the key.
func GenerateID(k Key) string {
	sum := sha256.Sum256([]byte(k.String()))
	return "dataset-" + hex.EncodeToString(sum[:])[:8]
}

// Dataset is one version record for a period. DatasetID is not unique in
// storage; ID is the surrogate key.
type Dataset struct {
	ID                snowflake.ID      `json:"-" gorm:"primaryKey"`
	DatasetID         string            `json:"id" gorm:"column:dataset_id;type:text;not null;index:ix_datasets_dataset_id"`
	TenantID          string            `json:"tenant_id" gorm:"type:text;not null;index:ix_datasets_period,priority:1"`
	Platform          string            `json:"platform" gorm:"type:text;not null;index:ix_datasets_period,priority:2"`
	Year              int               `json:"year" gorm:"not null;index:ix_datasets_period,priority:3"`
	Month             int               `json:"month" gorm:"not null;index:ix_datasets_period,priority:4"`
	Status            Status            `json:"status" gorm:"type:text;not null"`
	EffectiveUploadID string            `json:"effective_upload_id" gorm:"type:text"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
	SupersededAt      *time.Time        `json:"superseded_at,omitempty"`
	SupersededBy      *string           `json:"superseded_by,omitempty" gorm:"type:text"`
}

func (Dataset) TableName() string { return "datasets" }

func (d *Dataset) Key() Key {
	return Key{TenantID: d.TenantID, Platform: d.Platform, Year: d.Year, Month: d.Month}
}

// JobIDs returns metadata.jobIds, falling back to metadata.jobId.
func (d *Dataset) JobIDs() []string {
	if d == nil {
		return nil
	}
	if ids := stringSlice(d.Metadata["jobIds"]); len(ids) > 0 {
		return ids
	}
	if id, ok := d.Metadata["jobId"].(string); ok && id != "" {
		return []string{id}
	}
	return nil
}

// Row is the latest known content hash of a logical row within a dataset.
type Row struct {
	DatasetID string    `json:"dataset_id" gorm:"column:dataset_id;type:text;primaryKey"`
	RowKey    string    `json:"row_key" gorm:"type:text;primaryKey"`
	UploadID  string    `json:"upload_id" gorm:"type:text;not null"`
	RowHash   string    `json:"row_hash" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Row) TableName() string { return "dataset_rows" }

// KeyHash is one merge input.
type KeyHash struct {
	RowKey  string
	RowHash string
}
