package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, d *Dataset) error
	Update(ctx context.Context, db *gorm.DB, d *Dataset) error
	DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	// ListByDatasetID returns every record sharing datasetID, oldest first.
	ListByDatasetID(ctx context.Context, db *gorm.DB, datasetID string) ([]Dataset, error)
	FindActive(ctx context.Context, db *gorm.DB, key Key) (*Dataset, error)
	SupersedeAll(ctx context.Context, db *gorm.DB, datasetID, by string, at time.Time) (int64, error)

	ListRows(ctx context.Context, db *gorm.DB, datasetID string) ([]Row, error)
	InsertRows(ctx context.Context, db *gorm.DB, rows []Row) error
	UpdateRow(ctx context.Context, db *gorm.DB, row *Row) error
	DeleteRows(ctx context.Context, db *gorm.DB, datasetID string) (int64, error)
}
