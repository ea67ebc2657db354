package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	pkgdb "github.com/smallbiznis/settlr/pkg/db"
	"gorm.io/gorm"
)

const datasetColumns = `id, dataset_id, tenant_id, platform, year, month, status, effective_upload_id,
	metadata, created_at, updated_at, superseded_at, superseded_by`

const rowInsertBatch = 500

type repo struct{}

func Provide() datasetdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *datasetdomain.Dataset) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO datasets (`+datasetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.DatasetID,
		d.TenantID,
		d.Platform,
		d.Year,
		d.Month,
		d.Status,
		d.EffectiveUploadID,
		d.Metadata,
		d.CreatedAt,
		d.UpdatedAt,
		d.SupersededAt,
		d.SupersededBy,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, d *datasetdomain.Dataset) error {
	return db.WithContext(ctx).Exec(
		`UPDATE datasets
		 SET status = ?, effective_upload_id = ?, metadata = ?, updated_at = ?, superseded_at = ?, superseded_by = ?
		 WHERE id = ?`,
		d.Status,
		d.EffectiveUploadID,
		d.Metadata,
		d.UpdatedAt,
		d.SupersededAt,
		d.SupersededBy,
		d.ID,
	).Error
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM datasets WHERE id IN ?`, ids).Error
}

func (r *repo) ListByDatasetID(ctx context.Context, db *gorm.DB, datasetID string) ([]datasetdomain.Dataset, error) {
	var items []datasetdomain.Dataset
	err := db.WithContext(ctx).Raw(
		`SELECT `+datasetColumns+` FROM datasets WHERE dataset_id = ? ORDER BY created_at ASC, id ASC`,
		datasetID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Metadata = pkgdb.NormalizeJSONMap(items[i].Metadata)
	}
	return items, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, key datasetdomain.Key) (*datasetdomain.Dataset, error) {
	var d datasetdomain.Dataset
	err := db.WithContext(ctx).Raw(
		`SELECT `+datasetColumns+` FROM datasets
		 WHERE tenant_id = ? AND platform = ? AND year = ? AND month = ? AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		key.TenantID,
		key.Platform,
		key.Year,
		key.Month,
		datasetdomain.StatusActive,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	d.Metadata = pkgdb.NormalizeJSONMap(d.Metadata)
	return &d, nil
}

func (r *repo) SupersedeAll(ctx context.Context, db *gorm.DB, datasetID, by string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE datasets
		 SET status = ?, updated_at = ?, superseded_at = ?, superseded_by = ?
		 WHERE dataset_id = ?`,
		datasetdomain.StatusSuperseded,
		at,
		at,
		by,
		datasetID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListRows(ctx context.Context, db *gorm.DB, datasetID string) ([]datasetdomain.Row, error) {
	var rows []datasetdomain.Row
	err := db.WithContext(ctx).Raw(
		`SELECT dataset_id, row_key, upload_id, row_hash, created_at, updated_at
		 FROM dataset_rows WHERE dataset_id = ? ORDER BY row_key ASC`,
		datasetID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertRows(ctx context.Context, db *gorm.DB, rows []datasetdomain.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(rows, rowInsertBatch).Error
}

func (r *repo) UpdateRow(ctx context.Context, db *gorm.DB, row *datasetdomain.Row) error {
	return db.WithContext(ctx).Exec(
		`UPDATE dataset_rows SET upload_id = ?, row_hash = ?, updated_at = ?
		 WHERE dataset_id = ? AND row_key = ?`,
		row.UploadID,
		row.RowHash,
		row.UpdatedAt,
		row.DatasetID,
		row.RowKey,
	).Error
}

func (r *repo) DeleteRows(ctx context.Context, db *gorm.DB, datasetID string) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM dataset_rows WHERE dataset_id = ?`, datasetID)
	return res.RowsAffected, res.Error
}
