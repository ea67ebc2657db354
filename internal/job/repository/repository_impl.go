package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	pkgdb "github.com/smallbiznis/settlr/pkg/db"
	"gorm.io/gorm"
)

var jobColumns = []string{
	"id", "tenant_id", "platform", "year", "month", "upload_id", "dataset_id", "mode",
	"status", "progress", "message", "metadata", "file_refs", "created_at", "updated_at", "completed_at",
}

type repo struct{}

func Provide() jobdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, j *jobdomain.Job) error {
	query, args, err := sq.Insert("jobs").
		Columns(jobColumns...).
		Values(
			j.ID, j.TenantID, j.Platform, j.Year, j.Month, j.UploadID, j.DatasetID, j.Mode,
			j.Status, j.Progress, j.Message, j.Metadata, j.FileRefs, j.CreatedAt, j.UpdatedAt, j.CompletedAt,
		).
		ToSql()
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(query, args...).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, j *jobdomain.Job) error {
	return db.WithContext(ctx).Exec(
		`UPDATE jobs
		 SET dataset_id = ?, status = ?, progress = ?, message = ?, metadata = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		j.DatasetID,
		j.Status,
		j.Progress,
		j.Message,
		j.Metadata,
		j.UpdatedAt,
		j.CompletedAt,
		j.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Exec(`DELETE FROM jobs WHERE id = ?`, id).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*jobdomain.Job, error) {
	query, args, err := sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var job jobdomain.Job
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	job.Metadata = pkgdb.NormalizeJSONMap(job.Metadata)
	return &job, nil
}

// List pages by descending id; job ids embed a UUIDv7 so that is newest first.
func (r *repo) List(ctx context.Context, db *gorm.DB, f jobdomain.ListFilter) ([]jobdomain.Job, error) {
	q := sq.Select(jobColumns...).From("jobs").OrderBy("id DESC")
	if f.TenantID != "" {
		q = q.Where(sq.Eq{"tenant_id": f.TenantID})
	}
	if f.Platform != "" {
		q = q.Where(sq.Eq{"platform": f.Platform})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Year > 0 {
		q = q.Where(sq.Eq{"year": f.Year})
	}
	if f.Month > 0 {
		q = q.Where(sq.Eq{"month": f.Month})
	}
	if f.After != "" {
		q = q.Where(sq.Lt{"id": f.After})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var items []jobdomain.Job
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Metadata = pkgdb.NormalizeJSONMap(items[i].Metadata)
	}
	return items, nil
}
