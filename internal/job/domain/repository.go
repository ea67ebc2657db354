package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	Update(ctx context.Context, db *gorm.DB, job *Job) error
	Delete(ctx context.Context, db *gorm.DB, id string) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Job, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Job, error)
}

// ListFilter is the repository form of Filter; After is an exclusive id cursor.
type ListFilter struct {
	TenantID string
	Platform string
	Status   Status
	Year     int
	Month    int
	After    string
	Limit    int
}
