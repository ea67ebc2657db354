package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/settlr/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter Filter) ([]Job, pagination.PageInfo, error)
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	MarkProcessing(ctx context.Context, id string) (*Job, error)
	Complete(ctx context.Context, id string, metadata map[string]any) (*Job, error)
	Fail(ctx context.Context, id, message string, metadata map[string]any) (*Job, error)
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	TenantID  string
	Platform  string
	Year      int
	Month     int
	UploadID  string
	DatasetID string
	Mode      Mode
	FileRefs  []FileRef
	Metadata  map[string]any
}

type Filter struct {
	TenantID string `form:"tenant_id"`
	Platform string `form:"platform"`
	Status   string `form:"status"`
	Year     int    `form:"year"`
	Month    int    `form:"month"`
	pagination.Pagination
}

var (
	ErrNotFound      = errors.New("job_not_found")
	ErrTerminalJob   = errors.New("job_terminal")
	ErrInvalidStatus = errors.New("invalid_job_status")
	ErrInvalidMode   = errors.New("invalid_mode")
	ErrInvalidJob    = errors.New("invalid_job")
	ErrInvalidCursor = errors.New("invalid_page_token")
)
