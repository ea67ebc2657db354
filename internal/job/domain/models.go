package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Mode string

const (
	ModeMerge   Mode = "merge"
	ModeReplace Mode = "replace"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", ErrInvalidMode
}

type FileKind string

const (
	FileSettlement FileKind = "settlement"
	FileOrders     FileKind = "orders"
)

// FileRef points at an uploaded export in the blob store.
type FileRef struct {
	Kind      FileKind `json:"kind"`
	ObjectKey string   `json:"objectKey"`
	FileName  string   `json:"fileName,omitempty"`
}

type Job struct {
	ID          string                       `json:"id" gorm:"primaryKey;type:text"`
	TenantID    string                       `json:"tenant_id" gorm:"type:text;not null;index:ix_jobs_tenant"`
	Platform    string                       `json:"platform" gorm:"type:text;not null"`
	Year        int                          `json:"year" gorm:"not null"`
	Month       int                          `json:"month" gorm:"not null"`
	UploadID    string                       `json:"upload_id" gorm:"type:text;not null"`
	DatasetID   string                       `json:"dataset_id" gorm:"type:text"`
	Mode        Mode                         `json:"mode" gorm:"type:text;not null"`
	Status      Status                       `json:"status" gorm:"type:text;not null;index:ix_jobs_status"`
	Progress    int                          `json:"progress" gorm:"not null;default:0"`
	Message     string                       `json:"message" gorm:"type:text"`
	Metadata    datatypes.JSONMap            `json:"metadata,omitempty" gorm:"type:jsonb"`
	FileRefs    datatypes.JSONSlice[FileRef] `json:"file_refs" gorm:"type:jsonb"`
	CreatedAt   time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time                    `json:"updated_at" gorm:"not null"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// File returns the first reference of kind.
func (j *Job) File(kind FileKind) (FileRef, bool) {
	for _, f := range j.FileRefs {
		if f.Kind == kind {
			return f, true
		}
	}
	return FileRef{}, false
}

// CanTransition enforces the forward-only lifecycle. processing→processing
// covers redelivery of a message whose worker died mid-job.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	}
	return false
}
