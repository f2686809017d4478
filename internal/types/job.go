package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobTypeIndexKnowledge    = "index_knowledge"
	JobTypeGenerateItinerary = "generate_itinerary"
	JobTypeGenerateMerch     = "generate_merch"
	JobTypeExportPack        = "export_pack"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Job is a unit of asynchronous work tracked by the ledger. Status moves
// pending -> running -> done|failed and is never revived after a terminal
// state. Progress stays within [0,100].
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType        string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status         string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Input          datatypes.JSON `gorm:"type:jsonb;column:input" json:"input"`
	Output         datatypes.JSON `gorm:"type:jsonb;column:output" json:"output,omitempty"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	IdempotencyKey *string        `gorm:"column:idempotency_key;uniqueIndex" json:"idempotency_key,omitempty"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "job" }

// Terminal reports whether the job can no longer transition.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

func ValidJobType(t string) bool {
	switch t {
	case JobTypeIndexKnowledge, JobTypeGenerateItinerary, JobTypeGenerateMerch, JobTypeExportPack:
		return true
	}
	return false
}

func ValidJobStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}
