package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobLogLevelInfo    = "info"
	JobLogLevelWarning = "warning"
	JobLogLevelError   = "error"
)

// JobLog is an append-only log line attached to a job. Rows are never mutated
// or deleted individually; they only go away when the job is deleted.
type JobLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Job       *Job           `gorm:"constraint:OnDelete:CASCADE;foreignKey:JobID;references:ID" json:"-"`
	Level     string         `gorm:"column:level;not null" json:"level"`
	Message   string         `gorm:"column:message;type:text;not null" json:"message"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobLog) TableName() string { return "job_log" }

func ValidJobLogLevel(l string) bool {
	switch l {
	case JobLogLevelInfo, JobLogLevelWarning, JobLogLevelError:
		return true
	}
	return false
}
