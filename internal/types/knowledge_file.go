package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	FileStatusPending  = "pending"
	FileStatusIndexing = "indexing"
	FileStatusReady    = "ready"
	FileStatusFailed   = "failed"
)

// KnowledgeFile is an uploaded source document. ChunkCount reflects exactly
// the chunk rows currently persisted for the file; re-indexing removes the old
// rows before repopulating.
type KnowledgeFile struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Name          string         `gorm:"column:name;not null" json:"name"`
	FileType      string         `gorm:"column:file_type" json:"file_type"`
	SizeBytes     int64          `gorm:"column:size_bytes" json:"size_bytes"`
	StorageKey    string         `gorm:"column:storage_key;not null" json:"storage_key"`
	Status        string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	ChunkCount    int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	LastIndexedAt *time.Time     `gorm:"column:last_indexed_at" json:"last_indexed_at,omitempty"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (KnowledgeFile) TableName() string { return "knowledge_file" }
