package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KnowledgePack is a named, user-curated grouping of files used to scope
// retrieval. Every referenced file belongs to the same owner as the pack.
type KnowledgePack struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Name        string         `gorm:"column:name;not null" json:"name"`
	Description string         `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (KnowledgePack) TableName() string { return "knowledge_pack" }

// KnowledgePackFile links a pack to one of its files.
type KnowledgePackFile struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PackID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_pack_file" json:"pack_id"`
	Pack      *KnowledgePack `gorm:"constraint:OnDelete:CASCADE;foreignKey:PackID;references:ID" json:"-"`
	FileID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_pack_file" json:"file_id"`
	File      *KnowledgeFile `gorm:"constraint:OnDelete:CASCADE;foreignKey:FileID;references:ID" json:"-"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (KnowledgePackFile) TableName() string { return "knowledge_pack_file" }
