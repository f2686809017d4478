package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// KnowledgeChunk is one retrievable unit of a file. ChunkIndex is 0-based and
// contiguous within a file; the embedding dimension matches whichever provider
// produced it at indexing time.
type KnowledgeChunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FileID     uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_chunk_file_index" json:"file_id"`
	File       *KnowledgeFile  `gorm:"constraint:OnDelete:CASCADE;foreignKey:FileID;references:ID" json:"-"`
	ChunkIndex int             `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunk_file_index" json:"chunk_index"`
	Content    string          `gorm:"column:content;type:text;not null" json:"content"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536);column:embedding" json:"-"`
	Metadata   datatypes.JSON  `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunk" }

// ChunkSearchRow is one similarity search hit as returned by the datastore,
// ordered by non-increasing similarity in [0,1].
type ChunkSearchRow struct {
	ID         uuid.UUID      `json:"id"`
	FileID     uuid.UUID      `json:"file_id"`
	Content    string         `json:"content"`
	Metadata   datatypes.JSON `json:"metadata"`
	Similarity float64        `json:"similarity"`
}
