package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// ChunkSearchParams is the similarity search RPC contract consumed by the
// retrieval engine. FileIDs nil means "no restriction, search the caller's own
// data".
type ChunkSearchParams struct {
	OwnerUserID   uuid.UUID
	Query         pgvector.Vector
	MinSimilarity float64
	Limit         int
	FileIDs       []uuid.UUID
}

type KnowledgeChunkRepo interface {
	InsertBatch(ctx context.Context, tx *gorm.DB, chunks []*types.KnowledgeChunk, batchSize int) error
	DeleteByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error
	CountByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (int64, error)
	ListByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) ([]*types.KnowledgeChunk, error)
	SearchSimilar(ctx context.Context, tx *gorm.DB, params ChunkSearchParams) ([]types.ChunkSearchRow, error)
}

type knowledgeChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeChunkRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeChunkRepo {
	return &knowledgeChunkRepo{
		db:  db,
		log: baseLog.With("repo", "KnowledgeChunkRepo"),
	}
}

func (r *knowledgeChunkRepo) InsertBatch(ctx context.Context, tx *gorm.DB, chunks []*types.KnowledgeChunk, batchSize int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	return wrapPersistence("knowledge_chunk.insert_batch", transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error)
}

// DeleteByFile removes every chunk row for a file. Deleting twice is a no-op,
// which keeps re-indexing safe to repeat after a partial failure.
func (r *knowledgeChunkRepo) DeleteByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if fileID == uuid.Nil {
		return nil
	}
	return wrapPersistence("knowledge_chunk.delete_by_file", transaction.WithContext(ctx).
		Where("file_id = ?", fileID).
		Delete(&types.KnowledgeChunk{}).Error)
}

func (r *knowledgeChunkRepo) CountByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if fileID == uuid.Nil {
		return 0, nil
	}
	err := transaction.WithContext(ctx).
		Model(&types.KnowledgeChunk{}).
		Where("file_id = ?", fileID).
		Count(&count).Error
	return count, wrapPersistence("knowledge_chunk.count", err)
}

func (r *knowledgeChunkRepo) ListByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeChunk
	if fileID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("chunk_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_chunk.list", err)
	}
	return out, nil
}

// SearchSimilar delegates nearest-neighbor search to pgvector's cosine
// distance operator. Similarity is 1 - distance, so rows come back ordered by
// non-increasing similarity, and every row satisfies the minimum threshold.
func (r *knowledgeChunkRepo) SearchSimilar(ctx context.Context, tx *gorm.DB, params ChunkSearchParams) ([]types.ChunkSearchRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if params.OwnerUserID == uuid.Nil {
		return nil, nil
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}

	// Vector searches get a bounded timeout so a cold ANN index cannot block
	// the caller indefinitely.
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sql := `
		SELECT c.id, c.file_id, c.content, c.metadata,
		       1 - (c.embedding <=> ?) AS similarity
		FROM knowledge_chunk c
		JOIN knowledge_file f ON f.id = c.file_id
		WHERE f.owner_user_id = ?
		  AND f.deleted_at IS NULL
		  AND 1 - (c.embedding <=> ?) >= ?`
	args := []interface{}{params.Query, params.OwnerUserID, params.Query, params.MinSimilarity}
	if len(params.FileIDs) > 0 {
		sql += `
		  AND c.file_id IN ?`
		args = append(args, params.FileIDs)
	}
	sql += `
		ORDER BY c.embedding <=> ?
		LIMIT ?`
	args = append(args, params.Query, limit)

	var rows []types.ChunkSearchRow
	if err := transaction.WithContext(queryCtx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, wrapPersistence("knowledge_chunk.search", err)
	}
	return rows, nil
}
