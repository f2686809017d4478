package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type KnowledgePackRepo interface {
	Create(ctx context.Context, tx *gorm.DB, pack *types.KnowledgePack) error
	GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, id uuid.UUID) (*types.KnowledgePack, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.KnowledgePack, error)
	AddFiles(ctx context.Context, tx *gorm.DB, packID uuid.UUID, fileIDs []uuid.UUID) error
	RemoveFile(ctx context.Context, tx *gorm.DB, packID, fileID uuid.UUID) error
	// ResolveFileIDs returns the distinct union of file ids referenced by the
	// given packs, restricted to packs owned by ownerUserID.
	ResolveFileIDs(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, packIDs []uuid.UUID) ([]uuid.UUID, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type knowledgePackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgePackRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgePackRepo {
	return &knowledgePackRepo{
		db:  db,
		log: baseLog.With("repo", "KnowledgePackRepo"),
	}
}

func (r *knowledgePackRepo) Create(ctx context.Context, tx *gorm.DB, pack *types.KnowledgePack) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if pack == nil {
		return nil
	}
	if pack.ID == uuid.Nil {
		pack.ID = uuid.New()
	}
	return wrapPersistence("knowledge_pack.create", transaction.WithContext(ctx).Create(pack).Error)
}

func (r *knowledgePackRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, id uuid.UUID) (*types.KnowledgePack, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var pack types.KnowledgePack
	err := transaction.WithContext(ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		Limit(1).
		Find(&pack).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_pack.get_for_owner", err)
	}
	if pack.ID == uuid.Nil {
		return nil, nil
	}
	return &pack, nil
}

func (r *knowledgePackRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.KnowledgePack, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgePack
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_pack.list", err)
	}
	return out, nil
}

func (r *knowledgePackRepo) AddFiles(ctx context.Context, tx *gorm.DB, packID uuid.UUID, fileIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if packID == uuid.Nil || len(fileIDs) == 0 {
		return nil
	}
	rows := make([]*types.KnowledgePackFile, 0, len(fileIDs))
	for _, fid := range fileIDs {
		if fid == uuid.Nil {
			continue
		}
		rows = append(rows, &types.KnowledgePackFile{ID: uuid.New(), PackID: packID, FileID: fid})
	}
	if len(rows) == 0 {
		return nil
	}
	// Re-adding a file to a pack is a no-op.
	return wrapPersistence("knowledge_pack.add_files", transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pack_id"}, {Name: "file_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error)
}

func (r *knowledgePackRepo) RemoveFile(ctx context.Context, tx *gorm.DB, packID, fileID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if packID == uuid.Nil || fileID == uuid.Nil {
		return nil
	}
	return wrapPersistence("knowledge_pack.remove_file", transaction.WithContext(ctx).
		Where("pack_id = ? AND file_id = ?", packID, fileID).
		Delete(&types.KnowledgePackFile{}).Error)
}

func (r *knowledgePackRepo) ResolveFileIDs(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, packIDs []uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || len(packIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	err := transaction.WithContext(ctx).
		Table("knowledge_pack_file AS pf").
		Joins("JOIN knowledge_pack p ON p.id = pf.pack_id").
		Where("pf.pack_id IN ? AND p.owner_user_id = ? AND p.deleted_at IS NULL", packIDs, ownerUserID).
		Distinct().
		Pluck("pf.file_id", &ids).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_pack.resolve_file_ids", err)
	}
	return ids, nil
}

func (r *knowledgePackRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return wrapPersistence("knowledge_pack.delete", transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.KnowledgePack{}).Error)
}
