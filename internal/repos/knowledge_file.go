package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type KnowledgeFileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, file *types.KnowledgeFile) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeFile, error)
	GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, id uuid.UUID) (*types.KnowledgeFile, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeFile, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.KnowledgeFile, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type knowledgeFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeFileRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeFileRepo {
	return &knowledgeFileRepo{
		db:  db,
		log: baseLog.With("repo", "KnowledgeFileRepo"),
	}
}

func (r *knowledgeFileRepo) Create(ctx context.Context, tx *gorm.DB, file *types.KnowledgeFile) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if file == nil {
		return nil
	}
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	return wrapPersistence("knowledge_file.create", transaction.WithContext(ctx).Create(file).Error)
}

func (r *knowledgeFileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var file types.KnowledgeFile
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&file).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_file.get", err)
	}
	if file.ID == uuid.Nil {
		return nil, nil
	}
	return &file, nil
}

func (r *knowledgeFileRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, id uuid.UUID) (*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var file types.KnowledgeFile
	err := transaction.WithContext(ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		Limit(1).
		Find(&file).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_file.get_for_owner", err)
	}
	if file.ID == uuid.Nil {
		return nil, nil
	}
	return &file, nil
}

func (r *knowledgeFileRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeFile
	if len(ids) == 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_file.get_by_ids", err)
	}
	return out, nil
}

func (r *knowledgeFileRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeFile
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, wrapPersistence("knowledge_file.list", err)
	}
	return out, nil
}

func (r *knowledgeFileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return wrapPersistence("knowledge_file.update", transaction.WithContext(ctx).
		Model(&types.KnowledgeFile{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

func (r *knowledgeFileRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return wrapPersistence("knowledge_file.delete", transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.KnowledgeFile{}).Error)
}
