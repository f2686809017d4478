package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error)
	GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*types.Job, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return wrapPersistence("job.create", transaction.WithContext(ctx).Create(job).Error)
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, wrapPersistence("job.get", err)
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, wrapPersistence("job.get_by_idempotency_key", err)
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return 0, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates)
	return res.RowsAffected, wrapPersistence("job.update", res.Error)
}

func (r *jobRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	// Hard delete so dependent job_log rows cascade with it.
	err := transaction.WithContext(ctx).
		Unscoped().
		Where("id = ?", id).
		Delete(&types.Job{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapPersistence("job.delete", err)
	}
	return nil
}
