package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type JobLogRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.JobLog) error
	ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.JobLog, error)
	DeleteByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
}

type jobLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobLogRepo(db *gorm.DB, baseLog *logger.Logger) JobLogRepo {
	return &jobLogRepo{
		db:  db,
		log: baseLog.With("repo", "JobLogRepo"),
	}
}

func (r *jobLogRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.JobLog) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		// V7 ids are time-ordered, so the id tiebreak in ListByJob follows
		// append order even when created_at collides.
		id, err := uuid.NewV7()
		if err != nil {
			return types.NewPersistenceError("job_log.append", err)
		}
		entry.ID = id
	}
	return wrapPersistence("job_log.append", transaction.WithContext(ctx).Create(entry).Error)
}

// ListByJob returns log rows in append order. id breaks ties between rows
// created inside the same timestamp granularity.
func (r *jobLogRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.JobLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobLog
	if jobID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, wrapPersistence("job_log.list", err)
	}
	return out, nil
}

func (r *jobLogRepo) DeleteByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	return wrapPersistence("job_log.delete", transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&types.JobLog{}).Error)
}
