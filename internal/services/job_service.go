package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// StatusUpdate describes a requested job transition. Progress is optional;
// Output and Error only apply to terminal transitions.
type StatusUpdate struct {
	Status   string
	Progress *int
	Output   any
	Error    string
}

// JobService is the ledger for asynchronous work: every job creation, status
// transition and log line goes through here so the rules hold in one place.
type JobService interface {
	Create(ctx context.Context, ownerUserID uuid.UUID, jobType string, input any, idempotencyKey string) (*types.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error)
	GetWithLogs(ctx context.Context, id uuid.UUID) (*types.Job, []*types.JobLog, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*types.Job, error)
	AddLog(ctx context.Context, jobID uuid.UUID, level, message string, metadata map[string]any) error
	LogInfo(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any)
	LogWarning(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any)
	LogError(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any)
	Delete(ctx context.Context, id uuid.UUID) error
}

type jobService struct {
	db      *gorm.DB
	jobs    repos.JobRepo
	jobLogs repos.JobLogRepo
	log     *logger.Logger
}

func NewJobService(db *gorm.DB, jobs repos.JobRepo, jobLogs repos.JobLogRepo, baseLog *logger.Logger) JobService {
	return &jobService{
		db:      db,
		jobs:    jobs,
		jobLogs: jobLogs,
		log:     baseLog.With("service", "JobService"),
	}
}

func (s *jobService) Create(ctx context.Context, ownerUserID uuid.UUID, jobType string, input any, idempotencyKey string) (*types.Job, error) {
	if ownerUserID == uuid.Nil {
		return nil, types.NewValidationError("owner_user_id", "required")
	}
	if !types.ValidJobType(jobType) {
		return nil, types.NewValidationError("job_type", "unknown job type "+jobType)
	}

	inputJSON, err := marshalJSONB(input)
	if err != nil {
		return nil, types.NewValidationError("input", "not serializable: "+err.Error())
	}

	job := &types.Job{
		OwnerUserID: ownerUserID,
		JobType:     jobType,
		Status:      types.JobStatusPending,
		Progress:    0,
		Input:       inputJSON,
	}
	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		job.IdempotencyKey = &key
	}

	if err := s.jobs.Create(ctx, nil, job); err != nil {
		if key != "" && isUniqueViolation(err) {
			existing, getErr := s.jobs.GetByIdempotencyKey(ctx, nil, key)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil {
				s.log.Info("Job create deduplicated on idempotency key",
					"job_id", existing.ID, "idempotency_key", key)
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Info("Job created", "job_id", job.ID, "job_type", jobType, "owner_user_id", ownerUserID)
	return job, nil
}

func (s *jobService) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.jobs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, types.NewNotFoundError("job", id.String())
	}
	return job, nil
}

func (s *jobService) GetWithLogs(ctx context.Context, id uuid.UUID) (*types.Job, []*types.JobLog, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.jobLogs.ListByJob(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	return job, logs, nil
}

func (s *jobService) UpdateStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*types.Job, error) {
	if !types.ValidJobStatus(upd.Status) {
		return nil, types.NewValidationError("status", "unknown status "+upd.Status)
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, types.NewValidationError("status",
			"job "+id.String()+" already "+job.Status)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": upd.Status}

	if upd.Progress != nil {
		updates["progress"] = clampProgress(*upd.Progress)
	}
	if upd.Status == types.JobStatusDone {
		updates["progress"] = 100
	}
	if upd.Status == types.JobStatusRunning && job.StartedAt == nil {
		updates["started_at"] = now
	}
	if upd.Status == types.JobStatusDone || upd.Status == types.JobStatusFailed {
		if job.StartedAt == nil {
			updates["started_at"] = now
		}
		updates["completed_at"] = now
	}
	if upd.Error != "" {
		updates["error"] = upd.Error
	}
	if upd.Output != nil {
		outputJSON, mErr := marshalJSONB(upd.Output)
		if mErr != nil {
			return nil, types.NewValidationError("output", "not serializable: "+mErr.Error())
		}
		updates["output"] = outputJSON
	}

	affected, err := s.jobs.UpdateFields(ctx, nil, id, updates)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, types.NewNotFoundError("job", id.String())
	}

	updated, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("Job status updated",
		"job_id", id, "status", updated.Status, "progress", updated.Progress)
	return updated, nil
}

func (s *jobService) AddLog(ctx context.Context, jobID uuid.UUID, level, message string, metadata map[string]any) error {
	if !types.ValidJobLogLevel(level) {
		return types.NewValidationError("level", "unknown log level "+level)
	}
	entry := &types.JobLog{
		JobID:   jobID,
		Level:   level,
		Message: message,
	}
	if len(metadata) > 0 {
		md, err := marshalJSONB(metadata)
		if err != nil {
			return types.NewValidationError("metadata", "not serializable: "+err.Error())
		}
		entry.Metadata = md
	}
	return s.jobLogs.Append(ctx, nil, entry)
}

func (s *jobService) LogInfo(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any) {
	s.addLogBestEffort(ctx, jobID, types.JobLogLevelInfo, message, metadata)
}

func (s *jobService) LogWarning(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any) {
	s.addLogBestEffort(ctx, jobID, types.JobLogLevelWarning, message, metadata)
}

func (s *jobService) LogError(ctx context.Context, jobID uuid.UUID, message string, metadata map[string]any) {
	s.addLogBestEffort(ctx, jobID, types.JobLogLevelError, message, metadata)
}

// addLogBestEffort never lets a log write failure break the pipeline that
// asked for it.
func (s *jobService) addLogBestEffort(ctx context.Context, jobID uuid.UUID, level, message string, metadata map[string]any) {
	if err := s.AddLog(ctx, jobID, level, message, metadata); err != nil {
		s.log.Warn("Job log write failed", "job_id", jobID, "level", level, "error", err.Error())
	}
}

func (s *jobService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.jobLogs.DeleteByJob(ctx, tx, id); err != nil {
			return err
		}
		return s.jobs.Delete(ctx, tx, id)
	})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func marshalJSONB(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if j, ok := v.(datatypes.JSON); ok {
		return j, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// isUniqueViolation matches the driver-specific messages for a unique
// constraint conflict. GORM only translates these when the dialector opts
// in, so match the raw text as well.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
