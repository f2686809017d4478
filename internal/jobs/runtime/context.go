package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// Context carries everything a handler needs for one run. All status
// transitions go through Progress, Fail and Succeed so the ledger and the
// notifier stay consistent with each other.
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.Job
	Jobs   services.JobService
	Notify *services.JobNotifier
	Log    *logger.Logger

	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.Job, jobs services.JobService, notify *services.JobNotifier, log *logger.Logger) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Jobs:   jobs,
		Notify: notify,
		Log:    log.With("job_id", job.ID.String(), "job_type", job.JobType),
	}
	if len(job.Input) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(job.Input, &payload); err != nil {
			// A handler that needs the payload will fail on its own terms.
			c.Log.Warn("job input is not a JSON object", "error", err)
		} else {
			c.payload = payload
		}
	}
	return c
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		return map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s, ok := c.PayloadString(key)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadUUIDs reads a list of id strings, skipping malformed entries.
func (c *Context) PayloadUUIDs(key string) []uuid.UUID {
	raw, ok := c.Payload()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Progress moves the job to running at the given percentage and records the
// message in the job log.
func (c *Context) Progress(pct int, msg string) {
	job, err := c.Jobs.UpdateStatus(c.Ctx, c.Job.ID, services.StatusUpdate{
		Status:   types.JobStatusRunning,
		Progress: &pct,
	})
	if err != nil {
		c.Log.Warn("progress update failed", "pct", pct, "error", err)
		return
	}
	c.Job = job
	if msg != "" {
		c.Jobs.LogInfo(c.Ctx, c.Job.ID, msg, map[string]any{"progress": job.Progress})
	}
	c.publish(services.JobEventProgress, msg)
}

// Fail marks the job failed with the error from the named stage.
func (c *Context) Fail(stage string, err error) error {
	c.Jobs.LogError(c.Ctx, c.Job.ID, err.Error(), map[string]any{"stage": stage})
	job, uerr := c.Jobs.UpdateStatus(c.Ctx, c.Job.ID, services.StatusUpdate{
		Status: types.JobStatusFailed,
		Error:  stage + ": " + err.Error(),
	})
	if uerr != nil {
		c.Log.Error("failed to mark job failed", "stage", stage, "error", uerr)
		return err
	}
	c.Job = job
	c.publish(services.JobEventFailed, job.Error)
	return err
}

// Succeed marks the job done with the given output.
func (c *Context) Succeed(output any) error {
	job, err := c.Jobs.UpdateStatus(c.Ctx, c.Job.ID, services.StatusUpdate{
		Status: types.JobStatusDone,
		Output: output,
	})
	if err != nil {
		return err
	}
	c.Job = job
	c.publish(services.JobEventDone, "")
	return nil
}

func (c *Context) publish(event, msg string) {
	c.Notify.Publish(c.Ctx, services.JobEvent{
		Event:       event,
		JobID:       c.Job.ID,
		OwnerUserID: c.Job.OwnerUserID,
		JobType:     c.Job.JobType,
		Status:      c.Job.Status,
		Progress:    c.Job.Progress,
		Message:     msg,
		At:          time.Now().UTC(),
	})
}
