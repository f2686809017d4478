package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     services.JobService
	Registry *jobrt.Registry
	Notify   *services.JobNotifier
}

// Execute runs the registered handler for one job. Re-entry with a terminal
// job is a no-op that just reports the stored state.
func (a *Activities) Execute(ctx context.Context, jobID string) (RunResult, error) {
	res := RunResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}

	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job id %q", jobID)
	}

	job, err := a.Jobs.GetByID(ctx, id)
	if err != nil {
		return res, err
	}
	if job.Terminal() {
		res.Status = job.Status
		res.Progress = job.Progress
		res.Error = job.Error
		return res, nil
	}

	stopHB := startHeartbeat(ctx)
	defer stopHB()

	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify, a.Log)
	h, ok := a.Registry.Get(job.JobType)
	if !ok {
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
	} else {
		a.runHandler(jc, h, id)
	}

	updated, err := a.Jobs.GetByID(ctx, id)
	if err != nil {
		return res, err
	}
	res.Status = updated.Status
	res.Progress = updated.Progress
	res.Error = updated.Error
	return res, nil
}

func (a *Activities) runHandler(jc *jobrt.Context, h jobrt.Handler, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("job handler panic", "job_id", id.String(), "panic", r)
			jc.Fail("panic", fmt.Errorf("handler panicked"))
		}
	}()
	if err := h.Run(jc); err != nil {
		jc.Fail("run", err)
	}
}

func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
