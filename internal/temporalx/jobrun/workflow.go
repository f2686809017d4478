package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/wandergen/wandergen-backend/internal/types"
)

// Workflow drives one job to a terminal state. The workflow id is the job id,
// so a duplicate start for the same job is rejected by Temporal. Handlers are
// safe to re-invoke: indexing is delete-then-insert and the ledger refuses
// transitions out of terminal states.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job id")
	}

	const (
		pollInterval = 2 * time.Second
		maxAttempts  = 50
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
	})

	for attempt := 1; ; attempt++ {
		var out RunResult
		if err := workflow.ExecuteActivity(ctx, ActivityRun, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case types.JobStatusDone:
			return nil
		case types.JobStatusFailed:
			return fmt.Errorf("job failed: %s", out.Error)
		}

		if attempt >= maxAttempts {
			return fmt.Errorf("job %s not terminal after %d attempts (status=%s)", jobID, attempt, out.Status)
		}
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}
