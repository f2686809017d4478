package jobrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
)

// Start launches the run workflow for a job. The workflow id is the job id,
// so starting the same job twice returns an already-started error rather than
// running it concurrently.
func Start(ctx context.Context, tc temporalsdkclient.Client, taskQueue string, jobID uuid.UUID) error {
	if tc == nil {
		return fmt.Errorf("jobrun: temporal client not configured")
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("jobrun: missing job id")
	}
	_, err := tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        jobID.String(),
		TaskQueue: taskQueue,
	}, WorkflowName)
	if err != nil {
		return fmt.Errorf("jobrun: start workflow for job %s: %w", jobID, err)
	}
	return nil
}
