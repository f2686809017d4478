package jobrun

const (
	WorkflowName = "job_run"
	ActivityRun  = "job_run_execute"
)

// RunResult is the activity's view of the job after one execution attempt.
type RunResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}
