package temporalworker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"gorm.io/gorm"

	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/temporalx"
	"github.com/wandergen/wandergen-backend/internal/temporalx/jobrun"
)

type Runner struct {
	log      *logger.Logger
	tc       temporalsdkclient.Client
	db       *gorm.DB
	jobs     services.JobService
	registry *jobrt.Registry
	notify   *services.JobNotifier
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	db *gorm.DB,
	jobs services.JobService,
	registry *jobrt.Registry,
	notify *services.JobNotifier,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if db == nil || jobs == nil || registry == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:      log,
		tc:       tc,
		db:       db,
		jobs:     jobs,
		registry: registry,
		notify:   notify,
	}, nil
}

// Start brings the worker up with bounded retries and stops it when ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	cfg := temporalx.LoadConfig()
	r.log.Info("starting temporal worker",
		"namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "job_types", r.registry.Types())

	deadline := time.Now().Add(envSeconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60))
	backoff := 250 * time.Millisecond

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			return nil
		}
		w.Stop()

		if time.Now().After(deadline) {
			return startErr
		}
		r.log.Warn("temporal worker failed to start, retrying",
			"task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := envInt("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &jobrun.Activities{
		Log:      r.log,
		DB:       r.db,
		Jobs:     r.jobs,
		Registry: r.registry,
		Notify:   r.notify,
	}
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: jobrun.ActivityRun})
	return w
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}
