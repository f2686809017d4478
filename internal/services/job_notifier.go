package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/wandergen/wandergen-backend/internal/logger"
)

const (
	JobEventCreated  = "job.created"
	JobEventProgress = "job.progress"
	JobEventDone     = "job.done"
	JobEventFailed   = "job.failed"
)

// JobEvent is the wire format published for every job transition.
type JobEvent struct {
	Event       string    `json:"event"`
	JobID       uuid.UUID `json:"job_id"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// JobNotifier fans job transitions out to interested listeners. A nil
// notifier is valid and drops everything, so callers never guard for it.
type JobNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewJobNotifier connects to redis when REDIS_ADDR is set; without it the
// returned notifier is nil and publishing becomes a no-op.
func NewJobNotifier(log *logger.Logger) (*JobNotifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR not set, job notifications disabled")
		return nil, nil
	}
	channel := strings.TrimSpace(os.Getenv("REDIS_JOB_CHANNEL"))
	if channel == "" {
		channel = "jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &JobNotifier{
		log:     log.With("service", "JobNotifier"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// Publish is best effort. A dropped event never fails the job that emitted it.
func (n *JobNotifier) Publish(ctx context.Context, event JobEvent) {
	if n == nil || n.rdb == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("job event not serializable", "job_id", event.JobID, "error", err.Error())
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("job event publish failed", "job_id", event.JobID, "error", err.Error())
	}
}

// Subscribe forwards decoded job events to onEvent until ctx is cancelled.
func (n *JobNotifier) Subscribe(ctx context.Context, onEvent func(JobEvent)) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("job notifier not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					n.log.Warn("bad job event payload", "error", err.Error())
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}

// Close releases the redis connection. Safe on a nil notifier.
func (n *JobNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
