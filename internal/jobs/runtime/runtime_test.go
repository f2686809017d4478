package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/repos/testutil"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type fakeHandler struct {
	jobType string
	run     func(ctx *Context) error
}

func (h *fakeHandler) Type() string           { return h.jobType }
func (h *fakeHandler) Run(ctx *Context) error { return h.run(ctx) }

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	h := &fakeHandler{jobType: types.JobTypeIndexKnowledge}
	if err := reg.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := reg.Get(types.JobTypeIndexKnowledge)
	if !ok || got != Handler(h) {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if _, ok := reg.Get("unknown"); ok {
		t.Fatal("Get should miss for unregistered type")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeHandler{jobType: types.JobTypeExportPack}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&fakeHandler{jobType: types.JobTypeExportPack}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(&fakeHandler{jobType: ""}); err == nil {
		t.Fatal("expected empty type to fail")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected nil handler to fail")
	}
}

func newRunContext(t *testing.T, input map[string]any) *Context {
	t.Helper()
	db := testutil.DB(t)
	log := logger.NewNop()
	jobs := services.NewJobService(db, repos.NewJobRepo(db, log), repos.NewJobLogRepo(db, log), log)

	owner := uuid.New()
	job, err := jobs.Create(context.Background(), owner, types.JobTypeIndexKnowledge, input, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewContext(context.Background(), db, job, jobs, nil, log)
}

func TestContextPayloadHelpers(t *testing.T) {
	fileID := uuid.New()
	ctx := newRunContext(t, map[string]any{
		"file_id": fileID.String(),
		"prompt":  "three days in Lisbon",
		"count":   3,
		"bad_id":  "not-a-uuid",
	})

	if got, ok := ctx.PayloadUUID("file_id"); !ok || got != fileID {
		t.Fatalf("PayloadUUID(file_id) = %v, %v", got, ok)
	}
	if _, ok := ctx.PayloadUUID("bad_id"); ok {
		t.Fatal("PayloadUUID should reject malformed values")
	}
	if _, ok := ctx.PayloadUUID("missing"); ok {
		t.Fatal("PayloadUUID should miss for absent keys")
	}
	if got, ok := ctx.PayloadString("prompt"); !ok || got != "three days in Lisbon" {
		t.Fatalf("PayloadString(prompt) = %q, %v", got, ok)
	}
	if _, ok := ctx.PayloadString("count"); ok {
		t.Fatal("PayloadString should reject non-string values")
	}
}

func TestContextPayloadNeverNil(t *testing.T) {
	ctx := newRunContext(t, nil)
	if ctx.Payload() == nil {
		t.Fatal("Payload() returned nil")
	}
}

func TestContextProgressAndSucceed(t *testing.T) {
	ctx := newRunContext(t, map[string]any{"file_id": uuid.New().String()})

	ctx.Progress(10, "downloading source file")
	if ctx.Job.Status != types.JobStatusRunning || ctx.Job.Progress != 10 {
		t.Fatalf("after Progress: status=%s progress=%d", ctx.Job.Status, ctx.Job.Progress)
	}
	if ctx.Job.StartedAt == nil {
		t.Fatal("started_at not set on first progress")
	}

	ctx.Progress(80, "writing chunks")
	if ctx.Job.Progress != 80 {
		t.Fatalf("progress = %d, want 80", ctx.Job.Progress)
	}

	if err := ctx.Succeed(map[string]any{"chunk_count": 8}); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if ctx.Job.Status != types.JobStatusDone || ctx.Job.Progress != 100 {
		t.Fatalf("after Succeed: status=%s progress=%d", ctx.Job.Status, ctx.Job.Progress)
	}
	if ctx.Job.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	_, logs, err := ctx.Jobs.GetWithLogs(context.Background(), ctx.Job.ID)
	if err != nil {
		t.Fatalf("GetWithLogs: %v", err)
	}
	if len(logs) < 2 {
		t.Fatalf("expected progress messages in the job log, got %d entries", len(logs))
	}
}

func TestContextFail(t *testing.T) {
	ctx := newRunContext(t, nil)
	ctx.Progress(30, "extracting text")

	cause := types.NewProviderError("runpod", true, errors.New("endpoint unreachable"))
	if err := ctx.Fail("generate", cause); err != cause {
		t.Fatalf("Fail returned %v, want the original error", err)
	}
	if ctx.Job.Status != types.JobStatusFailed {
		t.Fatalf("status = %s, want failed", ctx.Job.Status)
	}
	if ctx.Job.Error == "" {
		t.Fatal("job error not recorded")
	}

	// Terminal jobs stay terminal.
	ctx.Progress(50, "should not apply")
	fresh, err := ctx.Jobs.GetByID(context.Background(), ctx.Job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fresh.Status != types.JobStatusFailed {
		t.Fatalf("terminal job revived to %s", fresh.Status)
	}
}
