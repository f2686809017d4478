package index_knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/chunker"
	"github.com/wandergen/wandergen-backend/internal/embeddings"
	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/repos/testutil"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type memBucket struct {
	objects map[string][]byte
}

func (b *memBucket) UploadFile(_ context.Context, key string, file io.Reader, _ string) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *memBucket) DownloadFile(_ context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, types.NewNotFoundError("object", key)
	}
	return data, nil
}

func (b *memBucket) DeleteFile(_ context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

func (b *memBucket) GetPublicURL(key string) string { return "https://cdn.test/" + key }

type fixture struct {
	db       *gorm.DB
	pipeline *Pipeline
	jobs     services.JobService
	files    repos.KnowledgeFileRepo
	chunks   repos.KnowledgeChunkRepo
	bucket   *memBucket
	owner    uuid.UUID
	log      *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := logger.NewNop()

	files := repos.NewKnowledgeFileRepo(db, log)
	chunks := repos.NewKnowledgeChunkRepo(db, log)
	bucket := &memBucket{objects: map[string][]byte{}}
	extract := services.NewExtractionService(log)

	splitter, err := chunker.New(chunker.Config{ChunkSize: 50, Overlap: chunker.NoOverlap, MinChunkSize: 1})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	provider, err := embeddings.NewHashProvider(8)
	if err != nil {
		t.Fatalf("NewHashProvider: %v", err)
	}

	jobs := services.NewJobService(db, repos.NewJobRepo(db, log), repos.NewJobLogRepo(db, log), log)

	return &fixture{
		db:       db,
		pipeline: New(db, log, files, chunks, bucket, extract, splitter, provider),
		jobs:     jobs,
		files:    files,
		chunks:   chunks,
		bucket:   bucket,
		owner:    uuid.New(),
		log:      log,
	}
}

// paragraphs produces n blank-line separated sections that each fit in one
// chunk at the fixture's chunk size.
func paragraphs(n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("Paragraph %02d about the trip itinerary.", i))
	}
	return strings.Join(parts, "\n\n")
}

func (f *fixture) seedFile(t *testing.T, content string) *types.KnowledgeFile {
	t.Helper()
	key := "knowledge/" + uuid.New().String() + ".txt"
	f.bucket.objects[key] = []byte(content)
	file := &types.KnowledgeFile{
		OwnerUserID: f.owner,
		Name:        "notes.txt",
		FileType:    "txt",
		SizeBytes:   int64(len(content)),
		StorageKey:  key,
		Status:      types.FileStatusPending,
	}
	if err := f.files.Create(context.Background(), nil, file); err != nil {
		t.Fatalf("Create file: %v", err)
	}
	return file
}

func (f *fixture) runJob(t *testing.T, input map[string]any) *jobrt.Context {
	t.Helper()
	job, err := f.jobs.Create(context.Background(), f.owner, types.JobTypeIndexKnowledge, input, "")
	if err != nil {
		t.Fatalf("Create job: %v", err)
	}
	jc := jobrt.NewContext(context.Background(), f.db, job, f.jobs, nil, f.log)
	if err := f.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return jc
}

func TestIndexKnowledge(t *testing.T) {
	f := newFixture(t)
	file := f.seedFile(t, paragraphs(12))

	jc := f.runJob(t, map[string]any{"file_id": file.ID.String()})
	if jc.Job.Status != types.JobStatusDone {
		t.Fatalf("job status = %s (error=%q)", jc.Job.Status, jc.Job.Error)
	}

	var output map[string]any
	if err := json.Unmarshal(jc.Job.Output, &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := output["chunk_count"].(float64); got != 12 {
		t.Fatalf("output chunk_count = %v, want 12", got)
	}

	fresh, err := f.files.GetByID(context.Background(), nil, file.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fresh.Status != types.FileStatusReady || fresh.ChunkCount != 12 {
		t.Fatalf("file status=%s chunk_count=%d", fresh.Status, fresh.ChunkCount)
	}
	if fresh.LastIndexedAt == nil {
		t.Fatal("last_indexed_at not set")
	}

	rows, err := f.chunks.ListByFile(context.Background(), nil, file.ID)
	if err != nil {
		t.Fatalf("ListByFile: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("persisted %d chunks, want 12", len(rows))
	}
	for i, row := range rows {
		if row.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, row.ChunkIndex)
		}
		if row.Content == "" {
			t.Fatalf("chunk %d has empty content", i)
		}
	}
}

func TestIndexKnowledgeReindexReplacesChunks(t *testing.T) {
	f := newFixture(t)
	file := f.seedFile(t, paragraphs(12))

	f.runJob(t, map[string]any{"file_id": file.ID.String()})

	// Shrink the source and index again; only the new chunks may remain.
	f.bucket.objects[file.StorageKey] = []byte(paragraphs(8))
	jc := f.runJob(t, map[string]any{"file_id": file.ID.String()})
	if jc.Job.Status != types.JobStatusDone {
		t.Fatalf("job status = %s (error=%q)", jc.Job.Status, jc.Job.Error)
	}

	count, err := f.chunks.CountByFile(context.Background(), nil, file.ID)
	if err != nil {
		t.Fatalf("CountByFile: %v", err)
	}
	if count != 8 {
		t.Fatalf("chunk count after re-index = %d, want exactly 8", count)
	}
	fresh, _ := f.files.GetByID(context.Background(), nil, file.ID)
	if fresh.ChunkCount != 8 {
		t.Fatalf("file chunk_count = %d, want 8", fresh.ChunkCount)
	}
}

func TestIndexKnowledgeMissingPayload(t *testing.T) {
	f := newFixture(t)
	jc := f.runJob(t, map[string]any{})
	if jc.Job.Status != types.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", jc.Job.Status)
	}
}

func TestIndexKnowledgeUnknownFileFailsJob(t *testing.T) {
	f := newFixture(t)

	// A file id that matches no row, as after a delete racing the job.
	jc := f.runJob(t, map[string]any{"file_id": uuid.New().String()})
	if jc.Job.Status != types.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", jc.Job.Status)
	}
	if !strings.Contains(jc.Job.Error, "not found") {
		t.Fatalf("job error = %q, want not found", jc.Job.Error)
	}
}

func TestIndexKnowledgeDownloadFailureMarksFileFailed(t *testing.T) {
	f := newFixture(t)
	file := f.seedFile(t, paragraphs(3))
	delete(f.bucket.objects, file.StorageKey)

	jc := f.runJob(t, map[string]any{"file_id": file.ID.String()})
	if jc.Job.Status != types.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", jc.Job.Status)
	}
	fresh, err := f.files.GetByID(context.Background(), nil, file.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fresh.Status != types.FileStatusFailed {
		t.Fatalf("file status = %s, want failed", fresh.Status)
	}
	if jc.Job.Error == "" {
		t.Fatal("job error not recorded")
	}
}
