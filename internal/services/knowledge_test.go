package services

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/repos/testutil"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// fakeBucket is an in-memory BucketService.
type fakeBucket struct {
	objects map[string][]byte
	deleted []string
}

func (b *fakeBucket) UploadFile(_ context.Context, key string, file io.Reader, _ string) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBucket) DownloadFile(_ context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, types.NewNotFoundError("object", key)
	}
	return data, nil
}

func (b *fakeBucket) DeleteFile(_ context.Context, key string) error {
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *fakeBucket) GetPublicURL(key string) string {
	return "https://storage.test/" + key
}

type knowledgeFixture struct {
	svc    KnowledgeService
	chunks repos.KnowledgeChunkRepo
	packs  repos.KnowledgePackRepo
	bucket *fakeBucket
}

func newKnowledgeFixture(t *testing.T) knowledgeFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	files := repos.NewKnowledgeFileRepo(db, log)
	chunks := repos.NewKnowledgeChunkRepo(db, log)
	packs := repos.NewKnowledgePackRepo(db, log)
	bucket := &fakeBucket{objects: map[string][]byte{}}
	return knowledgeFixture{
		svc:    NewKnowledgeService(db, files, chunks, packs, bucket, log),
		chunks: chunks,
		packs:  packs,
		bucket: bucket,
	}
}

func TestKnowledgeFileLifecycle(t *testing.T) {
	fx := newKnowledgeFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	file, err := fx.svc.CreateFile(ctx, owner, CreateFileInput{
		Name:       "porto-guide.md",
		FileType:   "md",
		SizeBytes:  2048,
		StorageKey: "knowledge/porto-guide.md",
		Metadata:   map[string]any{"source": "upload"},
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if file.Status != types.FileStatusPending {
		t.Fatalf("new file status = %s", file.Status)
	}

	got, err := fx.svc.GetFile(ctx, owner, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Name != "porto-guide.md" {
		t.Fatalf("name = %q", got.Name)
	}

	// Another owner never sees the file.
	if _, err := fx.svc.GetFile(ctx, uuid.New(), file.ID); !types.IsNotFound(err) {
		t.Fatalf("cross-owner GetFile = %v, want NotFoundError", err)
	}

	listed, err := fx.svc.ListFiles(ctx, owner)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListFiles: err=%v len=%d", err, len(listed))
	}
}

func TestKnowledgeDeleteFileRemovesChunksAndBlob(t *testing.T) {
	fx := newKnowledgeFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	file, err := fx.svc.CreateFile(ctx, owner, CreateFileInput{
		Name: "notes.txt", StorageKey: "knowledge/notes.txt",
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	chunks := []*types.KnowledgeChunk{
		{FileID: file.ID, ChunkIndex: 0, Content: "first", Embedding: pgvector.NewVector([]float32{0.1, 0.2})},
		{FileID: file.ID, ChunkIndex: 1, Content: "second", Embedding: pgvector.NewVector([]float32{0.3, 0.4})},
	}
	if err := fx.chunks.InsertBatch(ctx, nil, chunks, 100); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	if err := fx.svc.DeleteFile(ctx, owner, file.ID); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	count, err := fx.chunks.CountByFile(ctx, nil, file.ID)
	if err != nil || count != 0 {
		t.Fatalf("chunks after delete: err=%v count=%d", err, count)
	}
	if len(fx.bucket.deleted) != 1 || fx.bucket.deleted[0] != "knowledge/notes.txt" {
		t.Fatalf("blob deletes = %v", fx.bucket.deleted)
	}
	if _, err := fx.svc.GetFile(ctx, owner, file.ID); !types.IsNotFound(err) {
		t.Fatalf("file survived delete: %v", err)
	}
}

func TestKnowledgePackMembership(t *testing.T) {
	fx := newKnowledgeFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	pack, err := fx.svc.CreatePack(ctx, owner, "northern portugal", "guides and notes")
	if err != nil {
		t.Fatalf("CreatePack: %v", err)
	}

	fileA, _ := fx.svc.CreateFile(ctx, owner, CreateFileInput{Name: "a.md", StorageKey: "k/a.md"})
	fileB, _ := fx.svc.CreateFile(ctx, owner, CreateFileInput{Name: "b.md", StorageKey: "k/b.md"})

	if err := fx.svc.AddFilesToPack(ctx, owner, pack.ID, []uuid.UUID{fileA.ID, fileB.ID}); err != nil {
		t.Fatalf("AddFilesToPack: %v", err)
	}
	// Re-adding is a no-op, not an error.
	if err := fx.svc.AddFilesToPack(ctx, owner, pack.ID, []uuid.UUID{fileA.ID}); err != nil {
		t.Fatalf("AddFilesToPack repeat: %v", err)
	}

	resolved, err := fx.packs.ResolveFileIDs(ctx, nil, owner, []uuid.UUID{pack.ID})
	if err != nil {
		t.Fatalf("ResolveFileIDs: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved %d files, want 2", len(resolved))
	}

	if err := fx.svc.RemoveFileFromPack(ctx, owner, pack.ID, fileA.ID); err != nil {
		t.Fatalf("RemoveFileFromPack: %v", err)
	}
	resolved, _ = fx.packs.ResolveFileIDs(ctx, nil, owner, []uuid.UUID{pack.ID})
	if len(resolved) != 1 || resolved[0] != fileB.ID {
		t.Fatalf("after removal resolved = %v", resolved)
	}
}

func TestKnowledgePackOwnerIsolation(t *testing.T) {
	fx := newKnowledgeFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()

	pack, _ := fx.svc.CreatePack(ctx, owner, "mine", "")
	theirFile, _ := fx.svc.CreateFile(ctx, stranger, CreateFileInput{Name: "theirs.md", StorageKey: "k/theirs.md"})

	// A foreign file cannot join the pack.
	if err := fx.svc.AddFilesToPack(ctx, owner, pack.ID, []uuid.UUID{theirFile.ID}); !types.IsNotFound(err) {
		t.Fatalf("foreign file add = %v, want NotFoundError", err)
	}

	// A stranger cannot touch the pack at all.
	if _, err := fx.svc.GetPack(ctx, stranger, pack.ID); !types.IsNotFound(err) {
		t.Fatalf("cross-owner GetPack = %v, want NotFoundError", err)
	}
	if err := fx.svc.DeletePack(ctx, stranger, pack.ID); !types.IsNotFound(err) {
		t.Fatalf("cross-owner DeletePack = %v, want NotFoundError", err)
	}

	// Pack resolution owned by someone else yields nothing.
	resolved, err := fx.packs.ResolveFileIDs(ctx, nil, stranger, []uuid.UUID{pack.ID})
	if err != nil || len(resolved) != 0 {
		t.Fatalf("cross-owner resolve: err=%v len=%d", err, len(resolved))
	}
}
