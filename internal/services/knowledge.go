package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// CreateFileInput registers an uploaded blob as a knowledge file.
type CreateFileInput struct {
	Name       string
	FileType   string
	SizeBytes  int64
	StorageKey string
	Metadata   map[string]any
}

// KnowledgeService manages files and packs. Every operation is scoped to the
// owning user; a file never appears in another user's packs or results.
type KnowledgeService interface {
	CreateFile(ctx context.Context, ownerUserID uuid.UUID, in CreateFileInput) (*types.KnowledgeFile, error)
	GetFile(ctx context.Context, ownerUserID, fileID uuid.UUID) (*types.KnowledgeFile, error)
	ListFiles(ctx context.Context, ownerUserID uuid.UUID) ([]*types.KnowledgeFile, error)
	DeleteFile(ctx context.Context, ownerUserID, fileID uuid.UUID) error

	CreatePack(ctx context.Context, ownerUserID uuid.UUID, name, description string) (*types.KnowledgePack, error)
	GetPack(ctx context.Context, ownerUserID, packID uuid.UUID) (*types.KnowledgePack, error)
	ListPacks(ctx context.Context, ownerUserID uuid.UUID) ([]*types.KnowledgePack, error)
	AddFilesToPack(ctx context.Context, ownerUserID, packID uuid.UUID, fileIDs []uuid.UUID) error
	RemoveFileFromPack(ctx context.Context, ownerUserID, packID, fileID uuid.UUID) error
	DeletePack(ctx context.Context, ownerUserID, packID uuid.UUID) error
}

type knowledgeService struct {
	db     *gorm.DB
	files  repos.KnowledgeFileRepo
	chunks repos.KnowledgeChunkRepo
	packs  repos.KnowledgePackRepo
	bucket BucketService
	log    *logger.Logger
}

func NewKnowledgeService(
	db *gorm.DB,
	files repos.KnowledgeFileRepo,
	chunks repos.KnowledgeChunkRepo,
	packs repos.KnowledgePackRepo,
	bucket BucketService,
	baseLog *logger.Logger,
) KnowledgeService {
	return &knowledgeService{
		db:     db,
		files:  files,
		chunks: chunks,
		packs:  packs,
		bucket: bucket,
		log:    baseLog.With("service", "KnowledgeService"),
	}
}

func (s *knowledgeService) CreateFile(ctx context.Context, ownerUserID uuid.UUID, in CreateFileInput) (*types.KnowledgeFile, error) {
	if ownerUserID == uuid.Nil {
		return nil, types.NewValidationError("owner_user_id", "required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, types.NewValidationError("name", "required")
	}
	if strings.TrimSpace(in.StorageKey) == "" {
		return nil, types.NewValidationError("storage_key", "required")
	}

	file := &types.KnowledgeFile{
		OwnerUserID: ownerUserID,
		Name:        strings.TrimSpace(in.Name),
		FileType:    strings.TrimSpace(in.FileType),
		SizeBytes:   in.SizeBytes,
		StorageKey:  in.StorageKey,
		Status:      types.FileStatusPending,
	}
	if len(in.Metadata) > 0 {
		md, err := marshalJSONB(in.Metadata)
		if err != nil {
			return nil, types.NewValidationError("metadata", "not serializable: "+err.Error())
		}
		file.Metadata = md
	}

	if err := s.files.Create(ctx, nil, file); err != nil {
		return nil, err
	}
	s.log.Info("Knowledge file registered", "file_id", file.ID, "name", file.Name, "owner_user_id", ownerUserID)
	return file, nil
}

func (s *knowledgeService) GetFile(ctx context.Context, ownerUserID, fileID uuid.UUID) (*types.KnowledgeFile, error) {
	file, err := s.files.GetByIDForOwner(ctx, nil, ownerUserID, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, types.NewNotFoundError("knowledge_file", fileID.String())
	}
	return file, nil
}

func (s *knowledgeService) ListFiles(ctx context.Context, ownerUserID uuid.UUID) ([]*types.KnowledgeFile, error) {
	return s.files.ListByOwner(ctx, nil, ownerUserID)
}

// DeleteFile removes the chunks and the row together, then the blob. A blob
// delete failure is logged, not surfaced: the row is already gone and the
// object store tolerates orphans better than callers tolerate half-deleted
// files.
func (s *knowledgeService) DeleteFile(ctx context.Context, ownerUserID, fileID uuid.UUID) error {
	file, err := s.GetFile(ctx, ownerUserID, fileID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.chunks.DeleteByFile(ctx, tx, fileID); err != nil {
			return err
		}
		return s.files.Delete(ctx, tx, fileID)
	})
	if err != nil {
		return err
	}

	if s.bucket != nil && file.StorageKey != "" {
		if err := s.bucket.DeleteFile(ctx, file.StorageKey); err != nil {
			s.log.Warn("Blob delete failed after file removal",
				"file_id", fileID, "storage_key", file.StorageKey, "error", err.Error())
		}
	}
	return nil
}

func (s *knowledgeService) CreatePack(ctx context.Context, ownerUserID uuid.UUID, name, description string) (*types.KnowledgePack, error) {
	if ownerUserID == uuid.Nil {
		return nil, types.NewValidationError("owner_user_id", "required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, types.NewValidationError("name", "required")
	}

	pack := &types.KnowledgePack{
		OwnerUserID: ownerUserID,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
	}
	if err := s.packs.Create(ctx, nil, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

func (s *knowledgeService) GetPack(ctx context.Context, ownerUserID, packID uuid.UUID) (*types.KnowledgePack, error) {
	pack, err := s.packs.GetByIDForOwner(ctx, nil, ownerUserID, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, types.NewNotFoundError("knowledge_pack", packID.String())
	}
	return pack, nil
}

func (s *knowledgeService) ListPacks(ctx context.Context, ownerUserID uuid.UUID) ([]*types.KnowledgePack, error) {
	return s.packs.ListByOwner(ctx, nil, ownerUserID)
}

// AddFilesToPack rejects the whole batch when any file is missing or owned
// by someone else.
func (s *knowledgeService) AddFilesToPack(ctx context.Context, ownerUserID, packID uuid.UUID, fileIDs []uuid.UUID) error {
	if _, err := s.GetPack(ctx, ownerUserID, packID); err != nil {
		return err
	}
	if len(fileIDs) == 0 {
		return types.NewValidationError("file_ids", "at least one file required")
	}

	for _, fid := range fileIDs {
		file, err := s.files.GetByIDForOwner(ctx, nil, ownerUserID, fid)
		if err != nil {
			return err
		}
		if file == nil {
			return types.NewNotFoundError("knowledge_file", fid.String())
		}
	}

	return s.packs.AddFiles(ctx, nil, packID, fileIDs)
}

func (s *knowledgeService) RemoveFileFromPack(ctx context.Context, ownerUserID, packID, fileID uuid.UUID) error {
	if _, err := s.GetPack(ctx, ownerUserID, packID); err != nil {
		return err
	}
	return s.packs.RemoveFile(ctx, nil, packID, fileID)
}

func (s *knowledgeService) DeletePack(ctx context.Context, ownerUserID, packID uuid.UUID) error {
	if _, err := s.GetPack(ctx, ownerUserID, packID); err != nil {
		return err
	}
	return s.packs.Delete(ctx, nil, packID)
}
