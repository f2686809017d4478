package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/wandergen/wandergen-backend/internal/embeddings"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/types"
)

const (
	DefaultRetrievalTopK      = 5
	DefaultMinSimilarity      = 0.7
	retrievalContextDelimiter = "\n\n---\n\n"

	// Returned instead of an empty context so downstream prompts always
	// have something explicit to include.
	NoKnowledgeFoundContext = "No relevant knowledge found for this query."
)

type RetrievalOptions struct {
	TopK          int
	MinSimilarity float64
}

type RetrievedChunk struct {
	ID         uuid.UUID      `json:"id"`
	FileID     uuid.UUID      `json:"file_id"`
	FileName   string         `json:"file_name"`
	Content    string         `json:"content"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

type RetrievalResult struct {
	Chunks  []RetrievedChunk `json:"chunks"`
	Context string           `json:"context"`
}

// RetrievalService answers "what do we already know about this" over a
// caller's indexed files, optionally scoped to packs or a single file.
type RetrievalService interface {
	RetrieveTopK(ctx context.Context, ownerUserID uuid.UUID, query string, packIDs []uuid.UUID, opts RetrievalOptions) (*RetrievalResult, error)
	RetrieveFromFile(ctx context.Context, ownerUserID, fileID uuid.UUID, query string, k int) (*RetrievalResult, error)
	RetrieveWithKeywords(ctx context.Context, ownerUserID uuid.UUID, query string, keywords []string, packIDs []uuid.UUID, opts RetrievalOptions) (*RetrievalResult, error)
}

type retrievalService struct {
	chunks   repos.KnowledgeChunkRepo
	files    repos.KnowledgeFileRepo
	packs    repos.KnowledgePackRepo
	provider embeddings.Provider
	log      *logger.Logger
}

func NewRetrievalService(
	chunks repos.KnowledgeChunkRepo,
	files repos.KnowledgeFileRepo,
	packs repos.KnowledgePackRepo,
	provider embeddings.Provider,
	baseLog *logger.Logger,
) RetrievalService {
	return &retrievalService{
		chunks:   chunks,
		files:    files,
		packs:    packs,
		provider: provider,
		log:      baseLog.With("service", "RetrievalService"),
	}
}

func (s *retrievalService) RetrieveTopK(ctx context.Context, ownerUserID uuid.UUID, query string, packIDs []uuid.UUID, opts RetrievalOptions) (*RetrievalResult, error) {
	if ownerUserID == uuid.Nil {
		return nil, types.NewValidationError("owner_user_id", "required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, types.NewValidationError("query", "required")
	}
	opts = normalizeOptions(opts)

	var fileIDs []uuid.UUID
	if len(packIDs) > 0 {
		resolved, err := s.packs.ResolveFileIDs(ctx, nil, ownerUserID, packIDs)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			return emptyResult(), nil
		}
		fileIDs = resolved
	}

	return s.search(ctx, ownerUserID, query, fileIDs, opts)
}

func (s *retrievalService) RetrieveFromFile(ctx context.Context, ownerUserID, fileID uuid.UUID, query string, k int) (*RetrievalResult, error) {
	if fileID == uuid.Nil {
		return nil, types.NewValidationError("file_id", "required")
	}
	file, err := s.files.GetByIDForOwner(ctx, nil, ownerUserID, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, types.NewNotFoundError("knowledge_file", fileID.String())
	}
	opts := normalizeOptions(RetrievalOptions{TopK: k})
	return s.search(ctx, ownerUserID, query, []uuid.UUID{fileID}, opts)
}

func (s *retrievalService) RetrieveWithKeywords(ctx context.Context, ownerUserID uuid.UUID, query string, keywords []string, packIDs []uuid.UUID, opts RetrievalOptions) (*RetrievalResult, error) {
	result, err := s.RetrieveTopK(ctx, ownerUserID, query, packIDs, opts)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 || len(result.Chunks) == 0 {
		return result, nil
	}

	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return result, nil
	}

	var kept []RetrievedChunk
	for _, ch := range result.Chunks {
		content := strings.ToLower(ch.Content)
		for _, kw := range lowered {
			if strings.Contains(content, kw) {
				kept = append(kept, ch)
				break
			}
		}
	}
	result.Chunks = kept
	result.Context = buildContext(kept)
	return result, nil
}

func (s *retrievalService) search(ctx context.Context, ownerUserID uuid.UUID, query string, fileIDs []uuid.UUID, opts RetrievalOptions) (*RetrievalResult, error) {
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.chunks.SearchSimilar(ctx, nil, repos.ChunkSearchParams{
		OwnerUserID:   ownerUserID,
		Query:         pgvector.NewVector(vec),
		MinSimilarity: opts.MinSimilarity,
		Limit:         opts.TopK,
		FileIDs:       fileIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return emptyResult(), nil
	}

	names, err := s.fileNames(ctx, rows)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, RetrievedChunk{
			ID:         row.ID,
			FileID:     row.FileID,
			FileName:   names[row.FileID],
			Content:    row.Content,
			Metadata:   row.Metadata,
			Similarity: row.Similarity,
		})
	}
	return &RetrievalResult{Chunks: chunks, Context: buildContext(chunks)}, nil
}

// fileNames resolves display names for every distinct file id in one query.
func (s *retrievalService) fileNames(ctx context.Context, rows []types.ChunkSearchRow) (map[uuid.UUID]string, error) {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, row := range rows {
		if !seen[row.FileID] {
			seen[row.FileID] = true
			ids = append(ids, row.FileID)
		}
	}
	files, err := s.files.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(files))
	for _, f := range files {
		names[f.ID] = f.Name
	}
	return names, nil
}

func buildContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return NoKnowledgeFoundContext
	}
	blocks := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		name := ch.FileName
		if name == "" {
			name = "unknown source"
		}
		blocks = append(blocks, fmt.Sprintf("[%d] (%.0f%% match, from %q)\n%s",
			i+1, ch.Similarity*100, name, ch.Content))
	}
	return strings.Join(blocks, retrievalContextDelimiter)
}

func emptyResult() *RetrievalResult {
	return &RetrievalResult{Chunks: []RetrievedChunk{}, Context: NoKnowledgeFoundContext}
}

func normalizeOptions(opts RetrievalOptions) RetrievalOptions {
	if opts.TopK <= 0 {
		opts.TopK = DefaultRetrievalTopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MinSimilarity > 1 {
		opts.MinSimilarity = 1
	}
	return opts
}
