package index_knowledge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/chunker"
	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/types"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	fileID, ok := jc.PayloadUUID("file_id")
	if !ok || fileID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing file_id"))
		return nil
	}

	file, err := p.files.GetByID(jc.Ctx, nil, fileID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if file == nil {
		jc.Fail("load", types.NewNotFoundError("knowledge_file", fileID.String()))
		return nil
	}
	if !p.extract.Supported(file.FileType) {
		p.markFailed(jc, fileID)
		jc.Fail("validate", fmt.Errorf("unsupported file type %q", file.FileType))
		return nil
	}
	if err := p.files.UpdateFields(jc.Ctx, nil, fileID, map[string]interface{}{
		"status": types.FileStatusIndexing,
	}); err != nil {
		jc.Fail("load", err)
		return nil
	}

	jc.Progress(5, fmt.Sprintf("Downloading %s", file.Name))
	data, err := p.bucket.DownloadFile(jc.Ctx, file.StorageKey)
	if err != nil {
		p.markFailed(jc, fileID)
		jc.Fail("download", err)
		return nil
	}

	jc.Progress(20, "Extracting text")
	ext, err := p.extract.Extract(jc.Ctx, file.Name, file.FileType, data)
	if err != nil {
		p.markFailed(jc, fileID)
		jc.Fail("extract", err)
		return nil
	}

	jc.Progress(35, "Splitting into chunks")
	var pieces []chunker.Chunk
	if len(ext.Pages) > 1 {
		pieces = p.splitter.SplitPages(ext.Pages)
	} else {
		pieces = p.splitter.Split(ext.Text)
	}

	vectors := make([][]float32, len(pieces))
	if len(pieces) > 0 {
		jc.Progress(45, fmt.Sprintf("Embedding %d chunks", len(pieces)))
		g, gctx := errgroup.WithContext(jc.Ctx)
		g.SetLimit(embedConcurrency)
		for start := 0; start < len(pieces); start += embedBatchSize {
			start := start
			end := start + embedBatchSize
			if end > len(pieces) {
				end = len(pieces)
			}
			g.Go(func() error {
				texts := make([]string, 0, end-start)
				for _, piece := range pieces[start:end] {
					texts = append(texts, piece.Content)
				}
				vecs, err := p.provider.EmbedBatch(gctx, texts)
				if err != nil {
					return err
				}
				copy(vectors[start:end], vecs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			p.markFailed(jc, fileID)
			jc.Fail("embed", err)
			return nil
		}
	}

	jc.Progress(80, "Storing chunks")
	rows := make([]*types.KnowledgeChunk, 0, len(pieces))
	for i, piece := range pieces {
		meta, err := chunkMetadata(piece)
		if err != nil {
			p.markFailed(jc, fileID)
			jc.Fail("store", err)
			return nil
		}
		rows = append(rows, &types.KnowledgeChunk{
			FileID:     fileID,
			ChunkIndex: i,
			Content:    piece.Content,
			Embedding:  pgvector.NewVector(vectors[i]),
			Metadata:   meta,
		})
	}

	now := time.Now().UTC()
	err = p.db.WithContext(jc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.chunks.DeleteByFile(jc.Ctx, tx, fileID); err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := p.chunks.InsertBatch(jc.Ctx, tx, rows, insertBatchSize); err != nil {
				return err
			}
		}
		return p.files.UpdateFields(jc.Ctx, tx, fileID, map[string]interface{}{
			"status":          types.FileStatusReady,
			"chunk_count":     len(rows),
			"last_indexed_at": now,
		})
	})
	if err != nil {
		p.markFailed(jc, fileID)
		jc.Fail("store", err)
		return nil
	}

	return jc.Succeed(map[string]any{
		"file_id":     fileID.String(),
		"chunk_count": len(rows),
	})
}

// markFailed is best effort; the job error is the source of truth.
func (p *Pipeline) markFailed(jc *jobrt.Context, fileID uuid.UUID) {
	if err := p.files.UpdateFields(jc.Ctx, nil, fileID, map[string]interface{}{
		"status": types.FileStatusFailed,
	}); err != nil {
		p.log.Warn("could not mark file failed", "file_id", fileID.String(), "error", err)
	}
}

func chunkMetadata(piece chunker.Chunk) (datatypes.JSON, error) {
	meta := map[string]any{
		"start": piece.Start,
		"end":   piece.End,
	}
	for k, v := range piece.Metadata {
		meta[k] = v
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}
