package export_pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type exportChunk struct {
	Index    int            `json:"index"`
	Content  string         `json:"content"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`
}

type exportFile struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	FileType      string        `json:"file_type,omitempty"`
	Status        string        `json:"status"`
	LastIndexedAt *time.Time    `json:"last_indexed_at,omitempty"`
	Chunks        []exportChunk `json:"chunks"`
}

type exportManifest struct {
	PackID      uuid.UUID    `json:"pack_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	ExportedAt  time.Time    `json:"exported_at"`
	Files       []exportFile `json:"files"`
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	packID, ok := jc.PayloadUUID("pack_id")
	if !ok || packID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing pack_id"))
		return nil
	}

	pack, err := p.packs.GetByIDForOwner(jc.Ctx, nil, jc.Job.OwnerUserID, packID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if pack == nil {
		jc.Fail("load", types.NewNotFoundError("knowledge_pack", packID.String()))
		return nil
	}

	jc.Progress(10, "Collecting pack files")
	fileIDs, err := p.packs.ResolveFileIDs(jc.Ctx, nil, jc.Job.OwnerUserID, []uuid.UUID{packID})
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	files, err := p.files.GetByIDs(jc.Ctx, nil, fileIDs)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}

	manifest := exportManifest{
		PackID:      pack.ID,
		Name:        pack.Name,
		Description: pack.Description,
		ExportedAt:  time.Now().UTC(),
		Files:       make([]exportFile, 0, len(files)),
	}

	jc.Progress(30, fmt.Sprintf("Exporting %d files", len(files)))
	for _, f := range files {
		rows, err := p.chunks.ListByFile(jc.Ctx, nil, f.ID)
		if err != nil {
			jc.Fail("gather", err)
			return nil
		}
		out := exportFile{
			ID:            f.ID,
			Name:          f.Name,
			FileType:      f.FileType,
			Status:        f.Status,
			LastIndexedAt: f.LastIndexedAt,
			Chunks:        make([]exportChunk, 0, len(rows)),
		}
		for _, row := range rows {
			out.Chunks = append(out.Chunks, exportChunk{
				Index:    row.ChunkIndex,
				Content:  row.Content,
				Metadata: row.Metadata,
			})
		}
		manifest.Files = append(manifest.Files, out)
	}

	jc.Progress(80, "Uploading export")
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		jc.Fail("marshal", err)
		return nil
	}
	key := fmt.Sprintf("exports/%s/%s.json", jc.Job.OwnerUserID.String(), jc.Job.ID.String())
	if err := p.bucket.UploadFile(jc.Ctx, key, bytes.NewReader(raw), "application/json"); err != nil {
		jc.Fail("upload", err)
		return nil
	}

	return jc.Succeed(map[string]any{
		"pack_id":     packID.String(),
		"storage_key": key,
		"url":         p.bucket.GetPublicURL(key),
		"file_count":  len(manifest.Files),
	})
}
