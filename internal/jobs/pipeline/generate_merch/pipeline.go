package generate_merch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wandergen/wandergen-backend/internal/generation"
	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	prompt, ok := jc.PayloadString("prompt")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing prompt"))
		return nil
	}
	workflow, err := workflowFromPayload(jc.Payload(), p.template)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	packIDs := jc.PayloadUUIDs("pack_ids")

	jc.Progress(10, "Retrieving design references")
	grounding, err := p.retrieval.RetrieveTopK(
		jc.Ctx, jc.Job.OwnerUserID, prompt, packIDs, services.RetrievalOptions{})
	if err != nil {
		jc.Fail("retrieve", err)
		return nil
	}

	fullPrompt := prompt
	if grounding.Context != services.NoKnowledgeFoundContext {
		fullPrompt = prompt + "\n\nDraw on these notes:\n" + grounding.Context
	}

	jc.Progress(30, "Generating merch designs")
	result, err := p.gen.Generate(jc.Ctx, workflow, generation.GenerateOptions{Prompt: fullPrompt})
	if err != nil {
		jc.Fail("generate", err)
		return nil
	}
	if len(result.Images) == 0 {
		jc.Fail("generate", fmt.Errorf("generation returned no artifacts"))
		return nil
	}

	jc.Progress(80, fmt.Sprintf("Uploading %d designs", len(result.Images)))
	artifacts := make([]map[string]any, 0, len(result.Images))
	for i, img := range result.Images {
		entry := map[string]any{}
		if len(img.Data) > 0 {
			key := fmt.Sprintf("merch/%s/%s/%02d-%s",
				jc.Job.OwnerUserID.String(), jc.Job.ID.String(), i, artifactName(img, i))
			if err := p.bucket.UploadFile(jc.Ctx, key, bytes.NewReader(img.Data), "image/png"); err != nil {
				jc.Fail("upload", err)
				return nil
			}
			entry["storage_key"] = key
			entry["url"] = p.bucket.GetPublicURL(key)
		}
		if img.URL != "" {
			entry["artifact_url"] = img.URL
		}
		artifacts = append(artifacts, entry)
	}

	return jc.Succeed(map[string]any{
		"artifacts": artifacts,
		"citations": citationFileIDs(grounding),
	})
}

func artifactName(img generation.Image, i int) string {
	if img.Filename != "" {
		return img.Filename
	}
	return fmt.Sprintf("design-%02d.png", i)
}

func workflowFromPayload(payload map[string]any, fallback generation.Payload) (generation.Payload, error) {
	wf, ok := payload["workflow"]
	if !ok {
		if fallback != nil {
			return fallback.Clone(), nil
		}
		return nil, fmt.Errorf("missing workflow and no template configured")
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	return generation.LoadPayload(raw)
}

func citationFileIDs(res *services.RetrievalResult) []string {
	seen := map[uuid.UUID]bool{}
	out := []string{}
	for _, ch := range res.Chunks {
		if seen[ch.FileID] {
			continue
		}
		seen[ch.FileID] = true
		out = append(out, ch.FileID.String())
	}
	return out
}
