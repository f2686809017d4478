package generate_itinerary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

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
	keywords := stringList(jc.Payload(), "destinations")

	jc.Progress(10, "Retrieving travel knowledge")
	grounding, err := p.retrieval.RetrieveWithKeywords(
		jc.Ctx, jc.Job.OwnerUserID, prompt, keywords, packIDs, services.RetrievalOptions{})
	if err != nil {
		jc.Fail("retrieve", err)
		return nil
	}

	fullPrompt := prompt
	if grounding.Context != services.NoKnowledgeFoundContext {
		fullPrompt = prompt + "\n\nUse the following traveler knowledge:\n" + grounding.Context
	}

	jc.Progress(30, "Generating itinerary")
	result, err := p.gen.Generate(jc.Ctx, workflow, generation.GenerateOptions{Prompt: fullPrompt})
	if err != nil {
		jc.Fail("generate", err)
		return nil
	}
	if len(result.Images) == 0 {
		jc.Fail("generate", fmt.Errorf("generation returned no artifacts"))
		return nil
	}

	jc.Progress(85, "Uploading itinerary artifact")
	artifact := result.Images[0]
	key := fmt.Sprintf("itineraries/%s/%s/%s",
		jc.Job.OwnerUserID.String(), jc.Job.ID.String(), artifactName(artifact))
	if len(artifact.Data) > 0 {
		if err := p.bucket.UploadFile(jc.Ctx, key, bytes.NewReader(artifact.Data), "image/png"); err != nil {
			jc.Fail("upload", err)
			return nil
		}
	} else {
		key = ""
	}

	output := map[string]any{
		"citations": citationFileIDs(grounding),
	}
	if key != "" {
		output["storage_key"] = key
		output["url"] = p.bucket.GetPublicURL(key)
	}
	if artifact.URL != "" {
		output["artifact_url"] = artifact.URL
	}
	return jc.Succeed(output)
}

func artifactName(img generation.Image) string {
	if img.Filename != "" {
		return img.Filename
	}
	return "itinerary.png"
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

func stringList(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
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
