package generation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the request body submitted to a serverless ComfyUI worker:
// {"input": {"workflow": {...}, "images": [...]}}.
type Payload map[string]any

// LoadPayload normalizes a workflow JSON export into a submittable payload.
// Accepts an already-wrapped payload, a document carrying the node graph
// under "workflow", a graphToPrompt export carrying it under "prompt" or
// "output", or a bare node graph.
func LoadPayload(raw []byte) (Payload, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid workflow JSON: %w", err)
	}

	if _, ok := data["input"]; ok {
		return Payload(data), nil
	}
	if wf, ok := data["workflow"].(map[string]any); ok {
		return Payload{"input": map[string]any{"workflow": wf}}, nil
	}
	if prompt, ok := data["prompt"].(map[string]any); ok {
		return Payload{"input": map[string]any{"workflow": prompt}}, nil
	}
	if output, ok := data["output"].(map[string]any); ok {
		return Payload{"input": map[string]any{"workflow": output}}, nil
	}
	return Payload{"input": map[string]any{"workflow": data}}, nil
}

func (p Payload) input() map[string]any {
	in, _ := p["input"].(map[string]any)
	return in
}

// Clone deep-copies the payload so patching one run does not leak into the
// shared template.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Workflow returns the node graph, or nil when the payload has none.
func (p Payload) Workflow() map[string]any {
	in := p.input()
	if in == nil {
		return nil
	}
	wf, _ := in["workflow"].(map[string]any)
	return wf
}

// Sanitize strips entries an older worker would misread as nodes and rejects
// frontend-format exports outright. Returns the removed keys.
func (p Payload) Sanitize() ([]string, error) {
	wf := p.Workflow()
	if wf == nil {
		return nil, nil
	}

	_, hasNodes := wf["nodes"].([]any)
	_, hasLinks := wf["links"].([]any)
	if hasNodes && hasLinks {
		return nil, fmt.Errorf("frontend workflow JSON detected (contains nodes/links); export the API prompt format instead")
	}

	var removed []string
	for key, value := range wf {
		if node, ok := value.(map[string]any); ok {
			if _, ok := node["class_type"]; ok {
				continue
			}
		}
		if strings.HasPrefix(key, "#") || key == "config" || key == "definitions" {
			removed = append(removed, key)
			delete(wf, key)
		}
	}

	if len(wf) == 0 {
		return removed, fmt.Errorf("workflow has no executable nodes after sanitization")
	}
	return removed, nil
}

// PatchPositivePrompt replaces the text of every CLIPTextEncode node whose
// title contains "positive". Returns how many nodes changed.
func (p Payload) PatchPositivePrompt(prompt string) int {
	wf := p.Workflow()
	if wf == nil {
		return 0
	}

	changed := 0
	for _, value := range wf {
		node, ok := value.(map[string]any)
		if !ok || node["class_type"] != "CLIPTextEncode" {
			continue
		}
		meta, _ := node["_meta"].(map[string]any)
		title, _ := meta["title"].(string)
		if !strings.Contains(strings.ToLower(title), "positive") {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := inputs["text"]; ok {
			inputs["text"] = prompt
			changed++
		}
	}
	return changed
}

// CoerceSeeds converts seed inputs given as numeric strings into numbers,
// which some workers reject as-is. Returns how many inputs changed.
func (p Payload) CoerceSeeds() int {
	wf := p.Workflow()
	if wf == nil {
		return 0
	}

	changed := 0
	for _, value := range wf {
		node, ok := value.(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		for name, raw := range inputs {
			if name != "seed" && name != "noise_seed" {
				continue
			}
			s, ok := raw.(string)
			if !ok {
				continue
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				inputs[name] = float64(n)
				changed++
			}
		}
	}
	return changed
}

// AttachInputImage adds an input image as a data URI so LoadImage nodes can
// reference it by name.
func (p Payload) AttachInputImage(name string, data []byte, mimeType string) {
	in := p.input()
	if in == nil {
		in = map[string]any{}
		p["input"] = in
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	images, _ := in["images"].([]any)
	in["images"] = append(images, map[string]any{
		"name":  name,
		"image": fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	})
}
