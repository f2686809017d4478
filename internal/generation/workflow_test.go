package generation

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLoadPayloadWrapping(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bare node graph", `{"3": {"class_type": "KSampler", "inputs": {}}}`},
		{"already wrapped", `{"input": {"workflow": {"3": {"class_type": "KSampler", "inputs": {}}}}}`},
		{"workflow keyed", `{"workflow": {"3": {"class_type": "KSampler", "inputs": {}}}}`},
		{"prompt export", `{"prompt": {"3": {"class_type": "KSampler", "inputs": {}}}}`},
		{"output export", `{"output": {"3": {"class_type": "KSampler", "inputs": {}}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := LoadPayload([]byte(tc.raw))
			if err != nil {
				t.Fatalf("LoadPayload: %v", err)
			}
			wf := p.Workflow()
			if wf == nil {
				t.Fatal("payload has no workflow")
			}
			if _, ok := wf["3"]; !ok {
				t.Fatalf("workflow lost node: %v", wf)
			}
		})
	}

	if _, err := LoadPayload([]byte("#!/usr/bin/env python3")); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestSanitize(t *testing.T) {
	p, _ := LoadPayload([]byte(`{
		"3": {"class_type": "KSampler", "inputs": {}},
		"config": {"version": 1},
		"#comment": {"note": "hi"}
	}`))

	removed, err := p.Sanitize()
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want config and #comment", removed)
	}
	if _, ok := p.Workflow()["3"]; !ok {
		t.Fatal("real node removed")
	}
}

func TestSanitizeRejectsFrontendFormat(t *testing.T) {
	p, _ := LoadPayload([]byte(`{"nodes": [{"id": 1}], "links": [[1, 2]]}`))
	if _, err := p.Sanitize(); err == nil {
		t.Fatal("expected error for frontend workflow format")
	}
}

func TestPatchPositivePrompt(t *testing.T) {
	p, _ := LoadPayload([]byte(`{
		"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive Prompt"}, "inputs": {"text": "old"}},
		"7": {"class_type": "CLIPTextEncode", "_meta": {"title": "Negative Prompt"}, "inputs": {"text": "bad hands"}}
	}`))

	if changed := p.PatchPositivePrompt("a quiet harbor at dawn"); changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	wf := p.Workflow()
	pos := wf["6"].(map[string]any)["inputs"].(map[string]any)["text"]
	neg := wf["7"].(map[string]any)["inputs"].(map[string]any)["text"]
	if pos != "a quiet harbor at dawn" {
		t.Fatalf("positive text = %v", pos)
	}
	if neg != "bad hands" {
		t.Fatalf("negative text changed: %v", neg)
	}
}

func TestCoerceSeeds(t *testing.T) {
	p, _ := LoadPayload([]byte(`{
		"3": {"class_type": "KSampler", "inputs": {"seed": "123456", "steps": "20"}},
		"4": {"class_type": "SamplerCustom", "inputs": {"noise_seed": "987"}}
	}`))

	if changed := p.CoerceSeeds(); changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	wf := p.Workflow()
	seed := wf["3"].(map[string]any)["inputs"].(map[string]any)["seed"]
	if _, ok := seed.(float64); !ok {
		t.Fatalf("seed still %T", seed)
	}
	// Non-seed numeric strings are left alone.
	steps := wf["3"].(map[string]any)["inputs"].(map[string]any)["steps"]
	if _, ok := steps.(string); !ok {
		t.Fatalf("steps coerced unexpectedly: %T", steps)
	}
}

func TestAttachInputImage(t *testing.T) {
	p, _ := LoadPayload([]byte(`{"3": {"class_type": "LoadImage", "inputs": {"image": "ref.png"}}}`))
	p.AttachInputImage("ref.png", []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if !strings.Contains(string(raw), `"data:image/png;base64,`) {
		t.Fatalf("payload missing data URI: %s", raw)
	}
}
