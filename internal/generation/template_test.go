package generation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPayloadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	content := `
workflow:
  "3":
    class_type: KSampler
    inputs:
      seed: 42
  "6":
    class_type: CLIPTextEncode
    _meta:
      title: Positive Prompt
    inputs:
      text: placeholder
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	payload, err := LoadPayloadFile(path)
	if err != nil {
		t.Fatalf("LoadPayloadFile: %v", err)
	}
	wf := payload.Workflow()
	if _, ok := wf["3"]; !ok {
		t.Fatal("workflow lost node 3")
	}
	if n := payload.PatchPositivePrompt("a lighthouse at dusk"); n != 1 {
		t.Fatalf("PatchPositivePrompt patched %d nodes, want 1", n)
	}
}

func TestLoadPayloadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.json")
	content := `{"3": {"class_type": "KSampler", "inputs": {"seed": "99"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	payload, err := LoadPayloadFile(path)
	if err != nil {
		t.Fatalf("LoadPayloadFile: %v", err)
	}
	if _, ok := payload.Workflow()["3"]; !ok {
		t.Fatal("bare graph not wrapped")
	}
}

func TestLoadPayloadFileMissing(t *testing.T) {
	if _, err := LoadPayloadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
