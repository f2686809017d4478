package generation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPayloadFile reads a workflow template from disk. Templates ship as the
// JSON exported from the workflow editor or as a YAML rendition of the same
// graph.
func LoadPayloadFile(path string) (Payload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse workflow template %s: %w", path, err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalize workflow template %s: %w", path, err)
		}
	}
	payload, err := LoadPayload(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow template %s: %w", path, err)
	}
	return payload, nil
}
