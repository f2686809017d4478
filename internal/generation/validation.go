package generation

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationIssue is one fixable input problem reported by the worker's
// workflow validation.
type ValidationIssue struct {
	NodeID        string
	ClassType     string
	InputName     string
	ReceivedValue string
	Choices       []string
}

var (
	nodeErrorsPattern = regexp.MustCompile(`^\s*• Node (\S+) \(errors\): (.+)$`)
	nodeClassPattern  = regexp.MustCompile(`^\s*• Node (\S+) \(class_type\): (.+)$`)

	inputNamePattern   = regexp.MustCompile(`'input_name':\s*'([^']+)'`)
	receivedValPattern = regexp.MustCompile(`'received_value':\s*'([^']*)'`)
	inputConfigPattern = regexp.MustCompile(`'input_config':\s*\[\[([^\]]*)\]`)
	quotedItemPattern  = regexp.MustCompile(`'([^']+)'`)
)

// ParseValidationIssues pulls structured issues out of the worker's
// free-text validation failure. The error body embeds Python-repr dicts, so
// the extraction is regex-based rather than a full parse.
func ParseValidationIssues(errorText string) []ValidationIssue {
	if !strings.Contains(errorText, "Workflow validation failed") {
		return nil
	}

	nodeErrors := map[string]string{}
	nodeClass := map[string]string{}
	var order []string

	for _, line := range strings.Split(errorText, "\n") {
		if m := nodeErrorsPattern.FindStringSubmatch(line); m != nil {
			if _, seen := nodeErrors[m[1]]; !seen {
				order = append(order, m[1])
			}
			nodeErrors[m[1]] = strings.TrimSpace(m[2])
			continue
		}
		if m := nodeClassPattern.FindStringSubmatch(line); m != nil {
			nodeClass[m[1]] = strings.TrimSpace(m[2])
		}
	}

	var issues []ValidationIssue
	for _, nodeID := range order {
		blob := nodeErrors[nodeID]

		nameM := inputNamePattern.FindStringSubmatch(blob)
		if nameM == nil {
			continue
		}

		issue := ValidationIssue{
			NodeID:    nodeID,
			ClassType: nodeClass[nodeID],
			InputName: nameM[1],
		}
		if issue.ClassType == "" {
			issue.ClassType = "Unknown"
		}
		if m := receivedValPattern.FindStringSubmatch(blob); m != nil {
			issue.ReceivedValue = m[1]
		}
		if m := inputConfigPattern.FindStringSubmatch(blob); m != nil {
			for _, item := range quotedItemPattern.FindAllStringSubmatch(m[1], -1) {
				issue.Choices = append(issue.Choices, item[1])
			}
		}
		issues = append(issues, issue)
	}
	return issues
}

var modelDirByClass = map[string]string{
	"UNETLoader":             "models/unet",
	"CLIPLoader":             "models/clip",
	"VAELoader":              "models/vae",
	"CheckpointLoaderSimple": "models/checkpoints",
	"DualCLIPLoader":         "models/clip",
}

// ApplyValidationFallbacks rewrites each fixable input to the worker's first
// offered choice. Issues with no choices cannot be fixed client-side; they
// come back as missing-model messages.
func ApplyValidationFallbacks(p Payload, issues []ValidationIssue) (patched, missing []string) {
	wf := p.Workflow()
	if wf == nil {
		return nil, nil
	}

	for _, issue := range issues {
		node, ok := wf[issue.NodeID].(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}

		if len(issue.Choices) > 0 {
			newValue := issue.Choices[0]
			if inputs[issue.InputName] != newValue {
				old := inputs[issue.InputName]
				inputs[issue.InputName] = newValue
				patched = append(patched, fmt.Sprintf("node %s (%s) %s: %v -> %q",
					issue.NodeID, issue.ClassType, issue.InputName, old, newValue))
			}
			continue
		}

		dir := modelDirByClass[issue.ClassType]
		if dir == "" {
			dir = "models/<unknown>"
		}
		missing = append(missing, fmt.Sprintf("node %s (%s) %s: required=%q, available=[] (put model under %s)",
			issue.NodeID, issue.ClassType, issue.InputName, issue.ReceivedValue, dir))
	}
	return patched, missing
}
