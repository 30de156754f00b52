// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExtractYAML parses the YAML document an LLM response carries, handling the
// common formatting variants: a ```yaml fenced block, a bare ``` fenced
// block, or unfenced YAML. The parsed document must be a mapping; when
// expectedTopKey is non-empty it must be present at the top level.
func ExtractYAML(response string, expectedTopKey string) (map[string]any, error) {
	content, err := stripFences(strings.TrimSpace(response))
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid YAML: %w", err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("response parsed to an empty document")
	}
	if expectedTopKey != "" {
		if _, ok := parsed[expectedTopKey]; !ok {
			return nil, fmt.Errorf("response missing %q key", expectedTopKey)
		}
	}
	return parsed, nil
}

// ParseYAMLResponse parses an LLM response into a typed value, with the same
// fence handling as ExtractYAML.
func ParseYAMLResponse[T any](response string) (*T, error) {
	content, err := stripFences(strings.TrimSpace(response))
	if err != nil {
		return nil, err
	}
	var result T
	if err := yaml.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("response is not valid YAML: %w", err)
	}
	return &result, nil
}

func stripFences(content string) (string, error) {
	const fence = "```"
	if idx := strings.Index(content, fence+"yaml"); idx != -1 {
		start := idx + len(fence) + len("yaml")
		end := strings.Index(content[start:], fence)
		if end == -1 {
			return "", fmt.Errorf("malformed yaml code block")
		}
		return strings.TrimSpace(content[start : start+end]), nil
	}
	if idx := strings.Index(content, fence); idx != -1 {
		start := idx + len(fence)
		end := strings.Index(content[start:], fence)
		if end == -1 {
			return "", fmt.Errorf("malformed code block")
		}
		return strings.TrimSpace(content[start : start+end]), nil
	}
	return content, nil
}
