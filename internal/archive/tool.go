// File: internal/archive/tool.go
package archive

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/internal/config"
)

// Tool is a single entry in an archive. A subagent tool carries prompt
// templates for a delegated agent; a code tool carries the mined scripts in
// CodeDict. Both are materialized on disk as a bundle directory that the
// coding agent consumes directly.
type Tool struct {
	Name      string           `json:"name"`
	Signature string           `json:"signature"`
	Docstring string           `json:"docstring"`
	Arguments []map[string]any `json:"arguments"`
	BundleDir string           `json:"bundle_dir"`
	Subagent  bool             `json:"subagent"`

	SystemTemplate   string            `json:"system_template"`
	InstanceTemplate string            `json:"instance_template"`
	CodeDict         map[string]string `json:"code_dict"`

	// Bandit statistics.
	N            int `json:"n"`
	Successes    int `json:"successes"`
	HelpfulCount int `json:"helpful_count"`

	ExpNum               int     `json:"exp_num"`
	TotalTokenCount      int     `json:"total_token_count"`
	SubagentInvokedCount int     `json:"subagent_invoked_count"`
	AverageTokenCount    float64 `json:"average_token_count"`
}

// MeanReward returns the empirical reward for the configured signal. A tool
// that has never been attached to an experiment scores zero.
func (t *Tool) MeanReward(signal config.RewardSignal) float64 {
	if t.N == 0 {
		return 0.0
	}
	if signal == config.RewardResolved {
		return float64(t.Successes) / float64(t.N)
	}
	return float64(t.HelpfulCount) / float64(t.N)
}

// UCBScore returns the upper-confidence-bound score at the given bandit step.
// Step zero means no experiment has completed yet, so every tool is maximally
// attractive. A tool with no trials gets the same default score; its
// exploration bonus is undefined, and the score must stay finite because it
// is serialized into every archive snapshot.
func (t *Tool) UCBScore(step int, signal config.RewardSignal) float64 {
	if step == 0 || t.N == 0 {
		return 1.0
	}
	bonus := math.Sqrt(2 * math.Log(float64(step)) / float64(t.N))
	return t.MeanReward(signal) + bonus
}

// HelpfulRate returns the fraction of attached experiments in which the
// judge found the tool helpful.
func (t *Tool) HelpfulRate() float64 {
	if t.N == 0 {
		return 0.0
	}
	return float64(t.HelpfulCount) / float64(t.N)
}

// RecordTokenUsage folds one subagent invocation's token count into the
// running average. The bandit trial count N is tracked separately per
// instance by the evolution engine.
func (t *Tool) RecordTokenUsage(tokenCount int) {
	t.TotalTokenCount += tokenCount
	t.SubagentInvokedCount++
	t.AverageTokenCount = float64(t.TotalTokenCount) / float64(t.SubagentInvokedCount)
}

// BundleEntry returns the agent-config fragment referencing this tool's
// bundle directory.
func (t *Tool) BundleEntry() map[string]any {
	return map[string]any{"path": t.BundleDir}
}

// WriteBundle materializes the bundle directory:
//
//	bundle_dir/
//	    bin/<name>
//	    install.sh
//	    config.yaml
//	    templates.yaml
//
// Existing bin and install.sh contents are preserved; the YAML files are
// rewritten from the tool's current state.
func (t *Tool) WriteBundle() error {
	binDir := filepath.Join(t.BundleDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle bin directory: %w", err)
	}
	// Code tools carry their mined script and install steps in CodeDict;
	// subagent tools only need the stub files present.
	if err := writeOrTouch(filepath.Join(binDir, t.Name), t.CodeDict["code"]); err != nil {
		return fmt.Errorf("failed to write tool binary: %w", err)
	}
	if err := writeOrTouch(filepath.Join(t.BundleDir, "install.sh"), t.CodeDict["install_script"]); err != nil {
		return fmt.Errorf("failed to write install script: %w", err)
	}

	cfg := map[string]any{
		"tools": map[string]any{
			t.Name: map[string]any{
				"arguments": t.Arguments,
				"docstring": t.Docstring,
				"signature": t.Signature,
				"subagent":  t.Subagent,
			},
		},
	}
	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal tool config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.BundleDir, "config.yaml"), cfgBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}

	templates := map[string]string{
		"system_template":   t.SystemTemplate,
		"instance_template": t.InstanceTemplate,
	}
	tmplBytes, err := yaml.Marshal(templates)
	if err != nil {
		return fmt.Errorf("failed to marshal tool templates: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.BundleDir, "templates.yaml"), tmplBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write templates.yaml: %w", err)
	}
	return nil
}

func writeOrTouch(path, content string) error {
	if content != "" {
		return os.WriteFile(path, []byte(content), 0o755)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	return f.Close()
}
