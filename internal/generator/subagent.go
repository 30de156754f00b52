// File: internal/generator/subagent.go

// Package generator synthesizes new tool definitions: subagent tools from an
// LLM design prompt, code tools mined from past trajectories, and the main
// agent configuration that binds the chosen tools together.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/llmutil"
)

const (
	// ToolPromptFilename designs the tool itself (name, signature, args).
	ToolPromptFilename = "generate_subagent_tool_prompt.txt"
	// PartsPromptFilename designs the tool's prompt templates.
	PartsPromptFilename = "generate_subagent_parts_prompt.txt"
)

// SubagentGenerator designs new subagent tools via the LLM, steering it away
// from the archive's existing tools through formatted feedback.
type SubagentGenerator struct {
	client      schemas.LLMClient
	promptDir   string
	temperature float64
	rng         *rand.Rand
	logger      *zap.Logger
}

func NewSubagentGenerator(client schemas.LLMClient, promptDir string, temperature float64, logger *zap.Logger) *SubagentGenerator {
	return &SubagentGenerator{
		client:      client,
		promptDir:   promptDir,
		temperature: temperature,
		rng:         rand.New(rand.NewSource(42)),
		logger:      logger.Named("subagent_generator"),
	}
}

// FormatFeedback lists every archive tool's name and docstring and, for up to
// two tools sampled proportional to their helpful rate, the full
// configuration with results. The feedback pushes the LLM toward a design
// different from everything already in the archive.
func (g *SubagentGenerator) FormatFeedback(arch *archive.Archive) string {
	if arch.Len() == 0 {
		return ""
	}

	summaries := make([]string, 0, arch.Len())
	for _, tool := range arch.Tools {
		summaries = append(summaries, fmt.Sprintf("%s: %s", tool.Name, tool.Docstring))
	}

	k := 2
	if arch.Len() < k {
		k = arch.Len()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Complete configs for sampled %d tools:\n", k)
	for _, tool := range g.sampleByHelpfulRate(arch.Tools, k) {
		fmt.Fprintf(&b, "Tool: %s\n", tool.Name)
		fmt.Fprintf(&b, "Signature: %s\n", tool.Signature)
		fmt.Fprintf(&b, "Docstring: %s\n", tool.Docstring)
		fmt.Fprintf(&b, "System template: %s\n", tool.SystemTemplate)
		fmt.Fprintf(&b, "Instance template: %s\n", tool.InstanceTemplate)
		if tool.N > 0 {
			fmt.Fprintf(&b, "RESULTS: %v%% of tasks where subagent was helpful\n", tool.HelpfulRate())
		} else {
			b.WriteString("RESULTS: N/A (no runs yet)\n")
		}
		if tool.SubagentInvokedCount > 0 && tool.AverageTokenCount > 0 {
			fmt.Fprintf(&b, "TOKEN USAGE: Average %.0f tokens per use\n", tool.AverageTokenCount)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nCRITICAL: Please create a subagent DIFFERENT from all previous tools:\n%s\n\n", strings.Join(summaries, "\n"))
	return b.String()
}

// sampleByHelpfulRate draws k tools without replacement, weighted by helpful
// rate, falling back to uniform weights when no tool has a positive rate.
func (g *SubagentGenerator) sampleByHelpfulRate(tools []*archive.Tool, k int) []*archive.Tool {
	pool := append([]*archive.Tool(nil), tools...)
	weights := make([]float64, len(pool))
	allZero := true
	for i, tool := range pool {
		weights[i] = tool.HelpfulRate()
		if weights[i] > 0 {
			allZero = false
		}
	}
	if allZero {
		for i := range weights {
			weights[i] = 1.0
		}
	}

	if k > len(pool) {
		k = len(pool)
	}
	sampled := make([]*archive.Tool, 0, k)
	for len(sampled) < k {
		total := 0.0
		for _, w := range weights {
			total += w
		}
		idx := len(pool) - 1
		if total > 0 {
			r := g.rng.Float64() * total
			for i, w := range weights {
				r -= w
				if r <= 0 {
					idx = i
					break
				}
			}
		}
		sampled = append(sampled, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
		weights = append(weights[:idx], weights[idx+1:]...)
	}
	return sampled
}

// GenerateNewTool runs the two-stage design: first the tool definition, then
// its prompt templates. The returned tool has a deduplicated name and its
// bundle already written to the archive's directory.
func (g *SubagentGenerator) GenerateNewTool(ctx context.Context, arch *archive.Archive, expNum int) (*archive.Tool, error) {
	feedback := g.FormatFeedback(arch)

	name, def, err := g.generateToolConfig(ctx, feedback)
	if err != nil {
		return nil, err
	}
	systemTemplate, instanceTemplate, err := g.generateParts(ctx, name, def, feedback)
	if err != nil {
		return nil, err
	}

	uniqueName := DeduplicateToolName(name, arch)
	tool := &archive.Tool{
		Name:             uniqueName,
		Signature:        stringField(def, "signature"),
		Docstring:        stringField(def, "docstring"),
		Arguments:        argumentList(def["arguments"]),
		BundleDir:        filepath.Join(arch.OutputDir(), uniqueName),
		Subagent:         true,
		SystemTemplate:   systemTemplate,
		InstanceTemplate: instanceTemplate,
		ExpNum:           expNum,
	}
	if err := tool.WriteBundle(); err != nil {
		return nil, fmt.Errorf("failed to write bundle for %s: %w", uniqueName, err)
	}
	g.logger.Info("Generated new subagent tool", zap.String("name", uniqueName), zap.Int("exp_num", expNum))
	return tool, nil
}

func (g *SubagentGenerator) generateToolConfig(ctx context.Context, feedback string) (string, map[string]any, error) {
	prompt, err := g.readPrompt(ToolPromptFilename)
	if err != nil {
		return "", nil, err
	}
	response, err := g.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt + feedback,
		Tier:       schemas.TierPowerful,
		Options:    schemas.GenerationOptions{Temperature: g.temperature},
	})
	if err != nil {
		return "", nil, fmt.Errorf("subagent tool generation failed: %w", err)
	}

	parsed, err := llmutil.ExtractYAML(response, "")
	if err != nil {
		return "", nil, fmt.Errorf("subagent tool response unparseable: %w", err)
	}
	for name, raw := range parsed {
		def, ok := raw.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("tool definition for %q is not a mapping", name)
		}
		return name, def, nil
	}
	return "", nil, fmt.Errorf("tool response contained no definition")
}

func (g *SubagentGenerator) generateParts(ctx context.Context, name string, def map[string]any, feedback string) (string, string, error) {
	prompt, err := g.readPrompt(PartsPromptFilename)
	if err != nil {
		return "", "", err
	}
	defYAML, err := yaml.Marshal(map[string]any{name: def})
	if err != nil {
		return "", "", fmt.Errorf("failed to render tool config: %w", err)
	}

	full := prompt + feedback +
		"Tool configuration to generate templates for:\n\n" + string(defYAML) + "\n\n"
	response, err := g.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: full,
		Tier:       schemas.TierPowerful,
		Options:    schemas.GenerationOptions{Temperature: g.temperature},
	})
	if err != nil {
		return "", "", fmt.Errorf("subagent template generation failed: %w", err)
	}

	templates, err := llmutil.ParseYAMLResponse[struct {
		SystemTemplate   string `yaml:"system_template"`
		InstanceTemplate string `yaml:"instance_template"`
	}](response)
	if err != nil {
		return "", "", fmt.Errorf("subagent template response unparseable: %w", err)
	}
	if templates.SystemTemplate == "" || templates.InstanceTemplate == "" {
		return "", "", fmt.Errorf("subagent template response missing system or instance template")
	}
	return templates.SystemTemplate, templates.InstanceTemplate, nil
}

func (g *SubagentGenerator) readPrompt(filename string) (string, error) {
	return readPromptFile(g.promptDir, filename)
}

// DeduplicateToolName appends a numeric suffix until the name is unique
// within the archive.
func DeduplicateToolName(name string, arch *archive.Archive) string {
	existing := make(map[string]struct{}, arch.Len())
	for _, tool := range arch.Tools {
		existing[tool.Name] = struct{}{}
	}
	base := name
	for idx := 1; ; idx++ {
		if _, taken := existing[name]; !taken {
			return name
		}
		name = fmt.Sprintf("%s_%02d", base, idx)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func argumentList(raw any) []map[string]any {
	list, _ := raw.([]any)
	args := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			args = append(args, m)
		}
	}
	return args
}
