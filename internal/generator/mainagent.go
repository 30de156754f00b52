// File: internal/generator/mainagent.go
package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
)

// PlanPromptFilename generates the numbered plan injected into the main
// agent's instance template.
const PlanPromptFilename = "generate_main_instance_template.txt"

const fallbackPlan = `1. Analyze the <pr_description> and outline the subtasks needed.
2. Use subagents to read and extract relevant code.
3. Use subagents to run commands (e.g., executing a reproduction script to confirm the error).
4. Use subagents to edit the source code to fix the issue.
   - Use ` + "`str_replace_editor`" + ` only for trivial, single-line fixes.
   - For anything larger, rely on subagents to handle the edits.
5. Use subagents to rerun the reproduction script and verify the fix.
6. Reflect on edge cases and ensure your fix handles them.
7. After you have solved the issue, use the submit tool to submit the changes to the repository.`

// MainAgentGenerator builds a complete main agent configuration: chosen
// bundles prepended to the template's bundle list, plus an LLM-generated
// numbered plan injected into the instance template. All other template
// fields pass through untouched.
type MainAgentGenerator struct {
	client      schemas.LLMClient
	promptDir   string
	temperature float64
	logger      *zap.Logger
}

func NewMainAgentGenerator(client schemas.LLMClient, promptDir string, temperature float64, logger *zap.Logger) *MainAgentGenerator {
	return &MainAgentGenerator{
		client:      client,
		promptDir:   promptDir,
		temperature: temperature,
		logger:      logger.Named("main_agent_generator"),
	}
}

// GenerateAgentConfig returns a deep copy of baseConfig with bundles and plan
// applied. A plan-generation failure falls back to the static plan; only a
// structural failure returns an error, letting the caller fall back to the
// plain template merge path.
func (m *MainAgentGenerator) GenerateAgentConfig(ctx context.Context, baseConfig map[string]any, tools []*archive.Tool) (map[string]any, error) {
	cfg, err := deepCopyConfig(baseConfig)
	if err != nil {
		return nil, err
	}
	addBundles(cfg, tools)

	plan, err := m.generatePlan(ctx, tools)
	if err != nil {
		m.logger.Warn("Plan generation failed, using fallback plan", zap.Error(err))
		plan = fallbackPlan
	}
	injectPlan(cfg, plan)
	return cfg, nil
}

func (m *MainAgentGenerator) generatePlan(ctx context.Context, tools []*archive.Tool) (string, error) {
	promptData, err := readPromptFile(m.promptDir, PlanPromptFilename)
	if err != nil {
		return "", err
	}
	prompt := strings.ReplaceAll(promptData, "{{subagents_overview}}", renderToolOverview(tools))

	plan, err := m.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Tier:       schemas.TierPowerful,
		Options:    schemas.GenerationOptions{Temperature: m.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", fmt.Errorf("plan generation returned an empty response")
	}
	return plan, nil
}

// renderToolOverview documents each tool the way command docs are presented
// to the agent: signature, docstring, then arguments.
func renderToolOverview(tools []*archive.Tool) string {
	var b strings.Builder
	for _, tool := range tools {
		fmt.Fprintf(&b, "%s:\n", tool.Name)
		if tool.Signature != "" {
			fmt.Fprintf(&b, "  signature: %s\n", tool.Signature)
		}
		fmt.Fprintf(&b, "  docstring: %s\n", tool.Docstring)
		if len(tool.Arguments) > 0 {
			b.WriteString("  arguments:\n")
			for _, arg := range tool.Arguments {
				name, _ := arg["name"].(string)
				argType, _ := arg["type"].(string)
				desc, _ := arg["description"].(string)
				required, _ := arg["required"].(bool)
				fmt.Fprintf(&b, "    - %s (%s) [required: %v]: %s\n", name, argType, required, desc)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func addBundles(cfg map[string]any, tools []*archive.Tool) {
	agent, _ := cfg["agent"].(map[string]any)
	if agent == nil {
		agent = map[string]any{}
		cfg["agent"] = agent
	}
	toolsCfg, _ := agent["tools"].(map[string]any)
	if toolsCfg == nil {
		toolsCfg = map[string]any{}
		agent["tools"] = toolsCfg
	}
	existing, _ := toolsCfg["bundles"].([]any)

	bundles := make([]any, 0, len(tools)+len(existing))
	for _, tool := range tools {
		bundles = append(bundles, tool.BundleEntry())
	}
	bundles = append(bundles, existing...)
	toolsCfg["bundles"] = bundles
}

func injectPlan(cfg map[string]any, plan string) {
	agent, _ := cfg["agent"].(map[string]any)
	if agent == nil {
		agent = map[string]any{}
		cfg["agent"] = agent
	}
	templates, _ := agent["templates"].(map[string]any)
	if templates == nil {
		templates = map[string]any{}
		agent["templates"] = templates
	}
	instanceTemplate, _ := templates["instance_template"].(string)
	templates["instance_template"] = strings.ReplaceAll(instanceTemplate, "{{plan}}", plan)
}

func deepCopyConfig(cfg map[string]any) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to copy agent config: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy agent config: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func readPromptFile(dir, filename string) (string, error) {
	path := filepath.Join(dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return string(data), nil
}
