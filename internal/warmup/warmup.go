// File: internal/warmup/warmup.go

// Package warmup refines newly created subagent tools before they enter
// bandit competition: each tool runs alone against sampled instances and an
// LLM refiner rewrites its prompts from the resulting trajectories.
package warmup

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/experiment"
	"github.com/xkilldash9x/toolforge/internal/instances"
	"github.com/xkilldash9x/toolforge/internal/llmutil"
	"github.com/xkilldash9x/toolforge/internal/trajectory"
)

// RefinePromptFilename holds the refiner prompt template.
const RefinePromptFilename = "evolve_subagent_from_warmup.txt"

// Params configures the warmup engine.
type Params struct {
	Client      schemas.LLMClient
	Runner      schemas.AgentRunner
	Iterations  int
	Concurrency int // Cap on tools warmed concurrently.
	OutputDir   string
	PromptDir   string
	TemplateDir string
	Logger      *zap.Logger
}

// Engine owns the warmup loop. A single engine may warm several tools
// concurrently; the rng guarding instance sampling is the only shared state.
type Engine struct {
	p      Params
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEngine(p Params) *Engine {
	return &Engine{
		p:      p,
		logger: p.Logger.Named("warmup"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WarmupAll refines every tool on a bounded worker pool. Each worker owns one
// tool's full warmup sequence; a failed warmup leaves that tool as-is and is
// logged, never propagated.
func (e *Engine) WarmupAll(ctx context.Context, tools []*archive.Tool, pool *instances.Source) {
	if len(tools) == 0 || e.p.Iterations <= 0 {
		return
	}

	limit := e.p.Concurrency
	if limit <= 0 || limit > len(tools) {
		limit = len(tools)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, tool := range tools {
		tool := tool
		g.Go(func() error {
			if err := e.Run(gctx, tool, pool); err != nil {
				e.logger.Warn("Warmup failed, tool enters the pool unrefined",
					zap.String("tool", tool.Name), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
}

// Run performs the sequential warmup loop for one tool: sample an instance,
// run the agent with only this tool bundled, then ask the refiner for
// updates and apply them in place. Refinement failures within an iteration
// are swallowed so later iterations still run.
func (e *Engine) Run(ctx context.Context, tool *archive.Tool, pool *instances.Source) error {
	warmupDir := filepath.Join(e.p.OutputDir, "warmup", tool.Name)
	if err := os.MkdirAll(warmupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create warmup dir for %s: %w", tool.Name, err)
	}

	for iteration := 1; iteration <= e.p.Iterations; iteration++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		iterationDir := filepath.Join(warmupDir, fmt.Sprintf("iteration_%03d", iteration))
		if err := os.MkdirAll(iterationDir, 0o755); err != nil {
			return fmt.Errorf("failed to create warmup iteration dir: %w", err)
		}

		e.mu.Lock()
		sample := pool.SampleOne(e.rng)
		e.mu.Unlock()

		exp, err := experiment.New(experiment.Params{
			EvolutionOutputDir: iterationDir,
			ExpNum:             1,
			ChosenTools:        []*archive.Tool{tool},
			Instances:          sample,
			TemplateDir:        e.p.TemplateDir,
			Runner:             e.p.Runner,
			NumWorkers:         1,
			Logger:             e.logger,
		})
		if err != nil {
			return fmt.Errorf("warmup iteration %d setup failed for %s: %w", iteration, tool.Name, err)
		}
		if err := exp.RunAgent(ctx); err != nil {
			return fmt.Errorf("warmup iteration %d agent run failed for %s: %w", iteration, tool.Name, err)
		}

		trajPaths, err := trajectory.CollectPaths(iterationDir)
		if err != nil || len(trajPaths) == 0 {
			e.logger.Warn("No warmup trajectories produced",
				zap.String("tool", tool.Name), zap.Int("iteration", iteration), zap.Error(err))
			continue
		}
		summary, err := trajectory.FormatFiles(trajPaths)
		if err != nil {
			e.logger.Warn("Failed to format warmup trajectories",
				zap.String("tool", tool.Name), zap.Error(err))
			continue
		}

		updates, err := e.refine(ctx, tool, summary)
		if err != nil {
			e.logger.Warn("Tool refinement failed, no edits made",
				zap.String("tool", tool.Name), zap.Int("iteration", iteration), zap.Error(err))
			continue
		}
		if err := e.applyUpdates(tool, updates, iterationDir); err != nil {
			e.logger.Warn("Failed to apply refinement updates",
				zap.String("tool", tool.Name), zap.Error(err))
		}
	}
	return nil
}

// refine asks the LLM for an updates document describing prompt edits.
func (e *Engine) refine(ctx context.Context, tool *archive.Tool, trajectoriesSummary string) (map[string]any, error) {
	promptPath := filepath.Join(e.p.PromptDir, RefinePromptFilename)
	promptData, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read refiner prompt %s: %w", promptPath, err)
	}

	prompt := string(promptData) +
		"\n\n===SUBAGENT TO IMPROVE===\n\n" + describeTool(tool) +
		"=== TRAJECTORY SUMMARIES START ===\n\n" + trajectoriesSummary

	response, err := e.p.Client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Tier:       schemas.TierPowerful,
		Options:    schemas.GenerationOptions{Temperature: 1.0},
	})
	if err != nil {
		return nil, fmt.Errorf("refiner call failed: %w", err)
	}
	return llmutil.ExtractYAML(response, "updates")
}

// applyUpdates writes the recognized fields onto the tool, rewrites its
// bundle, and logs a before/after snapshot into the iteration directory.
func (e *Engine) applyUpdates(tool *archive.Tool, parsed map[string]any, logDir string) error {
	updates, _ := parsed["updates"].(map[string]any)
	if updates == nil {
		return nil
	}

	before := map[string]any{
		"tool_name":         tool.Name,
		"docstring":         tool.Docstring,
		"instance_template": tool.InstanceTemplate,
	}

	if docstring, ok := updates["docstring"].(string); ok {
		tool.Docstring = docstring
	}
	if desc, ok := updates["context_description"].(string); ok {
		for _, arg := range tool.Arguments {
			if arg["name"] == "context" {
				before["context_description"] = arg["description"]
				arg["description"] = desc
				break
			}
		}
	}
	if instanceTemplate, ok := updates["instance_template"].(string); ok {
		tool.InstanceTemplate = instanceTemplate
	}

	if err := tool.WriteBundle(); err != nil {
		return fmt.Errorf("failed to rewrite bundle for %s: %w", tool.Name, err)
	}

	if err := writeYAML(filepath.Join(logDir, "subagent_before.yaml"), map[string]any{"before": before}); err != nil {
		return err
	}
	return writeYAML(filepath.Join(logDir, "updates.yaml"), parsed)
}

func describeTool(tool *archive.Tool) string {
	desc := map[string]any{
		"name":              tool.Name,
		"signature":         tool.Signature,
		"docstring":         tool.Docstring,
		"arguments":         tool.Arguments,
		"system_template":   tool.SystemTemplate,
		"instance_template": tool.InstanceTemplate,
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return tool.Name
	}
	return string(data)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
