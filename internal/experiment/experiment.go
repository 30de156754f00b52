// File: internal/experiment/experiment.go

// Package experiment materializes one iteration's trial: the on-disk agent
// configuration for a fixed set of chosen tools, the agent batch run over
// sampled instances, and the evaluation of the produced patches.
package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/instances"
)

// MetaFilename holds the chosen-tools summary written after a successful run.
const MetaFilename = "experiment.json"

// Params configures one experiment.
type Params struct {
	EvolutionOutputDir  string
	ExpNum              int
	ChosenTools         []*archive.Tool
	Instances           *instances.Source
	TemplateDir         string
	DesignedAgentConfig map[string]any // Optional fully pre-built agent config.
	Runner              schemas.AgentRunner
	Evaluator           schemas.PatchEvaluator
	NumWorkers          int
	Logger              *zap.Logger
}

// Experiment is one realized trial with its on-disk layout prepared.
type Experiment struct {
	params Params
	logger *zap.Logger

	experimentDir      string
	trajectoryDir      string
	agentConfigPath    string
	subagentConfigPath string
	instancesPath      string
}

// New prepares the experiment directory: agent.yaml, subagent.yaml, and the
// sampled instance batch are all written before anything runs, so the
// realized trial input is fully inspectable.
func New(p Params) (*Experiment, error) {
	e := &Experiment{
		params:        p,
		logger:        p.Logger.Named("experiment"),
		experimentDir: filepath.Join(p.EvolutionOutputDir, "experiments", fmt.Sprintf("exp_%03d", p.ExpNum)),
	}
	e.trajectoryDir = filepath.Join(p.EvolutionOutputDir, "logs", "trajectories", e.Name())
	e.agentConfigPath = filepath.Join(e.experimentDir, "agent.yaml")
	e.subagentConfigPath = filepath.Join(e.experimentDir, "subagent.yaml")
	e.instancesPath = filepath.Join(e.experimentDir, "instances.yaml")

	for _, dir := range []string{e.experimentDir, e.trajectoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create experiment directory %s: %w", dir, err)
		}
	}
	if err := e.setup(); err != nil {
		return nil, err
	}
	return e, nil
}

// Name returns the experiment directory basename, e.g. exp_003.
func (e *Experiment) Name() string {
	return fmt.Sprintf("exp_%03d", e.params.ExpNum)
}

// Dir returns the experiment directory.
func (e *Experiment) Dir() string {
	return e.experimentDir
}

// TrajectoryDir returns where the agent runner writes trajectories.
func (e *Experiment) TrajectoryDir() string {
	return e.trajectoryDir
}

func (e *Experiment) setup() error {
	agentCfg := e.params.DesignedAgentConfig
	if agentCfg == nil {
		merged, err := e.mergeTemplateBundles()
		if err != nil {
			return err
		}
		agentCfg = merged
	}
	if err := writeYAML(e.agentConfigPath, agentCfg); err != nil {
		return err
	}
	if err := e.writeSubagentConfig(); err != nil {
		return err
	}
	return e.params.Instances.WriteFile(e.instancesPath)
}

// mergeTemplateBundles loads the template agent config and prepends the
// chosen tools' bundle entries to its bundle list.
func (e *Experiment) mergeTemplateBundles() (map[string]any, error) {
	cfg, err := readYAML(filepath.Join(e.params.TemplateDir, "agent.yaml"))
	if err != nil {
		return nil, err
	}
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

	bundles := make([]any, 0, len(e.params.ChosenTools)+len(existing))
	for _, tool := range e.params.ChosenTools {
		bundles = append(bundles, tool.BundleEntry())
	}
	bundles = append(bundles, existing...)
	toolsCfg["bundles"] = bundles
	return cfg, nil
}

// writeSubagentConfig instantiates the template's first subagent definition
// once per chosen subagent tool, substituting name and prompt templates.
func (e *Experiment) writeSubagentConfig() error {
	tmpl, err := readYAML(filepath.Join(e.params.TemplateDir, "subagent.yaml"))
	if err != nil {
		return err
	}
	base, err := firstSubagentTemplate(tmpl)
	if err != nil {
		return err
	}
	baseBytes, err := yaml.Marshal(base)
	if err != nil {
		return fmt.Errorf("failed to marshal subagent template: %w", err)
	}

	subagents := make([]any, 0, len(e.params.ChosenTools))
	for _, tool := range e.params.ChosenTools {
		if !tool.Subagent {
			continue
		}
		var entry map[string]any
		if err := yaml.Unmarshal(baseBytes, &entry); err != nil {
			return fmt.Errorf("failed to copy subagent template: %w", err)
		}
		entry["name"] = tool.Name
		templates, _ := entry["templates"].(map[string]any)
		if templates == nil {
			templates = map[string]any{}
			entry["templates"] = templates
		}
		templates["system_template"] = tool.SystemTemplate
		templates["instance_template"] = tool.InstanceTemplate
		subagents = append(subagents, entry)
	}

	return writeYAML(e.subagentConfigPath, map[string]any{
		"agent": map[string]any{"subagents": subagents},
	})
}

// RunAgent executes only the agent batch, without evaluation. Warmup uses
// this to produce trial trajectories for a single tool.
func (e *Experiment) RunAgent(ctx context.Context) error {
	return e.params.Runner.RunBatch(ctx, schemas.AgentRunSpec{
		AgentConfigPath:    e.agentConfigPath,
		SubagentConfigPath: e.subagentConfigPath,
		InstancesPath:      e.instancesPath,
		OutputDir:          e.trajectoryDir,
		NumWorkers:         e.params.NumWorkers,
	})
}

// Run executes the agent batch and evaluates its patches. Harness and runner
// failures become degraded results rather than errors; only context
// cancellation aborts.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	if err := e.RunAgent(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.logger.Error("Agent run failed, recording degraded result",
			zap.String("experiment", e.Name()), zap.Error(err))
		return &Result{
			ExperimentDir: e.Name(),
			ConfigPath:    e.experimentDir,
			TotalCost:     e.extractCost(),
		}, nil
	}

	result, err := e.evaluatePatches(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.saveMetadata(); err != nil {
		e.logger.Warn("Failed to save experiment metadata", zap.Error(err))
	}
	return result, nil
}

func (e *Experiment) evaluatePatches(ctx context.Context) (*Result, error) {
	runID := fmt.Sprintf("%s_%d", e.Name(), time.Now().UnixMilli())
	baseResult := &Result{
		ExperimentDir: e.Name(),
		ConfigPath:    e.experimentDir,
		TotalCost:     e.extractCost(),
	}

	predictions, err := e.loadPredictions()
	if err != nil {
		e.logger.Warn("No predictions found for experiment",
			zap.String("experiment", e.Name()), zap.Error(err))
		return baseResult, nil
	}
	predsListPath := filepath.Join(e.trajectoryDir, "preds_list.json")
	if err := writeJSON(predsListPath, predictions); err != nil {
		return nil, err
	}

	evalErr := e.params.Evaluator.Evaluate(ctx, schemas.EvaluationSpec{
		PredictionsPath: filepath.Join("logs", "trajectories", e.Name(), "preds_list.json"),
		RunID:           runID,
		WorkDir:         e.params.EvolutionOutputDir,
	})
	if evalErr != nil {
		if ctx.Err() != nil {
			return nil, evalErr
		}
		// Partial reports may still exist; aggregation decides.
		e.logger.Warn("Patch evaluation command failed", zap.String("run_id", runID), zap.Error(evalErr))
	}

	runEvalDir := filepath.Join(e.params.EvolutionOutputDir, "logs", "run_evaluation", runID)
	if err := os.MkdirAll(runEvalDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evaluation dir: %w", err)
	}

	counts, foundReports := aggregate(predictions, runEvalDir, e.logger)
	if !foundReports {
		e.logger.Warn("No evaluation reports found", zap.String("run_id", runID))
		baseResult.Unresolved = 1
		return baseResult, nil
	}

	baseResult.P2PSuccess = counts.p2pSuccess
	baseResult.P2PFailure = counts.p2pFailure
	baseResult.F2PSuccess = counts.f2pSuccess
	baseResult.F2PFailure = counts.f2pFailure
	baseResult.Resolved = counts.resolved
	baseResult.Unresolved = counts.unresolved

	e.logger.Info("Evaluation aggregated",
		zap.String("experiment", e.Name()),
		zap.Int("resolved", baseResult.Resolved),
		zap.Int("unresolved", baseResult.Unresolved),
		zap.Float64("resolved_rate", baseResult.ResolvedRate()))
	return baseResult, nil
}

// loadPredictions reads the runner's preds.json map and returns the
// predictions as a list.
func (e *Experiment) loadPredictions() ([]schemas.Prediction, error) {
	data, err := os.ReadFile(filepath.Join(e.trajectoryDir, "preds.json"))
	if err != nil {
		return nil, err
	}
	var byInstance map[string]schemas.Prediction
	if err := json.Unmarshal(data, &byInstance); err != nil {
		return nil, fmt.Errorf("failed to parse preds.json: %w", err)
	}
	list := make([]schemas.Prediction, 0, len(byInstance))
	for _, p := range byInstance {
		list = append(list, p)
	}
	return list, nil
}

type aggregateCounts struct {
	p2pSuccess, p2pFailure int
	f2pSuccess, f2pFailure int
	resolved, unresolved   int
}

// aggregate applies the evaluation counting rules: empty patches count as
// unresolved plus both failure kinds regardless of harness output; reported
// instances count a test group as success only with zero failures and at
// least one success.
func aggregate(predictions []schemas.Prediction, runEvalDir string, logger *zap.Logger) (aggregateCounts, bool) {
	var c aggregateCounts
	for _, p := range predictions {
		if p.ModelPatch == "" {
			c.unresolved++
			c.p2pFailure++
			c.f2pFailure++
		}
	}

	foundReports := false
	entries, err := os.ReadDir(runEvalDir)
	if err != nil {
		return c, false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		reportPath := filepath.Join(runEvalDir, entry.Name(), "report.json")
		data, err := os.ReadFile(reportPath)
		if err != nil {
			continue
		}
		foundReports = true

		var report schemas.EvaluationReport
		if err := json.Unmarshal(data, &report); err != nil {
			logger.Warn("Failed to parse evaluation report", zap.String("path", reportPath), zap.Error(err))
			c.f2pFailure++
			c.p2pFailure++
			c.unresolved++
			continue
		}
		for _, instance := range report {
			if instance.Resolved {
				c.resolved++
			} else {
				c.unresolved++
			}
			if groupPassed(instance.TestsStatus.FailToPass) {
				c.f2pSuccess++
			} else {
				c.f2pFailure++
			}
			if groupPassed(instance.TestsStatus.PassToPass) {
				c.p2pSuccess++
			} else {
				c.p2pFailure++
			}
		}
	}
	return c, foundReports
}

func groupPassed(g schemas.TestGroup) bool {
	return len(g.Failure) == 0 && len(g.Success) > 0
}

// extractCost reads the runner's cost summary, best effort. Absence or a
// parse failure yields zero.
func (e *Experiment) extractCost() float64 {
	path := filepath.Join(e.trajectoryDir, "run_batch_exit_statuses.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0.0
	}
	var summary struct {
		TotalCost float64 `yaml:"total_cost"`
	}
	if err := yaml.Unmarshal(data, &summary); err != nil {
		e.logger.Warn("Failed to parse cost summary", zap.String("path", path), zap.Error(err))
		return 0.0
	}
	return summary.TotalCost
}

// saveMetadata records the chosen tools and instance ids after a completed
// run, for the resume path to reason about.
func (e *Experiment) saveMetadata() error {
	type toolMeta struct {
		Name      string           `json:"name"`
		Docstring string           `json:"docstring"`
		Arguments []map[string]any `json:"arguments"`
		Subagent  bool             `json:"subagent"`
		N         int              `json:"n"`
		Successes int              `json:"successes"`
		BundleDir string           `json:"bundle_dir"`
	}
	meta := struct {
		ChosenTools []toolMeta `json:"chosen_tools"`
		InstanceIDs []string   `json:"instance_ids"`
	}{
		ChosenTools: make([]toolMeta, 0, len(e.params.ChosenTools)),
		InstanceIDs: e.params.Instances.IDs(),
	}
	for _, t := range e.params.ChosenTools {
		meta.ChosenTools = append(meta.ChosenTools, toolMeta{
			Name:      t.Name,
			Docstring: t.Docstring,
			Arguments: t.Arguments,
			Subagent:  t.Subagent,
			N:         t.N,
			Successes: t.Successes,
			BundleDir: t.BundleDir,
		})
	}
	return writeJSON(filepath.Join(e.experimentDir, MetaFilename), meta)
}

func readYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
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

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func firstSubagentTemplate(cfg map[string]any) (map[string]any, error) {
	agent, _ := cfg["agent"].(map[string]any)
	if agent == nil {
		return nil, fmt.Errorf("subagent template missing agent section")
	}
	list, _ := agent["subagents"].([]any)
	if len(list) == 0 {
		return nil, fmt.Errorf("subagent template has no subagents entry")
	}
	first, _ := list[0].(map[string]any)
	if first == nil {
		return nil, fmt.Errorf("subagent template entry is not a mapping")
	}
	return first, nil
}
