// File: internal/engine/engine.go

// Package engine runs the tool evolution loop: each iteration selects a set
// of subagent and code tools (creating new ones under a CRP prior, sampling
// the rest by UCB score), runs a batch experiment with them, and feeds the
// outcome back into the archives.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/experiment"
	"github.com/xkilldash9x/toolforge/internal/generator"
	"github.com/xkilldash9x/toolforge/internal/instances"
	"github.com/xkilldash9x/toolforge/internal/warmup"
)

const (
	// SubagentArchiveDirName holds the subagent archive under the output dir.
	SubagentArchiveDirName = "subagent_tool_archive"
	// CodeArchiveDirName holds the code tool archive under the output dir.
	CodeArchiveDirName = "code_tool_archive"

	subagentSnapshotFilename = "subagent_archive_snapshot.json"
	codeSnapshotFilename     = "code_tool_archive_snapshot.json"

	// resumeSeed makes tool selection reproducible across resumed runs.
	resumeSeed = 42
)

// ResultRecorder mirrors completed experiment results into an external store.
// Recording failures never fail an iteration.
type ResultRecorder interface {
	RecordResult(ctx context.Context, expNum int, result *experiment.Result) error
}

// Narrow views of the generators so tests can substitute decision inputs.
type subagentCreator interface {
	GenerateNewTool(ctx context.Context, arch *archive.Archive, expNum int) (*archive.Tool, error)
}

type codeMiner interface {
	GenerateFromTrajectory(ctx context.Context, arch *archive.Archive, trajPath string, expNum int) (*archive.Tool, error)
}

type agentDesigner interface {
	GenerateAgentConfig(ctx context.Context, baseConfig map[string]any, tools []*archive.Tool) (map[string]any, error)
}

type toolWarmer interface {
	WarmupAll(ctx context.Context, tools []*archive.Tool, pool *instances.Source)
}

// Deps carries the engine's external collaborators. History may be nil.
type Deps struct {
	Client    schemas.LLMClient
	Runner    schemas.AgentRunner
	Evaluator schemas.PatchEvaluator
	Judge     schemas.HelpfulnessJudge
	History   ResultRecorder
	Logger    *zap.Logger
}

// Engine owns the evolution loop state: both archives, the instance pool,
// and the rng that drives every stochastic choice.
type Engine struct {
	cfg       config.EvolutionConfig
	runnerCfg config.RunnerConfig

	subagentArchive *archive.Archive
	codeArchive     *archive.Archive
	instances       *instances.Source
	rng             *rand.Rand
	startExp        int

	runner    schemas.AgentRunner
	evaluator schemas.PatchEvaluator
	judge     schemas.HelpfulnessJudge
	history   ResultRecorder

	subagentGen subagentCreator
	codeGen     codeMiner
	agentGen    agentDesigner
	warmup      toolWarmer

	logger *zap.Logger
}

// NewEngine prepares the output directory and loads (or creates) both tool
// archives. A fresh run wipes the output directory; a resumed run keeps it
// and rolls back any partially finished iteration.
func NewEngine(cfg *config.Config, deps Deps) (*Engine, error) {
	evo := cfg.Evolution
	logger := deps.Logger.Named("engine")

	if !evo.Resume {
		if err := os.RemoveAll(evo.OutputDir); err != nil {
			return nil, fmt.Errorf("failed to clear output dir %s: %w", evo.OutputDir, err)
		}
	}
	if err := os.MkdirAll(evo.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", evo.OutputDir, err)
	}

	pool, err := instances.Load(evo.InstancesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance pool: %w", err)
	}
	if pool.Len() == 0 {
		return nil, fmt.Errorf("instance pool %s is empty", evo.InstancesFile)
	}

	subArch, err := archive.NewArchive(filepath.Join(evo.OutputDir, SubagentArchiveDirName), evo.RewardSignal, logger)
	if err != nil {
		return nil, err
	}
	codeArch, err := archive.NewArchive(filepath.Join(evo.OutputDir, CodeArchiveDirName), evo.RewardSignal, logger)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if evo.Resume {
		seed = resumeSeed
	}

	const generationTemperature = 1.0
	e := &Engine{
		cfg:             evo,
		runnerCfg:       cfg.Runner,
		subagentArchive: subArch,
		codeArchive:     codeArch,
		instances:       pool,
		rng:             rand.New(rand.NewSource(seed)),
		runner:          deps.Runner,
		evaluator:       deps.Evaluator,
		judge:           deps.Judge,
		history:         deps.History,
		subagentGen:     generator.NewSubagentGenerator(deps.Client, evo.PromptDir, generationTemperature, logger),
		codeGen:         generator.NewCodeToolGenerator(deps.Client, evo.PromptDir, generationTemperature, logger),
		agentGen:        generator.NewMainAgentGenerator(deps.Client, evo.PromptDir, generationTemperature, logger),
		warmup: warmup.NewEngine(warmup.Params{
			Client:      deps.Client,
			Runner:      deps.Runner,
			Iterations:  evo.WarmupIterations,
			Concurrency: evo.WarmupConcurrency,
			OutputDir:   evo.OutputDir,
			PromptDir:   evo.PromptDir,
			TemplateDir: evo.TemplateDir,
			Logger:      logger,
		}),
		logger: logger,
	}

	// Experiments are numbered from 1; a resume moves the start forward.
	e.startExp = 1
	if evo.Resume {
		if err := e.prepareResume(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Run drives iterations from the start experiment through the configured
// maximum, inclusive. Any error aborts the loop; archives are saved at the
// end of each completed iteration, so a later resume loses at most one.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting evolution loop",
		zap.Int("start_exp", e.startExp),
		zap.Int("max_iterations", e.cfg.MaxIterations),
		zap.Int("subagent_archive_size", e.subagentArchive.Len()),
		zap.Int("code_archive_size", e.codeArchive.Len()))

	for expNum := e.startExp; expNum <= e.cfg.MaxIterations; expNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runIteration(ctx, expNum); err != nil {
			return fmt.Errorf("iteration %d failed: %w", expNum, err)
		}
	}
	e.logger.Info("Evolution loop complete")
	return nil
}

func (e *Engine) runIteration(ctx context.Context, expNum int) error {
	e.logger.Info("Starting iteration", zap.Int("exp_num", expNum))

	subTools := e.chooseSubagentTools(ctx, expNum)
	codeTools, err := e.chooseCodeTools(ctx, expNum)
	if err != nil {
		return err
	}
	chosen := make([]*archive.Tool, 0, len(subTools)+len(codeTools))
	chosen = append(chosen, subTools...)
	chosen = append(chosen, codeTools...)

	designed := e.designAgentConfig(ctx, chosen)
	batch := e.instances.SampleBatch(e.rng, e.cfg.BatchSize)

	exp, err := experiment.New(experiment.Params{
		EvolutionOutputDir:  e.cfg.OutputDir,
		ExpNum:              expNum,
		ChosenTools:         chosen,
		Instances:           batch,
		TemplateDir:         e.cfg.TemplateDir,
		DesignedAgentConfig: designed,
		Runner:              e.runner,
		Evaluator:           e.evaluator,
		NumWorkers:          e.runnerCfg.NumWorkers,
		Logger:              e.logger,
	})
	if err != nil {
		return err
	}
	if err := e.snapshotArchives(exp.Dir()); err != nil {
		return err
	}

	result, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	if err := result.Save(exp.Dir()); err != nil {
		return err
	}

	for _, t := range chosen {
		t.N += batch.Len()
		t.Successes += result.Resolved
	}
	e.updateHelpfulCounts(ctx, exp, subTools)
	e.updateTokenCounts(exp, subTools)

	e.subagentArchive.Step++
	e.codeArchive.Step++
	if err := e.subagentArchive.Save(e.subagentArchive.OutputDir()); err != nil {
		return err
	}
	if err := e.codeArchive.Save(e.codeArchive.OutputDir()); err != nil {
		return err
	}

	if e.history != nil {
		if err := e.history.RecordResult(ctx, expNum, result); err != nil {
			e.logger.Warn("Failed to record result in history store",
				zap.Int("exp_num", expNum), zap.Error(err))
		}
	}

	e.logger.Info("Iteration complete",
		zap.Int("exp_num", expNum),
		zap.Int("resolved", result.Resolved),
		zap.Int("unresolved", result.Unresolved),
		zap.Float64("total_cost", result.TotalCost))
	return nil
}

// snapshotArchives records the pre-run archive state inside the experiment
// dir, so every trial's selection context stays auditable after the archives
// move on.
func (e *Engine) snapshotArchives(expDir string) error {
	if err := e.subagentArchive.SaveAs(expDir, subagentSnapshotFilename); err != nil {
		return err
	}
	return e.codeArchive.SaveAs(expDir, codeSnapshotFilename)
}

// designAgentConfig asks the LLM to tailor the template agent config to the
// chosen tools. Any failure falls back to the plain template merge inside
// the experiment setup.
func (e *Engine) designAgentConfig(ctx context.Context, tools []*archive.Tool) map[string]any {
	if len(tools) == 0 {
		return nil
	}
	base, err := readYAMLFile(filepath.Join(e.cfg.TemplateDir, "agent.yaml"))
	if err != nil {
		e.logger.Warn("Failed to read template agent config, using plain merge", zap.Error(err))
		return nil
	}
	designed, err := e.agentGen.GenerateAgentConfig(ctx, base, tools)
	if err != nil {
		e.logger.Warn("Agent config design failed, using plain merge", zap.Error(err))
		return nil
	}
	return designed
}

func readYAMLFile(path string) (map[string]any, error) {
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
