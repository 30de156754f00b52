// File: internal/runner/runner.go

// Package runner adapts external subprocesses to the AgentRunner and
// PatchEvaluator interfaces. Both are opaque blocking calls from the
// evolution loop's perspective.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/config"
)

// Swappable for tests.
var execCommandContext = exec.CommandContext

// SubprocessAgentRunner runs the coding agent CLI over an instance batch.
type SubprocessAgentRunner struct {
	cfg    config.RunnerConfig
	logger *zap.Logger
}

func NewSubprocessAgentRunner(cfg config.RunnerConfig, logger *zap.Logger) *SubprocessAgentRunner {
	return &SubprocessAgentRunner{cfg: cfg, logger: logger.Named("agent_runner")}
}

// RunBatch invokes the agent command with the materialized configs and
// blocks until the whole batch finishes or the configured timeout expires.
func (r *SubprocessAgentRunner) RunBatch(ctx context.Context, spec schemas.AgentRunSpec) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	numWorkers := spec.NumWorkers
	if numWorkers <= 0 {
		numWorkers = r.cfg.NumWorkers
	}

	args := append([]string{}, r.cfg.Args...)
	args = append(args,
		"--config", spec.AgentConfigPath,
		"--config", spec.SubagentConfigPath,
		"--instances.path", spec.InstancesPath,
		"--output_dir", spec.OutputDir,
		"--num_workers", strconv.Itoa(numWorkers),
		"--redo_existing=True",
	)

	r.logger.Info("Starting agent batch run",
		zap.String("command", r.cfg.Command),
		zap.String("output_dir", spec.OutputDir),
		zap.Int("num_workers", numWorkers))

	start := time.Now()
	cmd := execCommandContext(ctx, r.cfg.Command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("agent batch run aborted: %w", ctx.Err())
		}
		return fmt.Errorf("agent batch run failed: %w", err)
	}

	r.logger.Info("Agent batch run finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// SubprocessPatchEvaluator runs the evaluation harness CLI.
type SubprocessPatchEvaluator struct {
	cfg    config.EvaluatorConfig
	logger *zap.Logger
}

func NewSubprocessPatchEvaluator(cfg config.EvaluatorConfig, logger *zap.Logger) *SubprocessPatchEvaluator {
	return &SubprocessPatchEvaluator{cfg: cfg, logger: logger.Named("patch_evaluator")}
}

// Evaluate runs the harness from spec.WorkDir so that its report tree lands
// under the run's own logs directory. A non-zero exit is returned as an
// error; the caller decides whether partial reports are still usable.
func (e *SubprocessPatchEvaluator) Evaluate(ctx context.Context, spec schemas.EvaluationSpec) error {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := append([]string{}, e.cfg.Args...)
	args = append(args,
		"--predictions_path", spec.PredictionsPath,
		"--cache_level", "instance",
		"--dataset", e.cfg.Dataset,
		"--split", e.cfg.Split,
		"--run_id", spec.RunID,
		"--max_workers", strconv.Itoa(e.cfg.MaxWorkers),
	)

	e.logger.Info("Starting patch evaluation",
		zap.String("command", e.cfg.Command),
		zap.String("run_id", spec.RunID),
		zap.String("predictions_path", spec.PredictionsPath))

	cmd := execCommandContext(ctx, e.cfg.Command, args...)
	cmd.Dir = spec.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("patch evaluation aborted: %w", ctx.Err())
		}
		return fmt.Errorf("patch evaluation failed: %w (output: %s)", err, truncateOutput(out))
	}

	e.logger.Info("Patch evaluation finished", zap.String("run_id", spec.RunID))
	return nil
}

func truncateOutput(out []byte) string {
	const maxLen = 2048
	if len(out) > maxLen {
		out = out[len(out)-maxLen:]
	}
	return string(out)
}
