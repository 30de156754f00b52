// File: internal/engine/selection.go
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/internal/archive"
)

// NewToolProbability is the Chinese-Restaurant-Process prior on minting a
// brand-new tool: theta/(theta+archiveLen). It decays as the archive grows,
// concentrating choices on vetted tools while always leaving exploration
// room.
func NewToolProbability(theta float64, archiveLen int) float64 {
	return theta / (theta + float64(archiveLen))
}

// shouldCreateNew is the explore arm of the create-vs-sample decision.
func shouldCreateNew(rng *rand.Rand, pNew float64) bool {
	return rng.Float64() < pNew
}

// chooseSubagentTools fills subagent slots: each slot first gets a CRP draw
// at creating a new tool; failed creations fall back to sampling. All newly
// created tools are warmed up concurrently before the experiment sees them;
// resampled archive tools skip warmup.
func (e *Engine) chooseSubagentTools(ctx context.Context, expNum int) []*archive.Tool {
	var created []*archive.Tool
	pNew := NewToolProbability(e.cfg.NewToolTheta, e.subagentArchive.Len())

	for i := 0; i < e.cfg.SubagentToolCount; i++ {
		if !shouldCreateNew(e.rng, pNew) {
			continue
		}
		tool, err := e.subagentGen.GenerateNewTool(ctx, e.subagentArchive, expNum)
		if err != nil {
			e.logger.Warn("Subagent creation failed, slot falls back to sampling",
				zap.Int("exp_num", expNum), zap.Error(err))
			continue
		}
		e.subagentArchive.AddTool(tool)
		created = append(created, tool)
	}

	if len(created) > 0 && e.cfg.WarmupIterations > 0 {
		e.logger.Info("Warming up new subagent tools", zap.Int("count", len(created)))
		e.warmup.WarmupAll(ctx, created, e.instances)
	}

	chosen := append([]*archive.Tool(nil), created...)
	if remaining := e.cfg.SubagentToolCount - len(chosen); remaining > 0 {
		chosen = append(chosen, e.subagentArchive.Sample(remaining)...)
	}
	e.logger.Info("Subagent tool selection complete",
		zap.Int("exp_num", expNum), zap.Strings("tools", toolNames(chosen)))
	return chosen
}

// chooseCodeTools fills code tool slots the same way, mining new tools from
// a random past trajectory. When no trajectory exists anywhere and the
// archive is empty there is nothing to mine or sample, so code tools are
// skipped for the iteration. Creation exhaustion after retries is fatal.
func (e *Engine) chooseCodeTools(ctx context.Context, expNum int) ([]*archive.Tool, error) {
	if e.randomTrajectory() == "" && e.codeArchive.Len() == 0 {
		e.logger.Info("No trajectories and no prior code tools, skipping code tools",
			zap.Int("exp_num", expNum))
		return nil, nil
	}

	var chosen []*archive.Tool
	pNew := NewToolProbability(e.cfg.NewToolTheta, e.codeArchive.Len())
	const maxAttempts = 3

	for i := 0; i < e.cfg.CodeToolCount; i++ {
		if !shouldCreateNew(e.rng, pNew) {
			continue
		}
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			trajPath := e.randomTrajectory()
			if trajPath == "" {
				break
			}
			tool, err := e.codeGen.GenerateFromTrajectory(ctx, e.codeArchive, trajPath, expNum)
			if err != nil {
				e.logger.Warn("Code tool generation attempt failed",
					zap.Int("attempt", attempt), zap.Error(err))
				if attempt == maxAttempts {
					return nil, fmt.Errorf("failed to generate a new code tool after %d attempts: %w", maxAttempts, err)
				}
				continue
			}
			e.codeArchive.AddTool(tool)
			chosen = append(chosen, tool)
			break
		}
	}

	if remaining := e.cfg.CodeToolCount - len(chosen); remaining > 0 {
		chosen = append(chosen, e.codeArchive.Sample(remaining)...)
	}
	e.logger.Info("Code tool selection complete",
		zap.Int("exp_num", expNum), zap.Strings("tools", toolNames(chosen)))
	return chosen, nil
}

// randomTrajectory picks one .traj file uniformly from the latest
// experiment's trajectory tree, or "" when none exists yet.
func (e *Engine) randomTrajectory() string {
	trajRoot := filepath.Join(e.cfg.OutputDir, "logs", "trajectories")
	entries, err := os.ReadDir(trajRoot)
	if err != nil {
		return ""
	}
	var expDirs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "exp_") {
			expDirs = append(expDirs, entry.Name())
		}
	}
	if len(expDirs) == 0 {
		return ""
	}
	sort.Strings(expDirs)
	latest := filepath.Join(trajRoot, expDirs[len(expDirs)-1])

	var trajs []string
	filepath.WalkDir(latest, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(d.Name(), ".traj") {
			trajs = append(trajs, path)
		}
		return nil
	})
	if len(trajs) == 0 {
		return ""
	}
	sort.Strings(trajs)
	return trajs[e.rng.Intn(len(trajs))]
}

func toolNames(tools []*archive.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
