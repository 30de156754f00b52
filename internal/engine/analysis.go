// File: internal/engine/analysis.go
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/experiment"
	"github.com/xkilldash9x/toolforge/internal/trajectory"
)

// updateHelpfulCounts asks the judge, for every instance and subagent tool,
// whether the tool's invocations causally helped the main agent. An instance
// only counts when both the main trajectory and at least one subagent
// trajectory exist; judge failures are logged and skipped so one flaky call
// cannot poison the bandit statistics.
func (e *Engine) updateHelpfulCounts(ctx context.Context, exp *experiment.Experiment, tools []*archive.Tool) {
	if len(tools) == 0 {
		return
	}
	for _, instDir := range e.instanceDirs(exp) {
		mainPath := firstMainTrajectory(instDir)
		if mainPath == "" {
			continue
		}
		for _, tool := range tools {
			subPaths, err := trajectory.CollectSubagentPaths(instDir, tool.Name)
			if err != nil || len(subPaths) == 0 {
				continue
			}
			text, err := trajectory.FormatFiles(append([]string{mainPath}, subPaths...))
			if err != nil {
				e.logger.Warn("Failed to format trajectories for judging",
					zap.String("instance", filepath.Base(instDir)),
					zap.String("tool", tool.Name), zap.Error(err))
				continue
			}
			helpful, err := e.judge.JudgeHelpfulness(ctx, tool.Name, text)
			if err != nil {
				e.logger.Warn("Helpfulness judgement failed",
					zap.String("instance", filepath.Base(instDir)),
					zap.String("tool", tool.Name), zap.Error(err))
				continue
			}
			if helpful {
				tool.HelpfulCount++
			}
		}
	}
}

// updateTokenCounts folds every subagent invocation's token spend into the
// tool's running usage statistics.
func (e *Engine) updateTokenCounts(exp *experiment.Experiment, tools []*archive.Tool) {
	if len(tools) == 0 {
		return
	}
	for _, instDir := range e.instanceDirs(exp) {
		for _, tool := range tools {
			subPaths, err := trajectory.CollectSubagentPaths(instDir, tool.Name)
			if err != nil {
				continue
			}
			for _, path := range subPaths {
				traj, err := trajectory.Load(path)
				if err != nil {
					e.logger.Warn("Unreadable subagent trajectory",
						zap.String("path", path), zap.Error(err))
					continue
				}
				if tokens := traj.TotalTokens(); tokens > 0 {
					tool.RecordTokenUsage(tokens)
				}
			}
		}
	}
}

func (e *Engine) instanceDirs(exp *experiment.Experiment) []string {
	entries, err := os.ReadDir(exp.TrajectoryDir())
	if err != nil {
		e.logger.Warn("Failed to read trajectory dir",
			zap.String("dir", exp.TrajectoryDir()), zap.Error(err))
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(exp.TrajectoryDir(), entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

// firstMainTrajectory returns the first .traj directly inside the instance
// dir in sorted order, or "" when the main agent never produced one.
func firstMainTrajectory(instDir string) string {
	entries, err := os.ReadDir(instDir)
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".traj") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(instDir, names[0])
}
