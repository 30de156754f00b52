// File: internal/engine/resume.go
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/internal/experiment"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// prepareResume rolls the output directory back to the last fully completed
// experiment: later experiment directories, their trajectory trees, and their
// evaluation logs are removed, and tools that were minted for an interrupted
// experiment but never accumulated a trial are purged from the archives.
func (e *Engine) prepareResume() error {
	expRoot := filepath.Join(e.cfg.OutputDir, "experiments")
	entries, err := os.ReadDir(expRoot)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Info("Nothing to resume, starting from the first experiment")
			e.startExp = 1
			return nil
		}
		return fmt.Errorf("failed to read experiments dir: %w", err)
	}

	var expNums []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		num, ok := parseExpNum(entry.Name())
		if !ok {
			continue
		}
		expNums = append(expNums, num)
	}
	sort.Ints(expNums)

	// Experiments are numbered from 1, so zero means none completed.
	lastCompleted := 0
	for _, num := range expNums {
		if _, err := experiment.LoadResult(filepath.Join(expRoot, expDirName(num))); err == nil {
			lastCompleted = num
		}
	}

	for _, num := range expNums {
		if num <= lastCompleted {
			continue
		}
		if err := e.rollbackExperiment(num); err != nil {
			return err
		}
	}

	if err := e.subagentArchive.Save(e.subagentArchive.OutputDir()); err != nil {
		return err
	}
	if err := e.codeArchive.Save(e.codeArchive.OutputDir()); err != nil {
		return err
	}

	e.startExp = lastCompleted + 1
	e.logger.Info("Resuming evolution",
		zap.Int("last_completed", lastCompleted),
		zap.Int("start_exp", e.startExp))
	return nil
}

// rollbackExperiment removes every artifact an interrupted experiment left
// behind. Tools its metadata names are purged from the archives when they
// have no recorded trials, so the selection policy re-decides them.
func (e *Engine) rollbackExperiment(num int) error {
	name := expDirName(num)
	expDir := filepath.Join(e.cfg.OutputDir, "experiments", name)

	e.purgeUntriedTools(expDir)

	targets := []string{
		expDir,
		filepath.Join(e.cfg.OutputDir, "logs", "trajectories", name),
	}
	for _, target := range targets {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to remove %s: %w", target, err)
		}
	}

	evalDirs, _ := filepath.Glob(filepath.Join(e.cfg.OutputDir, "logs", "run_evaluation", name+"_*"))
	for _, dir := range evalDirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	e.logger.Info("Rolled back incomplete experiment", zap.String("experiment", name))
	return nil
}

// purgeUntriedTools reads an incomplete experiment's tool metadata and drops
// zero-trial tools from both archives. A tool with n > 0 earned its slot in
// an earlier experiment and stays.
func (e *Engine) purgeUntriedTools(expDir string) {
	data, err := os.ReadFile(filepath.Join(expDir, experiment.MetaFilename))
	if err != nil {
		return
	}
	var meta struct {
		ChosenTools []struct {
			Name string `json:"name"`
		} `json:"chosen_tools"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		e.logger.Warn("Unreadable experiment metadata, skipping tool purge",
			zap.String("dir", expDir), zap.Error(err))
		return
	}

	for _, t := range meta.ChosenTools {
		if e.removeIfUntried(t.Name) {
			e.logger.Info("Purged zero-trial tool from archive", zap.String("tool", t.Name))
		}
	}
}

func (e *Engine) removeIfUntried(name string) bool {
	removed := false
	for _, tool := range e.subagentArchive.Tools {
		if tool.Name == name && tool.N == 0 {
			removed = e.subagentArchive.RemoveTool(name) || removed
			break
		}
	}
	for _, tool := range e.codeArchive.Tools {
		if tool.Name == name && tool.N == 0 {
			removed = e.codeArchive.RemoveTool(name) || removed
			break
		}
	}
	return removed
}

func expDirName(num int) string {
	return fmt.Sprintf("exp_%03d", num)
}

func parseExpNum(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "exp_")
	if !ok {
		return 0, false
	}
	num, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return num, true
}
