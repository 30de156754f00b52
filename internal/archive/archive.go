// File: internal/archive/archive.go

// Package archive maintains the persistent UCB bandit archives that back
// tool evolution. Each archive owns a directory holding archive.json plus
// the bundle directories of its tools.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const archiveFilename = "archive.json"

// Archive is a collection of tools tracked under a single bandit. Step counts
// completed experiments and drives the exploration bonus.
type Archive struct {
	outputDir string
	signal    config.RewardSignal
	logger    *zap.Logger

	Tools []*Tool
	Step  int
}

// toolRecord is the on-disk form of a Tool. The UCB score is derived and
// written for inspection only; it is discarded on load.
type toolRecord struct {
	Tool
	UCBScore float64 `json:"ucb_score"`
}

type archiveFile struct {
	Step  int          `json:"step"`
	Tools []toolRecord `json:"tools"`
}

// NewArchive opens the archive rooted at outputDir, loading archive.json if
// one exists and creating the directory otherwise.
func NewArchive(outputDir string, signal config.RewardSignal, logger *zap.Logger) (*Archive, error) {
	a := &Archive{
		outputDir: outputDir,
		signal:    signal,
		logger:    logger.Named("archive"),
	}
	if _, err := os.Stat(outputDir); err == nil {
		if err := a.load(); err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", outputDir, err)
		}
	}
	return a, nil
}

// OutputDir returns the directory this archive persists into.
func (a *Archive) OutputDir() string {
	return a.outputDir
}

// Len returns the number of tools in the archive.
func (a *Archive) Len() int {
	return len(a.Tools)
}

// AddTool appends a tool to the archive. The caller persists via Save.
func (a *Archive) AddTool(t *Tool) {
	a.Tools = append(a.Tools, t)
}

// RemoveTool deletes the tool with the given name, returning true if a tool
// was removed.
func (a *Archive) RemoveTool(name string) bool {
	for i, t := range a.Tools {
		if t.Name == name {
			a.Tools = append(a.Tools[:i], a.Tools[i+1:]...)
			return true
		}
	}
	return false
}

// Sample returns up to k tools ranked by descending UCB score at the current
// step. Tools that have never been attached to an experiment (n == 0) are
// excluded; they only enter rotation through the create path.
func (a *Archive) Sample(k int) []*Tool {
	usable := make([]*Tool, 0, len(a.Tools))
	for _, t := range a.Tools {
		if t.N > 0 {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 || k <= 0 {
		return nil
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].UCBScore(a.Step, a.signal) > usable[j].UCBScore(a.Step, a.signal)
	})
	if k < len(usable) {
		usable = usable[:k]
	}
	return usable
}

// Save writes archive.json atomically into the archive's directory, or into
// dir when one is given (used for per-iteration snapshots).
func (a *Archive) Save(dir string) error {
	return a.SaveAs(dir, archiveFilename)
}

// SaveAs writes the archive under an explicit filename, for audit snapshots
// stored inside experiment directories.
func (a *Archive) SaveAs(dir, filename string) error {
	if dir == "" {
		dir = a.outputDir
	}
	out := archiveFile{Step: a.Step, Tools: make([]toolRecord, 0, len(a.Tools))}
	for _, t := range a.Tools {
		out.Tools = append(out.Tools, toolRecord{Tool: *t, UCBScore: t.UCBScore(a.Step, a.signal)})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	target := filepath.Join(dir, filename)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace archive file: %w", err)
	}
	return nil
}

func (a *Archive) load() error {
	path := filepath.Join(a.outputDir, archiveFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read archive file %s: %w", path, err)
	}

	var file archiveFile
	if err := json.Unmarshal(data, &file); err == nil && file.Tools != nil {
		a.Step = file.Step
		a.Tools = recordsToTools(file.Tools)
		a.logger.Debug("Loaded archive",
			zap.String("path", path),
			zap.Int("step", a.Step),
			zap.Int("tools", len(a.Tools)))
		return nil
	}

	// Older archives were a bare list of tools with no step counter.
	var legacy []toolRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("failed to parse archive file %s: %w", path, err)
	}
	a.Step = 0
	a.Tools = recordsToTools(legacy)
	a.logger.Debug("Loaded legacy archive", zap.String("path", path), zap.Int("tools", len(a.Tools)))
	return nil
}

func recordsToTools(records []toolRecord) []*Tool {
	tools := make([]*Tool, 0, len(records))
	for i := range records {
		t := records[i].Tool
		tools = append(tools, &t)
	}
	return tools
}
