// File: internal/experiment/result.go
package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResultFilename is the marker file whose presence makes an iteration count
// as completed for checkpoint purposes.
const ResultFilename = "experiment_result.json"

// Result holds the aggregate evaluation outcome of one experiment. It is
// immutable once produced.
type Result struct {
	ExperimentDir string  `json:"experiment_dir"`
	P2PSuccess    int     `json:"p2p_success"`
	P2PFailure    int     `json:"p2p_failure"`
	F2PSuccess    int     `json:"f2p_success"`
	F2PFailure    int     `json:"f2p_failure"`
	Resolved      int     `json:"resolved"`
	Unresolved    int     `json:"unresolved"`
	ConfigPath    string  `json:"config_path"`
	TotalCost     float64 `json:"total_cost"`
}

// ResolvedRate returns the fraction of counted instances that resolved.
func (r *Result) ResolvedRate() float64 {
	total := r.Resolved + r.Unresolved
	if total == 0 {
		return 0.0
	}
	return float64(r.Resolved) / float64(total)
}

// Save writes the result into dir under ResultFilename.
func (r *Result) Save(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal experiment result: %w", err)
	}
	path := filepath.Join(dir, ResultFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write experiment result %s: %w", path, err)
	}
	return nil
}

// LoadResult reads a persisted result from dir.
func LoadResult(dir string) (*Result, error) {
	path := filepath.Join(dir, ResultFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment result %s: %w", path, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse experiment result %s: %w", path, err)
	}
	return &r, nil
}
