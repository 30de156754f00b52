// File: internal/instances/instances.go

// Package instances loads the task instance pool and draws the random
// single-instance and batch samples that warmup and experiments run against.
package instances

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instance is one task instance configuration, carried opaquely for the
// agent runner. Only the instance id is interpreted here.
type Instance map[string]any

// ID returns the instance identifier, looking at a top-level id and then at
// problem_statement.id the way batch instance configs nest it.
func (in Instance) ID() string {
	if id, ok := in["id"].(string); ok {
		return id
	}
	if ps, ok := in["problem_statement"].(map[string]any); ok {
		if id, ok := ps["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Source is an ordered pool of task instances.
type Source struct {
	Instances []Instance
}

// Load reads a pool from a YAML or JSON file holding a list of instance
// configurations. A top-level {"instances": [...]} wrapper is also accepted.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instances file %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" {
		unmarshal = json.Unmarshal
	}

	var list []Instance
	if err := unmarshal(data, &list); err == nil {
		return &Source{Instances: list}, nil
	}

	var wrapped struct {
		Instances []Instance `yaml:"instances" json:"instances"`
	}
	if err := unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse instances file %s: %w", path, err)
	}
	return &Source{Instances: wrapped.Instances}, nil
}

// Len returns the pool size.
func (s *Source) Len() int {
	return len(s.Instances)
}

// IDs returns the instance ids in pool order, skipping entries without one.
func (s *Source) IDs() []string {
	ids := make([]string, 0, len(s.Instances))
	for _, in := range s.Instances {
		if id := in.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SampleOne returns a source holding a single instance drawn uniformly at
// random. An empty pool is returned unchanged.
func (s *Source) SampleOne(rng *rand.Rand) *Source {
	if len(s.Instances) == 0 {
		return s
	}
	return &Source{Instances: []Instance{s.Instances[rng.Intn(len(s.Instances))]}}
}

// SampleBatch returns a source holding batchSize instances drawn uniformly
// without replacement, capped at the pool size. An empty pool is returned
// unchanged.
func (s *Source) SampleBatch(rng *rand.Rand, batchSize int) *Source {
	if len(s.Instances) == 0 {
		return s
	}
	if batchSize > len(s.Instances) {
		batchSize = len(s.Instances)
	}
	shuffled := make([]Instance, len(s.Instances))
	copy(shuffled, s.Instances)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return &Source{Instances: shuffled[:batchSize]}
}

// WriteFile persists the pool as a YAML list for the agent runner subprocess.
func (s *Source) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}
	data, err := yaml.Marshal(s.Instances)
	if err != nil {
		return fmt.Errorf("failed to marshal instances: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write instances file %s: %w", path, err)
	}
	return nil
}
