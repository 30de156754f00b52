// File: internal/experiment/experiment_test.go
package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/instances"
	"github.com/xkilldash9x/toolforge/internal/mocks"
)

const agentTemplate = `agent:
  model:
    name: gpt-4o
  templates:
    instance_template: "Solve {{problem_statement}}"
  tools:
    bundles:
      - path: /base/bundle
`

const subagentTemplate = `agent:
  subagents:
    - name: placeholder
      model:
        name: gpt-4o
      templates:
        system_template: ""
        instance_template: ""
`

func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(agentTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subagent.yaml"), []byte(subagentTemplate), 0o644))
	return dir
}

func testTools() []*archive.Tool {
	return []*archive.Tool{
		{
			Name:             "searcher",
			Subagent:         true,
			BundleDir:        "/bundles/searcher",
			SystemTemplate:   "You locate code.",
			InstanceTemplate: "Find {{context}}",
		},
		{
			Name:      "lint_runner",
			Subagent:  false,
			BundleDir: "/bundles/lint_runner",
		},
	}
}

func testParams(t *testing.T) Params {
	return Params{
		EvolutionOutputDir: t.TempDir(),
		ExpNum:             1,
		ChosenTools:        testTools(),
		Instances:          &instances.Source{Instances: []instances.Instance{{"id": "inst-1"}, {"id": "inst-2"}}},
		TemplateDir:        writeTemplates(t),
		Runner:             new(mocks.MockAgentRunner),
		Evaluator:          new(mocks.MockPatchEvaluator),
		NumWorkers:         2,
		Logger:             zaptest.NewLogger(t),
	}
}

func readYAMLFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func TestSetupWritesAgentConfigWithBundles(t *testing.T) {
	p := testParams(t)
	exp, err := New(p)
	require.NoError(t, err)

	cfg := readYAMLFile(t, filepath.Join(exp.Dir(), "agent.yaml"))
	agent := cfg["agent"].(map[string]any)
	bundles := agent["tools"].(map[string]any)["bundles"].([]any)
	require.Len(t, bundles, 3)
	// Chosen bundles come first, template bundles after.
	assert.Equal(t, "/bundles/searcher", bundles[0].(map[string]any)["path"])
	assert.Equal(t, "/bundles/lint_runner", bundles[1].(map[string]any)["path"])
	assert.Equal(t, "/base/bundle", bundles[2].(map[string]any)["path"])

	// The sampled batch is persisted alongside the configs.
	src, err := instances.Load(filepath.Join(exp.Dir(), "instances.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-1", "inst-2"}, src.IDs())
}

func TestSetupWritesSubagentConfigForSubagentToolsOnly(t *testing.T) {
	exp, err := New(testParams(t))
	require.NoError(t, err)

	cfg := readYAMLFile(t, filepath.Join(exp.Dir(), "subagent.yaml"))
	subagents := cfg["agent"].(map[string]any)["subagents"].([]any)
	require.Len(t, subagents, 1)
	entry := subagents[0].(map[string]any)
	assert.Equal(t, "searcher", entry["name"])
	templates := entry["templates"].(map[string]any)
	assert.Equal(t, "You locate code.", templates["system_template"])
	assert.Equal(t, "Find {{context}}", templates["instance_template"])
	// Template fields outside name/templates carry over.
	assert.Equal(t, "gpt-4o", entry["model"].(map[string]any)["name"])
}

func TestSetupDesignedConfigBypassesTemplateMerge(t *testing.T) {
	p := testParams(t)
	p.DesignedAgentConfig = map[string]any{"agent": map[string]any{"custom": true}}
	exp, err := New(p)
	require.NoError(t, err)

	cfg := readYAMLFile(t, filepath.Join(exp.Dir(), "agent.yaml"))
	assert.Equal(t, true, cfg["agent"].(map[string]any)["custom"])
}

func TestRunAgentFailureYieldsDegradedResult(t *testing.T) {
	p := testParams(t)
	runner := p.Runner.(*mocks.MockAgentRunner)
	runner.On("RunBatch", mock.Anything, mock.Anything).Return(errors.New("runner crashed"))

	exp, err := New(p)
	require.NoError(t, err)

	result, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 0, result.Unresolved)
	assert.Equal(t, "exp_001", result.ExperimentDir)
}

func TestRunNoPredictionsYieldsEmptyResult(t *testing.T) {
	p := testParams(t)
	runner := p.Runner.(*mocks.MockAgentRunner)
	runner.On("RunBatch", mock.Anything, mock.Anything).Return(nil)

	exp, err := New(p)
	require.NoError(t, err)

	result, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved+result.Unresolved)
	assert.Equal(t, 0.0, result.TotalCost)
}

func writeReport(t *testing.T, dir, instanceID string, resolved bool, f2p, p2p schemas.TestGroup) {
	t.Helper()
	report := schemas.EvaluationReport{
		instanceID: schemas.InstanceReport{
			Resolved: resolved,
			TestsStatus: schemas.TestsStatus{
				FailToPass: f2p,
				PassToPass: p2p,
			},
		},
	}
	sub := filepath.Join(dir, instanceID)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	data, err := json.Marshal(report)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "report.json"), data, 0o644))
}

func TestRunAggregatesReports(t *testing.T) {
	p := testParams(t)
	runner := p.Runner.(*mocks.MockAgentRunner)
	evaluator := p.Evaluator.(*mocks.MockPatchEvaluator)

	exp, err := New(p)
	require.NoError(t, err)

	// Three predictions, one with an empty patch.
	preds := map[string]schemas.Prediction{
		"inst-1": {InstanceID: "inst-1", ModelPatch: "diff --git a"},
		"inst-2": {InstanceID: "inst-2", ModelPatch: "diff --git b"},
		"inst-3": {InstanceID: "inst-3", ModelPatch: ""},
	}
	data, err := json.Marshal(preds)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(exp.TrajectoryDir(), "preds.json"), data, 0o644))

	runner.On("RunBatch", mock.Anything, mock.Anything).Return(nil)
	evaluator.On("Evaluate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		spec := args.Get(1).(schemas.EvaluationSpec)
		runEvalDir := filepath.Join(spec.WorkDir, "logs", "run_evaluation", spec.RunID)
		passing := schemas.TestGroup{Success: []string{"test_a"}}
		writeReport(t, runEvalDir, "inst-1", true, passing, passing)
		writeReport(t, runEvalDir, "inst-2", true, passing, passing)
	}).Return(nil)

	result, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Resolved)
	assert.Equal(t, 1, result.Unresolved)
	assert.GreaterOrEqual(t, result.F2PFailure, 1)
	assert.Equal(t, 2, result.F2PSuccess)
	assert.Equal(t, 2, result.P2PSuccess)

	// Metadata is written only after a completed run.
	meta := filepath.Join(exp.Dir(), MetaFilename)
	assert.FileExists(t, meta)
	metaData, err := os.ReadFile(meta)
	require.NoError(t, err)
	assert.Contains(t, string(metaData), "searcher")
	assert.Contains(t, string(metaData), "inst-1")
}

func TestGroupPassedRules(t *testing.T) {
	assert.True(t, groupPassed(schemas.TestGroup{Success: []string{"a"}}))
	assert.False(t, groupPassed(schemas.TestGroup{Success: []string{"a"}, Failure: []string{"b"}}))
	assert.False(t, groupPassed(schemas.TestGroup{}))
}

func TestExtractCost(t *testing.T) {
	p := testParams(t)
	exp, err := New(p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(exp.TrajectoryDir(), "run_batch_exit_statuses.yaml"),
		[]byte("total_cost: 3.25\nsubmitted: 2\n"), 0o644))
	assert.Equal(t, 3.25, exp.extractCost())
}

func TestExtractCostMissingFile(t *testing.T) {
	exp, err := New(testParams(t))
	require.NoError(t, err)
	assert.Equal(t, 0.0, exp.extractCost())
}

func TestResultSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := &Result{ExperimentDir: "exp_004", Resolved: 3, Unresolved: 7, TotalCost: 1.5, F2PSuccess: 2}
	require.NoError(t, r.Save(dir))

	loaded, err := LoadResult(dir)
	require.NoError(t, err)
	assert.Equal(t, r, loaded)
	assert.Equal(t, 0.3, loaded.ResolvedRate())
}
