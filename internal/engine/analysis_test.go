// File: internal/engine/analysis_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/experiment"
	"github.com/xkilldash9x/toolforge/internal/instances"
	"github.com/xkilldash9x/toolforge/internal/mocks"
)

const mainTraj = `{
	"history": [
		{"role": "user", "content": "Fix the bug", "agent": "main"},
		{"role": "assistant", "content": "Looking into it", "agent": "main"}
	],
	"info": {"exit_status": "submitted", "submission": "diff"}
}`

func subagentTraj(tokens int) string {
	return fmt.Sprintf(`{
	"history": [
		{"role": "user", "content": "Find the fault", "agent": "searcher"},
		{"role": "assistant", "content": "Found it in utils.py", "agent": "searcher"}
	],
	"info": {"model_stats": {"tokens_sent": %d, "tokens_received": 0}}
}`, tokens)
}

// analysisFixture builds an experiment dir with one instance that called the
// searcher subagent twice.
func analysisFixture(t *testing.T, e *Engine) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.Params{
		EvolutionOutputDir: e.cfg.OutputDir,
		ExpNum:             1,
		ChosenTools:        nil,
		Instances:          &instances.Source{Instances: []instances.Instance{{"id": "inst-1"}}},
		TemplateDir:        e.cfg.TemplateDir,
		Runner:             new(mocks.MockAgentRunner),
		Evaluator:          new(mocks.MockPatchEvaluator),
		NumWorkers:         1,
		Logger:             e.logger,
	})
	require.NoError(t, err)

	instDir := filepath.Join(exp.TrajectoryDir(), "inst-1")
	require.NoError(t, os.MkdirAll(instDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(instDir, "inst-1.traj"), []byte(mainTraj), 0o644))
	for call, tokens := range map[int]int{1: 800, 2: 450} {
		dir := filepath.Join(instDir, fmt.Sprintf("subagent_searcher_%d", call))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "run.traj"), []byte(subagentTraj(tokens)), 0o644))
	}
	return exp
}

func analysisEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngine(t, config.EvolutionConfig{
		OutputDir:   t.TempDir(),
		TemplateDir: writeTemplates(t),
	})
}

func TestUpdateHelpfulCountsIncrementsOnPositiveVerdict(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	tool := &archive.Tool{Name: "searcher", Subagent: true}

	judge := new(mocks.MockHelpfulnessJudge)
	judge.On("JudgeHelpfulness", mock.Anything, "searcher", mock.MatchedBy(func(text string) bool {
		return len(text) > 0
	})).Return(true, nil).Once()
	e.judge = judge

	e.updateHelpfulCounts(context.Background(), exp, []*archive.Tool{tool})

	assert.Equal(t, 1, tool.HelpfulCount)
	judge.AssertExpectations(t)
}

func TestUpdateHelpfulCountsSkipsToolWithoutInvocations(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	idle := &archive.Tool{Name: "idle_tool", Subagent: true}

	judge := new(mocks.MockHelpfulnessJudge)
	e.judge = judge

	e.updateHelpfulCounts(context.Background(), exp, []*archive.Tool{idle})

	assert.Zero(t, idle.HelpfulCount)
	judge.AssertNotCalled(t, "JudgeHelpfulness", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateHelpfulCountsSkipsInstanceWithoutMainTrajectory(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	// Remove the main trajectory; the subagent runs alone prove nothing.
	require.NoError(t, os.Remove(filepath.Join(exp.TrajectoryDir(), "inst-1", "inst-1.traj")))
	tool := &archive.Tool{Name: "searcher", Subagent: true}

	judge := new(mocks.MockHelpfulnessJudge)
	e.judge = judge

	e.updateHelpfulCounts(context.Background(), exp, []*archive.Tool{tool})

	assert.Zero(t, tool.HelpfulCount)
	judge.AssertNotCalled(t, "JudgeHelpfulness", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateHelpfulCountsSurvivesJudgeFailure(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	tool := &archive.Tool{Name: "searcher", Subagent: true}

	judge := new(mocks.MockHelpfulnessJudge)
	judge.On("JudgeHelpfulness", mock.Anything, "searcher", mock.Anything).
		Return(false, errors.New("rate limited"))
	e.judge = judge

	e.updateHelpfulCounts(context.Background(), exp, []*archive.Tool{tool})

	assert.Zero(t, tool.HelpfulCount)
}

func TestUpdateTokenCountsAccumulatesPerInvocation(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	tool := &archive.Tool{Name: "searcher", Subagent: true}

	e.updateTokenCounts(exp, []*archive.Tool{tool})

	assert.Equal(t, 1250, tool.TotalTokenCount)
	assert.Equal(t, 2, tool.SubagentInvokedCount)
	assert.InDelta(t, 625.0, tool.AverageTokenCount, 1e-9)
}

func TestUpdateTokenCountsIgnoresZeroTokenRuns(t *testing.T) {
	e := analysisEngine(t)
	exp := analysisFixture(t, e)
	// A trajectory with no model stats records no usage.
	dir := filepath.Join(exp.TrajectoryDir(), "inst-1", "subagent_searcher_3")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.traj"), []byte(`{"history": []}`), 0o644))
	tool := &archive.Tool{Name: "searcher", Subagent: true}

	e.updateTokenCounts(exp, []*archive.Tool{tool})

	assert.Equal(t, 2, tool.SubagentInvokedCount)
	assert.Equal(t, 1250, tool.TotalTokenCount)
}
