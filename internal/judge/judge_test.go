// File: internal/judge/judge_test.go
package judge

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

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/mocks"
)

const judgePrompt = "Did the tool {{TOOL_NAME}} help?\n\n{{TRAJECTORIES}}\n\nAnswer in YAML."

func newTestJudge(t *testing.T, client schemas.LLMClient) *LLMJudge {
	t.Helper()
	promptDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(promptDir, PromptFilename), []byte(judgePrompt), 0o644))

	j, err := NewLLMJudge(config.JudgeConfig{RequestsPerMinute: 6000}, promptDir, client, zaptest.NewLogger(t))
	require.NoError(t, err)
	return j
}

func TestNewLLMJudgeMissingPrompt(t *testing.T) {
	_, err := NewLLMJudge(config.JudgeConfig{}, t.TempDir(), new(mocks.MockLLMClient), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestJudgeHelpfulnessSubstitutesPrompt(t *testing.T) {
	client := new(mocks.MockLLMClient)
	var captured schemas.GenerationRequest
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(schemas.GenerationRequest)
	}).Return("```yaml\nhelpful: true\n```", nil)

	j := newTestJudge(t, client)
	helpful, err := j.JudgeHelpfulness(context.Background(), "searcher", "AGENT: used searcher")
	require.NoError(t, err)
	assert.True(t, helpful)
	assert.Contains(t, captured.UserPrompt, "searcher")
	assert.Contains(t, captured.UserPrompt, "AGENT: used searcher")
	assert.NotContains(t, captured.UserPrompt, "{{TOOL_NAME}}")
	assert.Equal(t, schemas.TierFast, captured.Tier)
}

func TestJudgeHelpfulnessNegativeVerdict(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("helpful: false", nil)

	helpful, err := newTestJudge(t, client).JudgeHelpfulness(context.Background(), "t", "traj")
	require.NoError(t, err)
	assert.False(t, helpful)
}

func TestJudgeHelpfulnessMissingKeyIsNegative(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("verdict: yes", nil)

	helpful, err := newTestJudge(t, client).JudgeHelpfulness(context.Background(), "t", "traj")
	require.NoError(t, err)
	assert.False(t, helpful)
}

func TestJudgeHelpfulnessGenerateError(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("api down"))

	_, err := newTestJudge(t, client).JudgeHelpfulness(context.Background(), "t", "traj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helpfulness judgment")
}

func TestJudgeHelpfulnessUnparseableResponse(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("```yaml\nhelpful: true", nil)

	_, err := newTestJudge(t, client).JudgeHelpfulness(context.Background(), "t", "traj")
	require.Error(t, err)
}
