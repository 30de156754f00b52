// File: internal/generator/mainagent_test.go
package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/mocks"
)

func baseAgentConfig() map[string]any {
	return map[string]any{
		"agent": map[string]any{
			"templates": map[string]any{
				"instance_template": "Task: {{problem_statement}}\n\nPlan:\n{{plan}}",
			},
			"tools": map[string]any{
				"bundles": []any{map[string]any{"path": "/base/bundle"}},
			},
		},
	}
}

func planTools() []*archive.Tool {
	return []*archive.Tool{
		{
			Name:      "searcher",
			Signature: "searcher(context: str)",
			Docstring: "Finds code.",
			BundleDir: "/bundles/searcher",
			Arguments: []map[string]any{{"name": "context", "type": "string", "required": true, "description": "what to find"}},
		},
	}
}

func TestGenerateAgentConfig(t *testing.T) {
	client := new(mocks.MockLLMClient)
	var captured string
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(schemas.GenerationRequest).UserPrompt
	}).Return("1. Search the code.\n2. Fix it.", nil)

	m := NewMainAgentGenerator(client, writePrompts(t), 0.0, zaptest.NewLogger(t))
	base := baseAgentConfig()
	cfg, err := m.GenerateAgentConfig(context.Background(), base, planTools())
	require.NoError(t, err)

	agent := cfg["agent"].(map[string]any)
	bundles := agent["tools"].(map[string]any)["bundles"].([]any)
	require.Len(t, bundles, 2)
	assert.Equal(t, "/bundles/searcher", bundles[0].(map[string]any)["path"])
	assert.Equal(t, "/base/bundle", bundles[1].(map[string]any)["path"])

	tmpl := agent["templates"].(map[string]any)["instance_template"].(string)
	assert.Contains(t, tmpl, "1. Search the code.")
	assert.NotContains(t, tmpl, "{{plan}}")

	// The overview reached the plan prompt.
	assert.Contains(t, captured, "searcher(context: str)")
	assert.NotContains(t, captured, "{{subagents_overview}}")

	// The base config is untouched.
	baseTmpl := base["agent"].(map[string]any)["templates"].(map[string]any)["instance_template"].(string)
	assert.Contains(t, baseTmpl, "{{plan}}")
}

func TestGenerateAgentConfigFallbackPlan(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("api down"))

	m := NewMainAgentGenerator(client, writePrompts(t), 0.0, zaptest.NewLogger(t))
	cfg, err := m.GenerateAgentConfig(context.Background(), baseAgentConfig(), planTools())
	require.NoError(t, err)

	tmpl := cfg["agent"].(map[string]any)["templates"].(map[string]any)["instance_template"].(string)
	assert.Contains(t, tmpl, "use the submit tool")
	assert.NotContains(t, tmpl, "{{plan}}")
}

func TestRenderToolOverview(t *testing.T) {
	overview := renderToolOverview(planTools())
	assert.Contains(t, overview, "searcher:")
	assert.Contains(t, overview, "docstring: Finds code.")
	assert.Contains(t, overview, "context (string) [required: true]: what to find")
}
