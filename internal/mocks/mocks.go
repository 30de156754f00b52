// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/toolforge/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Agent Runner Mock --

// MockAgentRunner mocks the schemas.AgentRunner interface.
type MockAgentRunner struct {
	mock.Mock
}

func (m *MockAgentRunner) RunBatch(ctx context.Context, spec schemas.AgentRunSpec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

// -- Patch Evaluator Mock --

// MockPatchEvaluator mocks the schemas.PatchEvaluator interface.
type MockPatchEvaluator struct {
	mock.Mock
}

func (m *MockPatchEvaluator) Evaluate(ctx context.Context, spec schemas.EvaluationSpec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

// -- Helpfulness Judge Mock --

// MockHelpfulnessJudge mocks the schemas.HelpfulnessJudge interface.
type MockHelpfulnessJudge struct {
	mock.Mock
}

func (m *MockHelpfulnessJudge) JudgeHelpfulness(ctx context.Context, toolName, trajectoryText string) (bool, error) {
	args := m.Called(ctx, toolName, trajectoryText)
	return args.Bool(0), args.Error(1)
}
