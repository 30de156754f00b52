// File: internal/judge/judge.go

// Package judge implements the post-hoc helpfulness judgment: an LLM reads a
// formatted trajectory and decides whether a named tool's invocations caused
// measurable progress on the task.
package judge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/llmutil"
)

// PromptFilename is looked up in the configured prompt directory.
const PromptFilename = "check_if_subagent_helpful.txt"

// LLMJudge asks an LLM for a helpful/not-helpful verdict per tool per
// instance. Calls are rate limited since one iteration can fan out into
// batch_size * tool_count judgments.
type LLMJudge struct {
	client         schemas.LLMClient
	limiter        *rate.Limiter
	promptTemplate string
	temperature    float64
	logger         *zap.Logger
}

// NewLLMJudge loads the judgment prompt from promptDir and wires the rate
// limiter from config.
func NewLLMJudge(cfg config.JudgeConfig, promptDir string, client schemas.LLMClient, logger *zap.Logger) (*LLMJudge, error) {
	promptPath := filepath.Join(promptDir, PromptFilename)
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read judge prompt %s: %w", promptPath, err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &LLMJudge{
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		promptTemplate: string(data),
		temperature:    cfg.Temperature,
		logger:         logger.Named("judge"),
	}, nil
}

// JudgeHelpfulness renders the prompt with the trajectory text and tool name
// and parses the model's YAML verdict. A missing helpful key counts as a
// negative verdict, not an error.
func (j *LLMJudge) JudgeHelpfulness(ctx context.Context, toolName, trajectoryText string) (bool, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("judge rate limiter aborted: %w", err)
	}

	prompt := strings.ReplaceAll(j.promptTemplate, "{{TRAJECTORIES}}", trajectoryText)
	prompt = strings.ReplaceAll(prompt, "{{TOOL_NAME}}", toolName)

	response, err := j.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Tier:       schemas.TierFast,
		Options:    schemas.GenerationOptions{Temperature: j.temperature},
	})
	if err != nil {
		return false, fmt.Errorf("helpfulness judgment for %s failed: %w", toolName, err)
	}

	parsed, err := llmutil.ExtractYAML(response, "")
	if err != nil {
		return false, fmt.Errorf("helpfulness verdict for %s unparseable: %w", toolName, err)
	}
	helpful, _ := parsed["helpful"].(bool)
	j.logger.Debug("Helpfulness verdict",
		zap.String("tool", toolName),
		zap.Bool("helpful", helpful))
	return helpful, nil
}
