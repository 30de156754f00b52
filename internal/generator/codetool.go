// File: internal/generator/codetool.go
package generator

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/archive"
	"github.com/xkilldash9x/toolforge/internal/llmutil"
	"github.com/xkilldash9x/toolforge/internal/trajectory"
)

// CodeToolPromptFilename asks the LLM to mine a reusable script out of a
// trajectory's repeated manual steps.
const CodeToolPromptFilename = "generate_tool_code_prompt.txt"

// codeToolResponse is the YAML document the mining prompt requests.
type codeToolResponse struct {
	Tool struct {
		Name      string           `yaml:"name"`
		Signature string           `yaml:"signature"`
		Docstring string           `yaml:"docstring"`
		Arguments []map[string]any `yaml:"arguments"`
	} `yaml:"tool"`
	Code          string `yaml:"code"`
	InstallScript string `yaml:"install_script"`
}

// CodeToolGenerator mines installable code tools from past trajectories.
type CodeToolGenerator struct {
	client      schemas.LLMClient
	promptDir   string
	temperature float64
	logger      *zap.Logger
}

func NewCodeToolGenerator(client schemas.LLMClient, promptDir string, temperature float64, logger *zap.Logger) *CodeToolGenerator {
	return &CodeToolGenerator{
		client:      client,
		promptDir:   promptDir,
		temperature: temperature,
		logger:      logger.Named("code_tool_generator"),
	}
}

// GenerateFromTrajectory renders the trajectory, asks the LLM for a script
// worth extracting, and materializes it as a code tool bundle under the
// archive's tools directory.
func (g *CodeToolGenerator) GenerateFromTrajectory(ctx context.Context, arch *archive.Archive, trajPath string, expNum int) (*archive.Tool, error) {
	formatted, err := trajectory.FormatFile(trajPath)
	if err != nil {
		return nil, fmt.Errorf("failed to format trajectory for mining: %w", err)
	}

	promptData, err := readPromptFile(g.promptDir, CodeToolPromptFilename)
	if err != nil {
		return nil, err
	}
	prompt := promptData + "\n\n=== TRAJECTORY START ===\n\n" + formatted

	response, err := g.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Tier:       schemas.TierPowerful,
		Options:    schemas.GenerationOptions{Temperature: g.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("code tool generation failed: %w", err)
	}

	parsed, err := llmutil.ParseYAMLResponse[codeToolResponse](response)
	if err != nil {
		return nil, fmt.Errorf("code tool response unparseable: %w", err)
	}
	if parsed.Tool.Name == "" || parsed.Code == "" {
		return nil, fmt.Errorf("code tool response missing name or code")
	}

	uniqueName := DeduplicateToolName(parsed.Tool.Name, arch)
	codeDict := map[string]string{"code": parsed.Code}
	if parsed.InstallScript != "" {
		codeDict["install_script"] = parsed.InstallScript
	}

	tool := &archive.Tool{
		Name:      uniqueName,
		Signature: parsed.Tool.Signature,
		Docstring: parsed.Tool.Docstring,
		Arguments: parsed.Tool.Arguments,
		BundleDir: filepath.Join(arch.OutputDir(), "tools", "diy_"+uniqueName),
		Subagent:  false,
		CodeDict:  codeDict,
		ExpNum:    expNum,
	}
	if err := tool.WriteBundle(); err != nil {
		return nil, fmt.Errorf("failed to write code tool bundle for %s: %w", uniqueName, err)
	}
	g.logger.Info("Mined new code tool",
		zap.String("name", uniqueName),
		zap.String("trajectory", trajPath),
		zap.Int("exp_num", expNum))
	return tool, nil
}
