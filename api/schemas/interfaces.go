package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections).
	Close() error
}

// -- Agent Execution Interfaces --

// AgentRunSpec describes one batch run handed to the agent runner. The agent
// configuration and instance batch are already materialized on disk; the
// runner writes one trajectory per instance (plus one per subagent
// invocation) under OutputDir, along with a predictions file.
type AgentRunSpec struct {
	AgentConfigPath    string // Merged main-agent configuration (YAML).
	SubagentConfigPath string // Subagent definitions to merge in (YAML).
	InstancesPath      string // Sampled instance batch (YAML).
	OutputDir          string // Trajectory and predictions output directory.
	NumWorkers         int    // Parallelism inside the runner process.
}

// AgentRunner executes a coding agent over a batch of task instances. The
// call is an opaque blocking operation from the caller's perspective.
type AgentRunner interface {
	RunBatch(ctx context.Context, spec AgentRunSpec) error
}

// EvaluationSpec describes one harness evaluation of produced patches.
type EvaluationSpec struct {
	PredictionsPath string // Path to the predictions list (JSON), relative to WorkDir.
	RunID           string // Unique id; reports land under logs/run_evaluation/<RunID>.
	WorkDir         string // Directory the harness runs from, so logs stay with the run.
}

// PatchEvaluator runs the evaluation harness over a predictions file. Report
// files are read from disk afterward; a harness failure is recorded by the
// caller, not propagated as a crash.
type PatchEvaluator interface {
	Evaluate(ctx context.Context, spec EvaluationSpec) error
}

// HelpfulnessJudge decides whether a named tool's invocations caused
// measurable progress in the given formatted trajectory text.
type HelpfulnessJudge interface {
	JudgeHelpfulness(ctx context.Context, toolName, trajectoryText string) (bool, error)
}
