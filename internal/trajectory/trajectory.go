// File: internal/trajectory/trajectory.go

// Package trajectory parses and formats SWE-agent .traj files. Trajectories
// are the raw material for tool mining, helpfulness judging, and token
// accounting.
package trajectory

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FlexibleText is a history content field that may arrive either as a plain
// string or as a list of content blocks. Block lists are flattened to their
// text parts.
type FlexibleText string

func (f *FlexibleText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleText(s)
		return nil
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content is neither a string nor a block list: %w", err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	*f = FlexibleText(strings.Join(parts, "\n"))
	return nil
}

// HistoryItem is a single turn in the agent's conversation history.
type HistoryItem struct {
	Role        string       `json:"role"`
	Content     FlexibleText `json:"content"`
	MessageType string       `json:"message_type"`
	Agent       string       `json:"agent"`
}

// ModelStats holds token and cost usage for one agent run.
type ModelStats struct {
	InstanceCost   float64 `json:"instance_cost"`
	TokensSent     int     `json:"tokens_sent"`
	TokensReceived int     `json:"tokens_received"`
	APICalls       int     `json:"api_calls"`
}

// AgentInfo is the run metadata SWE-agent records alongside the history.
type AgentInfo struct {
	ExitStatus string      `json:"exit_status"`
	Submission string      `json:"submission"`
	ModelStats *ModelStats `json:"model_stats"`
}

// Trajectory is the parsed form of a .traj file. Only the fields the
// evolution pipeline consumes are modeled.
type Trajectory struct {
	History     []HistoryItem `json:"history"`
	Info        *AgentInfo    `json:"info"`
	Environment string        `json:"environment"`
}

// Load reads and parses a .traj file.
func Load(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory %s: %w", path, err)
	}
	var traj Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return nil, fmt.Errorf("failed to parse trajectory %s: %w", path, err)
	}
	return &traj, nil
}

// TotalTokens returns tokens sent plus received, or zero when the run
// recorded no model stats.
func (t *Trajectory) TotalTokens() int {
	if t.Info == nil || t.Info.ModelStats == nil {
		return 0
	}
	return t.Info.ModelStats.TokensSent + t.Info.ModelStats.TokensReceived
}

// FinalSubmission returns the patch the agent submitted, if any.
func (t *Trajectory) FinalSubmission() string {
	if t.Info == nil {
		return ""
	}
	return t.Info.Submission
}

// WasSubmitted reports whether the run produced a non-empty submission.
func (t *Trajectory) WasSubmitted() bool {
	return strings.TrimSpace(t.FinalSubmission()) != ""
}
