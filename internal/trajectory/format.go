// File: internal/trajectory/format.go
package trajectory

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MaxWords caps user/observation turns when rendering for an LLM.
	MaxWords = 180
	// MaxTurns caps how many history turns are rendered per trajectory.
	MaxTurns = 60
)

// Message is one rendered conversation turn.
type Message struct {
	Role           string
	Content        string
	MessageType    string
	Agent          string
	OriginalLength int
}

// Processed is a trajectory reduced to the conversation view the prompt
// builders consume.
type Processed struct {
	Conversation          []Message
	Submission            string
	OriginalTotalMessages int
	Truncated             bool
	MaxTurnsLimit         int
}

// TruncateText caps text at maxWords words, appending a marker with the
// original length when truncation happens.
func TruncateText(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + fmt.Sprintf(" [truncated - %d words total]", len(words))
}

// Process reduces a trajectory to at most maxTurns turns. Assistant turns are
// trimmed to their function call when one is present; user turns are word
// truncated.
func Process(traj *Trajectory, maxTurns int) *Processed {
	history := traj.History
	originalLen := len(history)
	if len(history) > maxTurns {
		history = history[:maxTurns]
	}

	conversation := make([]Message, 0, len(history))
	for _, item := range history {
		content := string(item.Content)
		agent := item.Agent
		if agent == "" {
			agent = "main"
		}
		msg := Message{
			Role:        item.Role,
			MessageType: item.MessageType,
			Agent:       agent,
		}

		switch item.Role {
		case "assistant":
			if start := strings.Index(content, "<function="); start != -1 {
				if end := strings.Index(content[start:], "</function>"); end != -1 {
					content = content[start : start+end+len("</function>")]
				} else {
					content = content[start:]
				}
			}
			msg.Content = content
		case "user":
			msg.Content = TruncateText(content, MaxWords)
			msg.OriginalLength = len(strings.Fields(content))
		case "system":
			msg.Content = content
		default:
			continue
		}
		conversation = append(conversation, msg)
	}

	return &Processed{
		Conversation:          conversation,
		Submission:            traj.FinalSubmission(),
		OriginalTotalMessages: originalLen,
		Truncated:             originalLen > maxTurns,
		MaxTurnsLimit:         maxTurns,
	}
}

// FormatConversation renders a processed trajectory as the plain text block
// fed into generation and judging prompts.
func FormatConversation(p *Processed) string {
	var lines []string

	if p.Truncated {
		lines = append(lines,
			fmt.Sprintf("[TRAJECTORY TRUNCATED: Showing first %d of %d total messages]", p.MaxTurnsLimit, p.OriginalTotalMessages),
			strings.Repeat("=", 80))
	}

	for _, msg := range p.Conversation {
		switch msg.Role {
		case "assistant":
			lines = append(lines, "AGENT: "+msg.Content)
		case "user":
			lines = append(lines, msg.Content)
			if msg.OriginalLength > MaxWords {
				lines = append(lines, fmt.Sprintf("[Note: Original message was %d words, truncated to %d]", msg.OriginalLength, MaxWords))
			}
		case "system":
			lines = append(lines, "SYSTEM: "+msg.Content)
		}
		lines = append(lines, "")
	}

	if p.Submission != "" {
		lines = append(lines, "SUBMISSION:", p.Submission)
	}
	return strings.Join(lines, "\n")
}

// FormatFile loads and renders a single .traj file.
func FormatFile(path string) (string, error) {
	traj, err := Load(path)
	if err != nil {
		return "", err
	}
	return FormatConversation(Process(traj, MaxTurns)), nil
}

// FormatFiles renders several trajectories from the same instance into one
// block, labeling the first as the main agent and the rest as subagents.
func FormatFiles(paths []string) (string, error) {
	parts := make([]string, 0, len(paths)*2)
	for i, path := range paths {
		name := filepath.Base(path)
		if i == 0 {
			parts = append(parts, fmt.Sprintf("=== MAIN AGENT TRAJECTORY: %s ===", name))
		} else {
			parts = append(parts, fmt.Sprintf("=== SUBAGENT TRAJECTORY: %s ===", name))
		}
		formatted, err := FormatFile(path)
		if err != nil {
			return "", err
		}
		parts = append(parts, formatted)
	}
	return strings.Join(parts, "\n"), nil
}
