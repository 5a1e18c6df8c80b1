// ABOUTME: Session digest generation for archiving
// ABOUTME: RunnerSummarizer asks the configured agent runner for a one-sentence summary

package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/murmur-gateway/internal/agent"
)

// Summarizer produces a short digest from "role: text" transcript lines.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string, lines []string) (string, error)
}

// SummarizerFunc adapts a plain function to Summarizer.
type SummarizerFunc func(ctx context.Context, sessionID string, lines []string) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, sessionID string, lines []string) (string, error) {
	return f(ctx, sessionID, lines)
}

const summaryPrompt = "Summarize the following conversation in one concise sentence. " +
	"Reply with the sentence only.\n\n"

// RunnerSummarizer summarizes through an agent runner in non-streaming mode.
type RunnerSummarizer struct {
	runner agent.Runner
	agent  agent.Handle
}

// NewRunnerSummarizer creates a summarizer that runs the prompt as agentName.
func NewRunnerSummarizer(runner agent.Runner, agentName string) *RunnerSummarizer {
	return &RunnerSummarizer{runner: runner, agent: agent.Handle{Name: agentName}}
}

func (s *RunnerSummarizer) Summarize(ctx context.Context, sessionID string, lines []string) (string, error) {
	res, err := s.runner.Run(ctx, agent.RunRequest{
		SessionID: sessionID,
		Agent:     s.agent,
		Input:     summaryPrompt + strings.Join(lines, "\n"),
		MaxTurns:  1,
	}, func(agent.StreamEvent) {})
	if err != nil {
		return "", fmt.Errorf("summarizing session %s: %w", sessionID, err)
	}
	if res == nil {
		return "", nil
	}
	return strings.TrimSpace(res.FinalText), nil
}
