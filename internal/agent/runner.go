// ABOUTME: Contract between the conversation layer and an external agent runner
// ABOUTME: Defines run requests, streamed events, and the explicit turn result

package agent

import (
	"context"
	"errors"

	"github.com/2389/murmur-gateway/internal/store"
)

// ErrRunnerUnavailable indicates the runner could not be reached or refused
// the turn.
var ErrRunnerUnavailable = errors.New("agent runner unavailable")

// DefaultMaxTurns caps the model/tool round trips of one user turn.
const DefaultMaxTurns = 20

// Handle identifies the agent that currently owns a session's conversation.
type Handle struct {
	Name string
}

// History gives a runner read access to the session transcript.
type History interface {
	Read(ctx context.Context, limit int) ([]store.LogRecord, error)
}

// RunRequest is one user turn handed to a runner.
type RunRequest struct {
	SessionID string
	Agent     Handle
	Input     string
	History   History
	MaxTurns  int
	Stream    bool
}

// EventKind enumerates streamed runner events.
type EventKind int

const (
	// EventTextDelta carries a fragment of the assistant reply.
	EventTextDelta EventKind = iota
	// EventToolCallStart reports that the agent invoked a tool.
	EventToolCallStart
	// EventToolCallEnd reports a tool's output.
	EventToolCallEnd
	// EventHandoff reports that another agent took over.
	EventHandoff
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCallStart:
		return "tool_call_start"
	case EventToolCallEnd:
		return "tool_call_end"
	case EventHandoff:
		return "handoff"
	default:
		return "unknown"
	}
}

// StreamEvent is one incremental event observed while a turn runs. Only the
// fields relevant to Kind are set.
type StreamEvent struct {
	Kind      EventKind
	Delta     string
	ToolName  string
	CallID    string
	Arguments string
	Output    string
	ToAgent   string
}

// Result is the outcome of a completed turn. FinalText may be empty when the
// runner reports no output (the caller falls back to the streamed deltas).
// NextAgent is nil when the acting agent did not change.
type Result struct {
	FinalText string
	NextAgent *Handle
}

// Runner executes one turn. Events are passed to emit in the order they
// occur, from the calling goroutine, before Run returns. emit may be nil.
type Runner interface {
	Run(ctx context.Context, req RunRequest, emit func(StreamEvent)) (*Result, error)
}
