// ABOUTME: Newline-delimited JSON protocol spoken between the gateway and HTTP agent runners
// ABOUTME: One request object in, a stream of event objects out, ending in result or error

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/store"
)

// Wire event types.
const (
	WireTextDelta = "text_delta"
	WireToolCall  = "tool_call"
	WireHandoff   = "handoff"
	WireResult    = "result"
	WireError     = "error"
)

// WireRequest is the body POSTed to an HTTP runner.
type WireRequest struct {
	SessionID string            `json:"session_id"`
	Agent     string            `json:"agent"`
	Input     string            `json:"input"`
	History   []store.LogRecord `json:"history"`
	MaxTurns  int               `json:"max_turns"`
	Stream    bool              `json:"stream"`
}

// WireEvent is one line of the runner's response stream.
type WireEvent struct {
	Type      string `json:"type"`
	Delta     string `json:"delta,omitempty"`
	Name      string `json:"name,omitempty"`
	Phase     string `json:"phase,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	ToAgent   string `json:"to_agent,omitempty"`
	FinalText string `json:"final_text,omitempty"`
	LastAgent string `json:"last_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// convertEvent maps a streamed wire event to a StreamEvent. ok is false for
// result, error, and unknown types.
func convertEvent(w WireEvent) (ev StreamEvent, ok bool) {
	switch w.Type {
	case WireTextDelta:
		return StreamEvent{Kind: EventTextDelta, Delta: w.Delta}, true
	case WireToolCall:
		kind := EventToolCallStart
		if w.Phase == events.PhaseEnd {
			kind = EventToolCallEnd
		}
		return StreamEvent{
			Kind:      kind,
			ToolName:  w.Name,
			CallID:    w.CallID,
			Arguments: w.Arguments,
			Output:    w.Output,
		}, true
	case WireHandoff:
		return StreamEvent{Kind: EventHandoff, ToAgent: w.ToAgent}, true
	default:
		return StreamEvent{}, false
	}
}

// wireEventFor is the inverse of convertEvent.
func wireEventFor(ev StreamEvent) WireEvent {
	switch ev.Kind {
	case EventTextDelta:
		return WireEvent{Type: WireTextDelta, Delta: ev.Delta}
	case EventToolCallStart:
		return WireEvent{Type: WireToolCall, Phase: events.PhaseStart, Name: ev.ToolName, CallID: ev.CallID, Arguments: ev.Arguments}
	case EventToolCallEnd:
		return WireEvent{Type: WireToolCall, Phase: events.PhaseEnd, Name: ev.ToolName, CallID: ev.CallID, Output: ev.Output}
	default:
		return WireEvent{Type: WireHandoff, ToAgent: ev.ToAgent}
	}
}

// writeWireEvent writes ev as one line.
func writeWireEvent(w io.Writer, ev WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding runner event: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// recordHistory serves a fixed slice of records, as received over the wire.
type recordHistory []store.LogRecord

func (h recordHistory) Read(_ context.Context, limit int) ([]store.LogRecord, error) {
	if limit <= 0 || limit >= len(h) {
		return h, nil
	}
	return h[len(h)-limit:], nil
}
