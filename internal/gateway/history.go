// ABOUTME: Converts stored transcript records into client events for replay
// ABOUTME: Used when a connection binds to a session, before live events flow

package gateway

import (
	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/store"
)

const defaultToolName = "tool"

// historyEvents maps records to the events a live turn would have produced.
// Tool outputs carry the name of the call that preceded them. Blank chat
// records are skipped.
func historyEvents(sessionID string, records []store.LogRecord) []events.Envelope {
	out := make([]events.Envelope, 0, len(records))
	lastTool := ""

	for _, r := range records {
		switch {
		case r.Role == store.RoleUser:
			if r.Content == "" {
				continue
			}
			out = append(out, historyEnvelope(events.TypeUserMessage, sessionID, r,
				events.UserMessage{MessageID: r.ID, Text: string(r.Content)}))

		case r.Role == store.RoleAssistant:
			if r.Content == "" {
				continue
			}
			out = append(out, historyEnvelope(events.TypeAssistantMessage, sessionID, r,
				events.AssistantMessage{MessageID: r.ID, Text: string(r.Content), Agent: r.Agent}))

		case r.Event == store.EventFunctionCall:
			lastTool = r.Name
			if lastTool == "" {
				lastTool = defaultToolName
			}
			out = append(out, historyEnvelope(events.TypeToolCall, sessionID, r,
				events.ToolCall{Name: lastTool, Phase: events.PhaseStart, CallID: r.CallID}))

		case r.Event == store.EventFunctionCallOutput:
			name := lastTool
			if name == "" {
				name = defaultToolName
			}
			lastTool = ""
			out = append(out, historyEnvelope(events.TypeToolCall, sessionID, r,
				events.ToolCall{Name: name, Phase: events.PhaseEnd, CallID: r.CallID}))

		case r.Event == store.EventAgentHandoff:
			if r.ToAgent == "" {
				continue
			}
			out = append(out, historyEnvelope(events.TypeAgentHandoff, sessionID, r,
				events.AgentHandoff{ToAgent: r.ToAgent}))
		}
	}
	return out
}

// historyEnvelope keeps the record's own timestamp (zero if it had none).
func historyEnvelope(typ events.Type, sessionID string, r store.LogRecord, payload any) events.Envelope {
	return events.Envelope{Type: typ, SessionID: sessionID, Payload: payload, Ts: r.Timestamp}
}
