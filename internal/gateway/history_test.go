// ABOUTME: Tests for converting transcript records into replay events
// ABOUTME: Covers tool name carry-over, blank record skipping, and timestamps

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/store"
)

func TestHistoryEvents(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []store.LogRecord{
		{ID: "u1", Role: store.RoleUser, Content: "hi", Timestamp: ts},
		{Role: store.RoleAssistant, Content: ""},
		{Event: store.EventFunctionCall, Name: "", CallID: "c1"},
		{Event: store.EventFunctionCallOutput, CallID: "c1"},
		{Event: store.EventFunctionCallOutput, CallID: "c2"},
		{Event: store.EventAgentHandoff},
		{ID: "a1", Role: store.RoleAssistant, Agent: "Main", Content: "hello"},
	}

	got := historyEvents("5", records)
	require.Len(t, got, 5)

	assert.Equal(t, events.TypeUserMessage, got[0].Type)
	assert.Equal(t, ts, got[0].Ts)
	assert.Equal(t, events.UserMessage{MessageID: "u1", Text: "hi"}, got[0].Payload)

	assert.Equal(t, events.ToolCall{Name: "tool", Phase: events.PhaseStart, CallID: "c1"}, got[1].Payload)
	assert.Equal(t, events.ToolCall{Name: "tool", Phase: events.PhaseEnd, CallID: "c1"}, got[2].Payload)
	assert.Equal(t, events.ToolCall{Name: "tool", Phase: events.PhaseEnd, CallID: "c2"}, got[3].Payload)

	assert.Equal(t, events.TypeAssistantMessage, got[4].Type)
	assert.Equal(t, events.AssistantMessage{MessageID: "a1", Text: "hello", Agent: "Main"}, got[4].Payload)
	for _, env := range got {
		assert.Equal(t, "5", env.SessionID)
	}
}
