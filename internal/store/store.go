// ABOUTME: Record types and sentinel errors for murmur-gateway session persistence
// ABOUTME: Defines LogRecord (one transcript line), session id validation, and shared errors

package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when no transcript exists for a session id
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSessionID is returned for ids that are not decimal digit strings
var ErrInvalidSessionID = errors.New("invalid session id")

// Role values for chat-turn records
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event values for side-channel records
const (
	EventFunctionCall       = "function_call"
	EventFunctionCallOutput = "function_call_output"
	EventAgentHandoff       = "agent_handoff"
)

// maxSessionIDLen bounds ids to what fits in an int64 millisecond timestamp.
const maxSessionIDLen = 19

// LogRecord is one line of a session transcript. Chat turns set Role and
// Content; side-channel activity sets Event and the fields that event uses.
type LogRecord struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Content   Content   `json:"content,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Event     string    `json:"event,omitempty"`
	Name      string    `json:"name,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Output    string    `json:"output,omitempty"`
	ToAgent   string    `json:"to_agent,omitempty"`
	Timestamp time.Time `json:"ts,omitzero"`
}

// UnmarshalJSON accepts the legacy "type" discriminant used by runner SDK
// session items in place of "event".
func (r *LogRecord) UnmarshalJSON(data []byte) error {
	type plain LogRecord
	var aux struct {
		plain
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = LogRecord(aux.plain)
	if r.Event == "" && aux.Type != "" && aux.Type != "message" {
		r.Event = aux.Type
	}
	return nil
}

// IsChat reports whether the record is a user or assistant turn.
func (r *LogRecord) IsChat() bool {
	return r.Role == RoleUser || r.Role == RoleAssistant
}

// Content is the text of a chat record. On disk it is usually a string, but
// structured content arrays ([{"type":"output_text","text":"..."}]) are
// accepted and flattened by concatenating their text parts.
type Content string

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content(s)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		// Anything else (numbers, objects, null) carries no speakable text.
		*c = ""
		return nil
	}

	var b strings.Builder
	for _, raw := range parts {
		var part struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(raw, &part); err != nil || part.Text == nil {
			continue
		}
		b.WriteString(*part.Text)
	}
	*c = Content(b.String())
	return nil
}

// UserRecord builds a user chat record.
func UserRecord(id, text string) LogRecord {
	return LogRecord{ID: id, Role: RoleUser, Content: Content(text), Timestamp: time.Now().UTC()}
}

// AssistantRecord builds an assistant chat record attributed to agent.
func AssistantRecord(id, agent, text string) LogRecord {
	return LogRecord{ID: id, Role: RoleAssistant, Agent: agent, Content: Content(text), Timestamp: time.Now().UTC()}
}

// ValidSessionID reports whether id is a well-formed session identifier:
// a non-empty string of ASCII digits.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// ChatMessage is a flattened chat turn for history views.
type ChatMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// RecentMessages extracts chat turns from records, skipping side-channel
// activity.
func RecentMessages(records []LogRecord) []ChatMessage {
	out := make([]ChatMessage, 0, len(records))
	for _, r := range records {
		if !r.IsChat() {
			continue
		}
		out = append(out, ChatMessage{ID: r.ID, Role: r.Role, Text: string(r.Content)})
	}
	return out
}
