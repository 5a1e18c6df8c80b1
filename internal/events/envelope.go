// ABOUTME: Client-facing event envelope and typed payloads for the wire protocol
// ABOUTME: Envelopes flatten {type, session_id} and the payload fields into one JSON object

package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names an outbound event.
type Type string

// Outbound event types.
const (
	TypeAck                Type = "ack"
	TypeAssistantTextDelta Type = "assistant_text_delta"
	TypeAssistantMessage   Type = "assistant_message"
	TypeUserMessage        Type = "user_message"
	TypeToolCall           Type = "tool_call"
	TypeAgentHandoff       Type = "agent_handoff"
	TypeAudioSegment       Type = "tts_audio_segment"
	TypeTTSDone            Type = "tts_done"
	TypeError              Type = "error"
	TypeMeta               Type = "meta"
)

// Tool call phases.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
)

// Meta event names.
const (
	MetaSessionBound    = "session_bound"
	MetaVoiceTranscript = "voice_transcript"
	MetaVoiceOutput     = "voice_output"
	MetaSessionArchived = "session_archived"
)

// Error codes carried in Error.Message.
const (
	CodeInvalidJSON           = "invalid_json"
	CodeUnsupportedType       = "unsupported_type"
	CodeSessionMismatch       = "session_mismatch"
	CodePayloadTooLarge       = "payload_too_large"
	CodeEmptyMessage          = "empty_message"
	CodeAgentRunFailed        = "agent_run_failed"
	CodeTranscriptWriteFailed = "transcript_write_failed"
	CodeVoiceInputFailed      = "voice_input_failed"
	CodeSessionNotFound       = "session_not_found"
)

// Envelope is one event in flight. It lives on the Bus queue and on the wire
// only; it is never persisted.
type Envelope struct {
	Type      Type
	SessionID string
	Payload   any
	Ts        time.Time
}

// New builds an envelope stamped with the current time.
func New(typ Type, sessionID string, payload any) Envelope {
	return Envelope{Type: typ, SessionID: sessionID, Payload: payload, Ts: time.Now().UTC()}
}

// MarshalJSON writes the payload fields alongside type, session_id, and ts.
// Payloads must encode to a JSON object (or be nil).
func (e Envelope) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if e.Payload != nil {
		body, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%s payload is not an object: %w", e.Type, err)
		}
	}

	var err error
	if fields["type"], err = json.Marshal(e.Type); err != nil {
		return nil, err
	}
	if fields["session_id"], err = json.Marshal(e.SessionID); err != nil {
		return nil, err
	}
	if !e.Ts.IsZero() {
		if fields["ts"], err = json.Marshal(e.Ts); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// Ack confirms receipt of an inbound message.
type Ack struct {
	MessageID string `json:"message_id"`
	QueuePos  int    `json:"queue_pos"`
}

// TextDelta is one streamed fragment of an assistant reply.
type TextDelta struct {
	ReplyTo string `json:"reply_to"`
	Delta   string `json:"delta"`
}

// AssistantMessage is the final text of an assistant reply.
type AssistantMessage struct {
	MessageID string `json:"message_id"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Text      string `json:"text"`
	Agent     string `json:"agent,omitempty"`
}

// UserMessage replays a persisted user turn to a newly bound client.
type UserMessage struct {
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// ToolCall reports tool activity by the agent.
type ToolCall struct {
	Name   string `json:"name"`
	Phase  string `json:"phase"`
	CallID string `json:"call_id,omitempty"`
}

// AgentHandoff reports a change of acting agent.
type AgentHandoff struct {
	ToAgent string `json:"to_agent"`
}

// AudioSegment carries one synthesized utterance. Audio is base64 on the
// wire and empty when synthesis failed.
type AudioSegment struct {
	ReplyTo string `json:"reply_to"`
	Seq     int    `json:"seq"`
	Text    string `json:"text"`
	Audio   []byte `json:"audio"`
	Mime    string `json:"mime"`
}

// TTSDone marks the end of speech for a reply.
type TTSDone struct {
	ReplyTo string `json:"reply_to"`
}

// Error reports a failed operation or protocol violation.
type Error struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Meta carries connection and session notices.
type Meta struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	ActiveID  string `json:"active_session_id,omitempty"`
}
