// ABOUTME: Drives one agent-runner call per user turn under a per-session lock
// ABOUTME: Streams deltas to the event bus and speech pipeline, then records the exchange

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/murmur-gateway/internal/agent"
	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/store"
)

// DefaultPlaceholder is the reply recorded when a turn produced no text.
const DefaultPlaceholder = "(no response)"

// appendTimeout bounds the transcript write at the end of a turn. The write
// is detached from the caller's cancellation so a finished turn is recorded.
const appendTimeout = 5 * time.Second

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("empty message")
	// ErrAgentRunFailed wraps failures reported by the runner.
	ErrAgentRunFailed = errors.New("agent run failed")
	// ErrTranscriptWrite wraps failures to record a finished turn.
	ErrTranscriptWrite = errors.New("transcript write failed")
)

// Config holds orchestrator settings.
type Config struct {
	MaxTurns    int
	Placeholder string
}

// TurnRequest is one user turn.
type TurnRequest struct {
	SessionID string
	// MessageID identifies the user message; replies reference it as
	// reply_to. A new id is generated when empty.
	MessageID string
	Text      string
	// OnFailure, when set, runs after a failed run or write and before the
	// error event is published.
	OnFailure func()
}

// TurnResult describes the recorded assistant reply.
type TurnResult struct {
	MessageID string
	ReplyTo   string
	Text      string
	Agent     string
}

// Orchestrator runs conversation turns. Turns of one session are strictly
// serialized; turns of different sessions run in parallel.
type Orchestrator struct {
	index    *store.SessionIndex
	registry *Registry
	runner   agent.Runner
	bus      events.Publisher
	cfg      Config
	logger   *slog.Logger
}

// New creates an orchestrator. Pass nil logger for default.
func New(index *store.SessionIndex, registry *Registry, runner agent.Runner, bus events.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = agent.DefaultMaxTurns
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	return &Orchestrator{
		index:    index,
		registry: registry,
		runner:   runner,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Registry returns the session registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// HandleTurn runs one user turn to completion. Deltas, tool activity, and
// handoffs are published as they happen; the user message, side-channel
// records, and the assistant reply are appended in one batch once the reply
// is known. On failure nothing is appended and an error event is published.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}
	if !o.index.Exists(req.SessionID) {
		return nil, store.ErrSessionNotFound
	}
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}

	sess := o.registry.Get(req.SessionID)
	sess.turn.Lock()
	defer sess.turn.Unlock()

	// The session may have been archived while this turn waited.
	if !o.index.Exists(req.SessionID) {
		return nil, store.ErrSessionNotFound
	}

	started := time.Now()
	o.logger.Debug("turn started",
		"session_id", req.SessionID,
		"message_id", req.MessageID,
		"agent", sess.agent.Name,
		"text", req.Text)

	t := &turn{
		o:       o,
		sess:    sess,
		replyTo: req.MessageID,
		agent:   sess.agent.Name,
	}

	res, err := o.runner.Run(ctx, agent.RunRequest{
		SessionID: req.SessionID,
		Agent:     sess.agent,
		Input:     req.Text,
		History:   sess.transcript,
		MaxTurns:  o.cfg.MaxTurns,
		Stream:    true,
	}, t.observe)
	if err != nil {
		o.fail(sess, req, events.CodeAgentRunFailed, err)
		return nil, fmt.Errorf("%w: %w", ErrAgentRunFailed, err)
	}

	if res.NextAgent != nil && res.NextAgent.Name != "" {
		sess.agent = *res.NextAgent
	}

	final := res.FinalText
	if strings.TrimSpace(final) == "" {
		final = t.text.String()
	}
	if strings.TrimSpace(final) == "" {
		final = o.cfg.Placeholder
	}

	reply := store.AssistantRecord(uuid.New().String(), sess.agent.Name, final)
	records := make([]store.LogRecord, 0, len(t.side)+2)
	records = append(records, store.UserRecord(req.MessageID, req.Text))
	records = append(records, t.side...)
	records = append(records, reply)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := sess.transcript.Append(writeCtx, records); err != nil {
		o.fail(sess, req, events.CodeTranscriptWriteFailed, err)
		return nil, fmt.Errorf("%w: %w", ErrTranscriptWrite, err)
	}

	o.bus.Publish(events.New(events.TypeAssistantMessage, req.SessionID, events.AssistantMessage{
		MessageID: reply.ID,
		ReplyTo:   req.MessageID,
		Text:      final,
		Agent:     sess.agent.Name,
	}))
	sess.voice.Finalize(req.MessageID)

	o.logger.Info("turn completed",
		"session_id", req.SessionID,
		"message_id", req.MessageID,
		"agent", sess.agent.Name,
		"records", len(records),
		"duration", time.Since(started))

	return &TurnResult{
		MessageID: reply.ID,
		ReplyTo:   req.MessageID,
		Text:      final,
		Agent:     sess.agent.Name,
	}, nil
}

// SetVoiceOutput turns speech for a session on or off.
func (o *Orchestrator) SetVoiceOutput(sessionID string, enabled bool) {
	o.registry.Get(sessionID).voice.SetEnabled(enabled)
}

// VoiceOutput reports whether speech is on for a session.
func (o *Orchestrator) VoiceOutput(sessionID string) bool {
	return o.registry.Get(sessionID).voice.Enabled()
}

// LockSession waits for the session's running turn to finish and holds off
// new ones until the returned func is called.
func (o *Orchestrator) LockSession(sessionID string) (unlock func()) {
	sess := o.registry.Get(sessionID)
	sess.turn.Lock()
	return sess.turn.Unlock
}

// Evict drops all in-memory state for a session.
func (o *Orchestrator) Evict(sessionID string) {
	if o.registry.Evict(sessionID) {
		o.logger.Debug("session state evicted", "session_id", sessionID)
	}
}

// fail stops speech for the aborted reply and reports the error to the
// session's subscribers.
func (o *Orchestrator) fail(sess *Session, req TurnRequest, code string, err error) {
	sess.voice.Reset()
	if req.OnFailure != nil {
		req.OnFailure()
	}
	o.logger.Error("turn failed", "session_id", sess.id, "code", code, "error", err)
	o.bus.Publish(events.New(events.TypeError, sess.id, events.Error{Message: code, Detail: err.Error()}))
}

// turn accumulates what a running turn observed from the runner.
type turn struct {
	o        *Orchestrator
	sess     *Session
	replyTo  string
	agent    string
	text     strings.Builder
	side     []store.LogRecord
	lastTool string
}

// observe handles one streamed runner event.
func (t *turn) observe(ev agent.StreamEvent) {
	sid := t.sess.id
	now := time.Now().UTC()

	switch ev.Kind {
	case agent.EventTextDelta:
		if ev.Delta == "" {
			return
		}
		t.text.WriteString(ev.Delta)
		t.o.bus.Publish(events.New(events.TypeAssistantTextDelta, sid, events.TextDelta{ReplyTo: t.replyTo, Delta: ev.Delta}))
		t.sess.voice.Feed(t.replyTo, ev.Delta)

	case agent.EventToolCallStart:
		t.lastTool = ev.ToolName
		t.side = append(t.side, store.LogRecord{
			Event: store.EventFunctionCall, Name: ev.ToolName, CallID: ev.CallID,
			Arguments: ev.Arguments, Agent: t.agent, Timestamp: now,
		})
		t.o.bus.Publish(events.New(events.TypeToolCall, sid, events.ToolCall{Name: ev.ToolName, Phase: events.PhaseStart, CallID: ev.CallID}))

	case agent.EventToolCallEnd:
		name := ev.ToolName
		if name == "" {
			name = t.lastTool
		}
		t.side = append(t.side, store.LogRecord{
			Event: store.EventFunctionCallOutput, Name: name, CallID: ev.CallID,
			Output: ev.Output, Agent: t.agent, Timestamp: now,
		})
		t.o.bus.Publish(events.New(events.TypeToolCall, sid, events.ToolCall{Name: name, Phase: events.PhaseEnd, CallID: ev.CallID}))

	case agent.EventHandoff:
		t.side = append(t.side, store.LogRecord{
			Event: store.EventAgentHandoff, ToAgent: ev.ToAgent, Agent: t.agent, Timestamp: now,
		})
		t.agent = ev.ToAgent
		t.o.bus.Publish(events.New(events.TypeAgentHandoff, sid, events.AgentHandoff{ToAgent: ev.ToAgent}))
	}
}
