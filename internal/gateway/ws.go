// ABOUTME: WebSocket endpoint: binds a connection to a session and handles inbound messages
// ABOUTME: Protocol errors are answered with error events and never close the connection

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/2389/murmur-gateway/internal/conversation"
	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/speech"
	"github.com/2389/murmur-gateway/internal/store"
)

// Inbound message types.
const (
	inUserMessage       = "user_message"
	inVoiceInput        = "voice_input"
	inVoiceOutputToggle = "voice_output_toggle"
	inSessionSwitch     = "session_switch"
)

// inbound is the union of all client message fields.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Audio     string `json:"audio"`
	Mime      string `json:"mime"`
	Enabled   *bool  `json:"enabled"`
}

// HandleWebSocket upgrades the request and binds the connection to the
// session named by ?session_id, falling back to the active session.
func (g *Gateway) HandleWebSocket(c echo.Context) error {
	sessionID, err := g.index.Ensure(c.QueryParam("session_id"))
	if err != nil {
		g.logger.Error("resolving session for connection", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "session store unavailable")
	}

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	client := newClient(conn, g.logger)
	g.track(client)
	defer g.untrack(client)
	// Oversized frames up to twice the limit are answered with
	// payload_too_large; past that the reader closes the connection.
	conn.SetReadLimit(2 * g.cfg.Server.MaxMessageBytes)

	go client.writePump(g.cfg.Server.PingInterval, g.cfg.Server.WriteTimeout)

	g.bindClient(client, sessionID)
	g.logger.Info("client connected", "client_id", client.ID(), "session_id", sessionID)

	g.readPump(client)
	return nil
}

// bindClient replays history for sessionID, then routes its live events to
// the client and confirms with session_bound.
func (g *Gateway) bindClient(client *Client, sessionID string) {
	client.bind(sessionID)

	records, err := g.index.Transcript(sessionID).Read(g.baseCtx, g.cfg.Sessions.HistoryLimit)
	if err != nil {
		g.logger.Warn("reading history for replay", "session_id", sessionID, "error", err)
	}
	for _, env := range historyEvents(sessionID, records) {
		if client.Deliver(env) != nil {
			return
		}
	}

	g.bus.Subscribe(client, sessionID)
	client.sendEvent(events.TypeMeta, events.Meta{Event: events.MetaSessionBound})
}

func (g *Gateway) readPump(client *Client) {
	defer func() {
		g.bus.Unsubscribe(client)
		client.Close()
		g.logger.Info("client disconnected", "client_id", client.ID(), "session_id", client.SessionID())
	}()

	readTimeout := g.cfg.Server.ReadTimeout
	if readTimeout < 2*g.cfg.Server.PingInterval {
		readTimeout = 2 * g.cfg.Server.PingInterval
	}
	_ = client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read error", "client_id", client.ID(), "error", err)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		g.handleMessage(client, data)
	}
}

// handleMessage dispatches one inbound frame.
func (g *Gateway) handleMessage(client *Client, data []byte) {
	if int64(len(data)) > g.cfg.Server.MaxMessageBytes {
		client.sendError(events.CodePayloadTooLarge, "message exceeds server.max_message_bytes")
		return
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		client.sendError(events.CodeInvalidJSON, err.Error())
		return
	}

	if msg.Type != inSessionSwitch && msg.SessionID != "" && msg.SessionID != client.SessionID() {
		client.sendError(events.CodeSessionMismatch, "connection is bound to session "+client.SessionID())
		return
	}

	switch msg.Type {
	case inUserMessage:
		g.handleUserMessage(client, msg)
	case inVoiceInput:
		g.handleVoiceInput(client, msg)
	case inVoiceOutputToggle:
		g.handleVoiceToggle(client, msg)
	case inSessionSwitch:
		g.handleSessionSwitch(client, msg)
	default:
		client.sendError(events.CodeUnsupportedType, msg.Type)
	}
}

// accept acks a client message and reports whether it should be processed.
// Duplicates within the dedupe window are acked again but not re-run.
func (g *Gateway) accept(client *Client, msg *inbound) bool {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	sessionID := client.SessionID()
	client.sendEvent(events.TypeAck, events.Ack{MessageID: msg.MessageID, QueuePos: g.queuePos(sessionID)})

	if g.dedupe.Seen(sessionID, msg.MessageID) {
		g.logger.Debug("duplicate message ignored", "session_id", sessionID, "message_id", msg.MessageID)
		return false
	}
	return true
}

func (g *Gateway) handleUserMessage(client *Client, msg inbound) {
	if !g.accept(client, &msg) {
		return
	}
	sessionID := client.SessionID()
	if strings.TrimSpace(msg.Text) == "" {
		g.dedupe.Unmark(sessionID, msg.MessageID)
		client.sendError(events.CodeEmptyMessage, "")
		return
	}
	g.startTurn(sessionID, func(ctx context.Context) {
		g.runTurn(ctx, sessionID, msg.MessageID, msg.Text)
	})
}

func (g *Gateway) handleVoiceInput(client *Client, msg inbound) {
	if !g.accept(client, &msg) {
		return
	}
	sessionID := client.SessionID()
	audio, err := speech.DecodeAudio(msg.Audio, int(g.cfg.STT.MaxInputBytes))
	if err != nil {
		g.dedupe.Unmark(sessionID, msg.MessageID)
		code := events.CodeVoiceInputFailed
		if errors.Is(err, speech.ErrAudioTooLarge) {
			code = events.CodePayloadTooLarge
		}
		client.sendError(code, err.Error())
		return
	}

	g.startTurn(sessionID, func(ctx context.Context) {
		tctx, cancel := context.WithTimeout(ctx, g.cfg.STT.Timeout)
		text, err := g.transcriber.Transcribe(tctx, audio, msg.Mime)
		cancel()
		if err != nil {
			g.logger.Warn("transcription failed", "session_id", sessionID, "message_id", msg.MessageID, "error", err)
			g.dedupe.Unmark(sessionID, msg.MessageID)
			g.publishError(sessionID, events.CodeVoiceInputFailed, err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			g.dedupe.Unmark(sessionID, msg.MessageID)
			g.publishError(sessionID, events.CodeEmptyMessage, errors.New("transcription was empty"))
			return
		}
		g.bus.Publish(events.New(events.TypeMeta, sessionID, events.Meta{
			Event:     events.MetaVoiceTranscript,
			MessageID: msg.MessageID,
			Text:      text,
		}))
		g.runTurn(ctx, sessionID, msg.MessageID, text)
	})
}

func (g *Gateway) handleVoiceToggle(client *Client, msg inbound) {
	sessionID := client.SessionID()
	enabled := !g.orchestrator.VoiceOutput(sessionID)
	if msg.Enabled != nil {
		enabled = *msg.Enabled
	}
	g.orchestrator.SetVoiceOutput(sessionID, enabled)
	g.bus.Publish(events.New(events.TypeMeta, sessionID, events.Meta{
		Event:   events.MetaVoiceOutput,
		Enabled: &enabled,
	}))
}

func (g *Gateway) handleSessionSwitch(client *Client, msg inbound) {
	if !store.ValidSessionID(msg.SessionID) {
		client.sendError(events.CodeSessionNotFound, "invalid session id")
		return
	}
	if !g.index.Exists(msg.SessionID) {
		client.sendError(events.CodeSessionNotFound, msg.SessionID)
		return
	}
	g.bus.Unsubscribe(client)
	g.bindClient(client, msg.SessionID)
}

// runTurn announces the user message to the session and runs it. Failures
// the orchestrator does not report itself are published here. A failed
// message is unmarked before its error goes out, so a client retry runs.
func (g *Gateway) runTurn(ctx context.Context, sessionID, messageID, text string) {
	g.bus.Publish(events.New(events.TypeUserMessage, sessionID, events.UserMessage{MessageID: messageID, Text: text}))

	unmark := func() { g.dedupe.Unmark(sessionID, messageID) }
	_, err := g.orchestrator.HandleTurn(ctx, conversation.TurnRequest{
		SessionID: sessionID,
		MessageID: messageID,
		Text:      text,
		OnFailure: unmark,
	})
	if err != nil {
		unmark()
	}
	switch {
	case err == nil,
		errors.Is(err, conversation.ErrAgentRunFailed),
		errors.Is(err, conversation.ErrTranscriptWrite):
	case errors.Is(err, store.ErrSessionNotFound):
		g.publishError(sessionID, events.CodeSessionNotFound, err)
	case errors.Is(err, conversation.ErrEmptyMessage):
		g.publishError(sessionID, events.CodeEmptyMessage, err)
	default:
		g.publishError(sessionID, events.CodeAgentRunFailed, err)
	}
}

func (g *Gateway) publishError(sessionID, code string, err error) {
	g.bus.Publish(events.New(events.TypeError, sessionID, events.Error{Message: code, Detail: err.Error()}))
}

// startTurn queues fn behind the session's earlier turns. Turns of one
// session run one at a time in the order they were queued; fn receives the
// gateway's lifetime context.
func (g *Gateway) startTurn(sessionID string, fn func(ctx context.Context)) {
	g.pendingMu.Lock()
	queue := g.pending[sessionID]
	g.pending[sessionID] = append(queue, fn)
	g.pendingMu.Unlock()

	if len(queue) == 0 {
		g.turns.Go(func() { g.drainTurns(sessionID) })
	}
}

// drainTurns runs the session's queued turns until the queue is empty. Turns
// still queued at shutdown are dropped.
func (g *Gateway) drainTurns(sessionID string) {
	for {
		g.pendingMu.Lock()
		fn := g.pending[sessionID][0]
		g.pendingMu.Unlock()

		if g.baseCtx.Err() == nil {
			fn(g.baseCtx)
		}

		g.pendingMu.Lock()
		rest := g.pending[sessionID][1:]
		if len(rest) == 0 || g.baseCtx.Err() != nil {
			delete(g.pending, sessionID)
			g.pendingMu.Unlock()
			return
		}
		g.pending[sessionID] = rest
		g.pendingMu.Unlock()
	}
}

func (g *Gateway) track(c *Client) {
	g.clientsMu.Lock()
	g.clients[c] = struct{}{}
	g.clientsMu.Unlock()
}

func (g *Gateway) untrack(c *Client) {
	g.clientsMu.Lock()
	delete(g.clients, c)
	g.clientsMu.Unlock()
}

// closeClients disconnects every open connection.
func (g *Gateway) closeClients() {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	for c := range g.clients {
		c.Close()
	}
}

// queuePos is the number of turns already queued or running for sessionID.
func (g *Gateway) queuePos(sessionID string) int {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return len(g.pending[sessionID])
}
