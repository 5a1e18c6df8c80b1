// ABOUTME: Serves any Runner over the NDJSON wire protocol as an echo handler
// ABOUTME: Backs the murmur-runner binary and the HTTP runner tests

package agent

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes a Runner to HTTPRunner clients.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// NewHandler wraps runner. Pass nil logger for default.
func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, logger: logger.With("component", "runner_handler")}
}

// Register mounts the run endpoint on e.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/run", h.HandleRun)
}

// HandleRun decodes a WireRequest and streams the turn back as NDJSON.
func (h *Handler) HandleRun(c echo.Context) error {
	var req WireRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	var writeErr error
	emit := func(ev StreamEvent) {
		if writeErr != nil {
			return
		}
		if writeErr = writeWireEvent(resp, wireEventFor(ev)); writeErr == nil {
			resp.Flush()
		}
	}

	h.logger.Debug("run started", "session_id", req.SessionID, "agent", req.Agent)

	result, err := h.runner.Run(c.Request().Context(), RunRequest{
		SessionID: req.SessionID,
		Agent:     Handle{Name: req.Agent},
		Input:     req.Input,
		History:   recordHistory(req.History),
		MaxTurns:  req.MaxTurns,
		Stream:    req.Stream,
	}, emit)
	if writeErr != nil {
		h.logger.Warn("client went away mid-stream", "session_id", req.SessionID, "error", writeErr)
		return nil
	}

	final := WireEvent{Type: WireResult}
	if err != nil {
		h.logger.Error("run failed", "session_id", req.SessionID, "error", err)
		final = WireEvent{Type: WireError, Message: err.Error()}
	} else {
		final.FinalText = result.FinalText
		final.LastAgent = req.Agent
		if result.NextAgent != nil {
			final.LastAgent = result.NextAgent.Name
		}
	}
	if err := writeWireEvent(resp, final); err != nil {
		h.logger.Warn("failed to write final event", "session_id", req.SessionID, "error", err)
		return nil
	}
	resp.Flush()
	return nil
}
