// ABOUTME: HTTP administrative API for sessions: list, create, activate, archive, history
// ABOUTME: Served by echo alongside the WebSocket endpoint and health checks

package gateway

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/2389/murmur-gateway/internal/archive"
	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/store"
)

// Message history limits for GET /api/sessions/:id/messages.
const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 200
)

// CreateSessionResponse is the JSON response for POST /api/sessions.
type CreateSessionResponse struct {
	SessionID       string `json:"session_id"`
	ActiveSessionID string `json:"active_session_id"`
}

// SetActiveRequest is the JSON request body for PUT /api/sessions/active.
type SetActiveRequest struct {
	SessionID string `json:"session_id"`
}

// MessagesResponse is the JSON response for GET /api/sessions/:id/messages.
type MessagesResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []store.ChatMessage `json:"messages"`
}

func jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// registerRoutes mounts every HTTP endpoint on e.
func (g *Gateway) registerRoutes(e *echo.Echo) {
	e.GET("/health", g.handleHealth)
	e.GET("/health/ready", g.handleReady)
	e.GET("/ws", g.HandleWebSocket)

	api := e.Group("/api")
	api.GET("/sessions", g.handleListSessions)
	api.POST("/sessions", g.handleCreateSession)
	api.PUT("/sessions/active", g.handleSetActive)
	api.GET("/sessions/:id/messages", g.handleSessionMessages)
	api.POST("/sessions/:id/archive", g.handleArchive)
	api.POST("/sessions/:id/rollover", g.handleRollover)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleReady returns 200 OK if the sessions directory is writable.
func (g *Gateway) handleReady(c echo.Context) error {
	dir := g.index.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return c.String(http.StatusServiceUnavailable, "sessions dir unavailable")
	}
	f, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "sessions dir not writable")
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return c.String(http.StatusOK, "ready")
}

// handleListSessions handles GET /api/sessions.
func (g *Gateway) handleListSessions(c echo.Context) error {
	ix, err := g.index.Load()
	if err != nil {
		g.logger.Error("failed to load session index", "error", err)
		return jsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, ix)
}

// handleCreateSession handles POST /api/sessions. The new session becomes active.
func (g *Gateway) handleCreateSession(c echo.Context) error {
	id, _, err := g.index.Create()
	if err != nil {
		g.logger.Error("failed to create session", "error", err)
		return jsonError(c, http.StatusInternalServerError, "internal server error")
	}
	g.logger.Info("session created", "session_id", id)
	return c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: id, ActiveSessionID: id})
}

// handleSetActive handles PUT /api/sessions/active.
func (g *Gateway) handleSetActive(c echo.Context) error {
	var req SetActiveRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	ix, err := g.index.SetActive(req.SessionID)
	switch {
	case errors.Is(err, store.ErrInvalidSessionID):
		return jsonError(c, http.StatusBadRequest, "invalid session_id")
	case errors.Is(err, store.ErrSessionNotFound):
		return jsonError(c, http.StatusNotFound, "session not found")
	case err != nil:
		g.logger.Error("failed to set active session", "session_id", req.SessionID, "error", err)
		return jsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, ix)
}

// handleSessionMessages handles GET /api/sessions/:id/messages?limit=N.
// limit defaults to 50 and is capped at 200.
func (g *Gateway) handleSessionMessages(c echo.Context) error {
	id := c.Param("id")
	if !store.ValidSessionID(id) {
		return jsonError(c, http.StatusBadRequest, "invalid session_id")
	}

	limit := defaultMessagesLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return jsonError(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(parsed, maxMessagesLimit)
	}

	if !g.index.Exists(id) {
		return jsonError(c, http.StatusNotFound, "session not found")
	}

	records, err := g.index.Transcript(id).Read(c.Request().Context(), limit)
	if err != nil {
		g.logger.Error("failed to read transcript", "session_id", id, "error", err)
		return jsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, MessagesResponse{SessionID: id, Messages: store.RecentMessages(records)})
}

// handleArchive handles POST /api/sessions/:id/archive.
func (g *Gateway) handleArchive(c echo.Context) error {
	return g.archiveResponse(c, g.archiver.Archive(c.Request().Context(), c.Param("id")))
}

// handleRollover handles POST /api/sessions/:id/rollover.
func (g *Gateway) handleRollover(c echo.Context) error {
	return g.archiveResponse(c, g.archiver.Rollover(c.Request().Context(), c.Param("id")))
}

func (g *Gateway) archiveResponse(c echo.Context, res *archive.Result) error {
	if res.OK {
		g.bus.Publish(events.New(events.TypeMeta, res.ArchivedSessionID, events.Meta{
			Event:    events.MetaSessionArchived,
			ActiveID: res.ActiveSessionID,
		}))
	}
	return c.JSON(archiveStatus(res), res)
}

func archiveStatus(res *archive.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Error {
	case archive.CodeInvalidSessionID:
		return http.StatusBadRequest
	case archive.CodeSessionNotFound:
		return http.StatusNotFound
	case archive.CodeStoreBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
