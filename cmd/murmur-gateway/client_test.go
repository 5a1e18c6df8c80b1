// ABOUTME: Tests for the CLI HTTP client helpers and log level parsing
// ABOUTME: Uses an httptest server in place of a running gateway

package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"sessions":[{"session_id":"200"},{"session_id":"100"}],"active_session_id":"200"}`))
		case "/api/sessions/active":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			http.Error(w, `{"message":"session not found"}`, http.StatusNotFound)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := &apiClient{base: srv.URL, http: srv.Client()}

	var list sessionList
	require.NoError(t, c.do(t.Context(), http.MethodGet, "/api/sessions", "", http.StatusOK, &list))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "200", list.Sessions[0].SessionID)
	require.NotNil(t, list.ActiveSessionID)
	assert.Equal(t, "200", *list.ActiveSessionID)

	err := c.do(t.Context(), http.MethodPut, "/api/sessions/active", `{"session_id":"1"}`, http.StatusOK, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestSessionTime(t *testing.T) {
	ms := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local).UnixMilli()
	assert.Equal(t, "2024-03-01 12:00:00", sessionTime(strconv.FormatInt(ms, 10)))
	assert.Empty(t, sessionTime("not-a-number"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
