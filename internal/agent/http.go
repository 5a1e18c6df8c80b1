// ABOUTME: HTTP runner client that streams a turn from a remote agent runner
// ABOUTME: Sends the transcript tail with each request and decodes NDJSON events

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// historyLimit bounds the transcript records sent with each turn.
	historyLimit = 200

	maxEventLineBytes = 16 * 1024 * 1024
)

// HTTPRunner calls a remote runner speaking the NDJSON wire protocol.
type HTTPRunner struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPRunner creates a runner client for url. A zero timeout disables the
// client-side deadline; turns can run for minutes. Pass nil logger for
// default.
func NewHTTPRunner(url string, timeout time.Duration, logger *slog.Logger) *HTTPRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRunner{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "http_runner"),
	}
}

// Run implements Runner.
func (r *HTTPRunner) Run(ctx context.Context, req RunRequest, emit func(StreamEvent)) (*Result, error) {
	if emit == nil {
		emit = func(StreamEvent) {}
	}

	wireReq := WireRequest{
		SessionID: req.SessionID,
		Agent:     req.Agent.Name,
		Input:     req.Input,
		MaxTurns:  req.MaxTurns,
		Stream:    req.Stream,
	}
	if req.History != nil {
		history, err := req.History.Read(ctx, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		wireReq.History = history
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRunnerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRunnerUnavailable, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	return r.readStream(resp.Body, req.Agent, emit)
}

func (r *HTTPRunner) readStream(body io.Reader, current Handle, emit func(StreamEvent)) (*Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var w WireEvent
		if err := json.Unmarshal(line, &w); err != nil {
			r.logger.Warn("skipping malformed runner event", "error", err)
			continue
		}

		switch w.Type {
		case WireResult:
			res := &Result{FinalText: w.FinalText}
			if w.LastAgent != "" && w.LastAgent != current.Name {
				res.NextAgent = &Handle{Name: w.LastAgent}
			}
			return res, nil
		case WireError:
			return nil, fmt.Errorf("runner error: %s", w.Message)
		}

		ev, ok := convertEvent(w)
		if !ok {
			r.logger.Debug("ignoring unknown runner event", "type", w.Type)
			continue
		}
		emit(ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading runner stream: %w", err)
	}

	// Stream ended without a result line: the caller falls back to deltas.
	return &Result{}, nil
}
