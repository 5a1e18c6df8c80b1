// ABOUTME: health and sessions subcommands, talking to a running gateway over HTTP
// ABOUTME: Output is colorized for terminals

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/murmur-gateway/internal/archive"
	"github.com/2389/murmur-gateway/internal/config"
)

const requestTimeout = 2 * time.Minute

// apiClient calls the administrative API of the gateway named by a config.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(configPath string) (*apiClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return &apiClient{base: "http://" + addr, http: &http.Client{Timeout: requestTimeout}}, nil
}

// do sends a request and decodes a JSON response into out when out is non-nil.
// Statuses other than okStatus are returned as errors carrying the body; an
// okStatus of 0 accepts any status.
func (c *apiClient) do(ctx context.Context, method, path, body string, okStatus int, out any) error {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if okStatus != 0 && resp.StatusCode != okStatus {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("status %d: decoding response: %w", resp.StatusCode, err)
		}
	}
	return nil
}

func runHealth(ctx context.Context, configPath string) error {
	c, err := newAPIClient(configPath)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodGet, "/health", "", http.StatusOK, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := c.do(ctx, http.MethodGet, "/health/ready", "", http.StatusOK, nil); err != nil {
		return fmt.Errorf("not ready: %w", err)
	}
	fmt.Println("healthy")
	return nil
}

type sessionList struct {
	Sessions []struct {
		SessionID string `json:"session_id"`
	} `json:"sessions"`
	ActiveSessionID *string `json:"active_session_id"`
}

func runSessions(ctx context.Context, configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("sessions requires a subcommand: list, create, activate ID, archive ID")
	}
	c, err := newAPIClient(configPath)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		return c.listSessions(ctx)
	case "create":
		var out struct {
			SessionID string `json:"session_id"`
		}
		if err := c.do(ctx, http.MethodPost, "/api/sessions", "", http.StatusCreated, &out); err != nil {
			return err
		}
		color.Green("created %s (active)", out.SessionID)
		return nil
	case "activate":
		if len(args) < 2 {
			return fmt.Errorf("sessions activate requires a session id")
		}
		body, _ := json.Marshal(map[string]string{"session_id": args[1]})
		if err := c.do(ctx, http.MethodPut, "/api/sessions/active", string(body), http.StatusOK, nil); err != nil {
			return err
		}
		color.Green("active session is now %s", args[1])
		return nil
	case "archive":
		if len(args) < 2 {
			return fmt.Errorf("sessions archive requires a session id")
		}
		var res archive.Result
		if err := c.do(ctx, http.MethodPost, "/api/sessions/"+args[1]+"/archive", "", 0, &res); err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("archive failed: %s %s", res.Error, res.Detail)
		}
		color.Green("archived %s", res.ArchivedSessionID)
		if res.SummaryPath != "" {
			fmt.Printf("  summary: %s\n", res.SummaryPath)
		}
		if res.ActiveSessionID != "" {
			fmt.Printf("  active:  %s\n", res.ActiveSessionID)
		} else {
			fmt.Println("  active:  (none)")
		}
		return nil
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", args[0])
	}
}

func (c *apiClient) listSessions(ctx context.Context) error {
	var list sessionList
	if err := c.do(ctx, http.MethodGet, "/api/sessions", "", http.StatusOK, &list); err != nil {
		return err
	}
	if len(list.Sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	active := ""
	if list.ActiveSessionID != nil {
		active = *list.ActiveSessionID
	}
	for _, s := range list.Sessions {
		created := sessionTime(s.SessionID)
		if s.SessionID == active {
			color.New(color.FgGreen, color.Bold).Printf("* %s", s.SessionID)
		} else {
			fmt.Printf("  %s", s.SessionID)
		}
		color.New(color.FgHiBlack).Printf("  %s\n", created)
	}
	return nil
}

// sessionTime renders a millisecond session id as a local timestamp.
func sessionTime(id string) string {
	var ms int64
	if _, err := fmt.Sscan(id, &ms); err != nil {
		return ""
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
