// ABOUTME: Speech synthesizer backends: OpenAI-compatible HTTP, fixed audio file, and silent
// ABOUTME: Synthesizers turn one segment of text into encoded audio bytes

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultMime is the audio type produced by the bundled synthesizers.
const DefaultMime = "audio/mpeg"

// Synthesizer converts text into audio. Implementations must be safe for
// concurrent use by the workers of different sessions.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SilentSynthesizer produces empty audio for every segment. Clients still
// receive the segment text and sequence number.
type SilentSynthesizer struct{}

// Synthesize implements Synthesizer.
func (SilentSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return nil, nil
}

// FileSynthesizer returns the same audio file for every segment. It is meant
// for exercising clients without a synthesis backend.
type FileSynthesizer struct {
	audio []byte
}

// NewFileSynthesizer reads path once and serves its bytes for every segment.
func NewFileSynthesizer(path string) (*FileSynthesizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fake audio: %w", err)
	}
	return &FileSynthesizer{audio: data}, nil
}

// Synthesize implements Synthesizer.
func (f *FileSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, nil
}

// HTTPSynthesizerConfig configures an OpenAI-compatible speech endpoint.
type HTTPSynthesizerConfig struct {
	URL     string
	APIKey  string
	Model   string
	Voice   string
	Speed   float64
	Timeout time.Duration
}

// HTTPSynthesizer posts text to an OpenAI-compatible /audio/speech endpoint
// and returns the mp3 response body.
type HTTPSynthesizer struct {
	cfg        HTTPSynthesizerConfig
	httpClient *http.Client
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewHTTPSynthesizer creates a synthesizer for cfg.URL.
func NewHTTPSynthesizer(cfg HTTPSynthesizerConfig) *HTTPSynthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSynthesizer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Synthesize implements Synthesizer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          s.cfg.Model,
		Voice:          s.cfg.Voice,
		Input:          text,
		ResponseFormat: "mp3",
		Speed:          s.cfg.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call synthesizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesizer returned status %d: %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}
