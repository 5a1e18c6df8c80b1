// ABOUTME: Speech-to-text client for inbound voice turns
// ABOUTME: Posts audio as multipart form data to an OpenAI-compatible transcription endpoint

package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxInputBytes bounds decoded voice input.
const DefaultMaxInputBytes = 20 * 1024 * 1024

var (
	// ErrAudioTooLarge is returned when voice input exceeds the size limit.
	ErrAudioTooLarge = errors.New("audio too large")
	// ErrInvalidAudio is returned when voice input is not valid base64.
	ErrInvalidAudio = errors.New("invalid audio encoding")
	// ErrTranscriptionUnavailable is returned when no transcriber is configured.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// DecodeAudio decodes base64 voice input, rejecting payloads larger than
// maxBytes before and after decoding.
func DecodeAudio(b64 string, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInputBytes
	}
	if len(b64) > base64.StdEncoding.EncodedLen(maxBytes)+16 {
		return nil, ErrAudioTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudio, err)
	}
	if len(data) > maxBytes {
		return nil, ErrAudioTooLarge
	}
	return data, nil
}

// extensionFor maps a mime type to a file extension hint for the backend.
func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "webm"):
		return "webm"
	case strings.Contains(mime, "ogg"):
		return "ogg"
	case strings.Contains(mime, "wav"):
		return "wav"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "mp3"
	case strings.Contains(mime, "mp4"):
		return "mp4"
	default:
		return "bin"
	}
}

// NoTranscriber rejects every request.
type NoTranscriber struct{}

// Transcribe implements Transcriber.
func (NoTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", ErrTranscriptionUnavailable
}

// HTTPTranscriberConfig configures an OpenAI-compatible transcription endpoint.
type HTTPTranscriberConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPTranscriber posts audio to /audio/transcriptions and reads {"text": ...}.
type HTTPTranscriber struct {
	cfg        HTTPTranscriberConfig
	httpClient *http.Client
}

// NewHTTPTranscriber creates a transcriber for cfg.URL.
func NewHTTPTranscriber(cfg HTTPTranscriberConfig) *HTTPTranscriber {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTranscriber{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if t.cfg.Model != "" {
		if err := w.WriteField("model", t.cfg.Model); err != nil {
			return "", fmt.Errorf("failed to write model field: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", "audio."+extensionFor(mime))
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call transcriber: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcriber returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
