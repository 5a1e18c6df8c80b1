// ABOUTME: Archives finished sessions: summarize, keep a digest, delete the transcript, reindex
// ABOUTME: Deletion retries while the platform reports the file busy

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/2389/murmur-gateway/internal/store"
)

// Error codes reported in Result.Error.
const (
	CodeInvalidSessionID = "invalid_session_id"
	CodeSessionNotFound  = "session_not_found"
	CodeStoreBusy        = "session_store_busy"
	CodeArchiveFailed    = "archive_failed"
)

// EmptySummary is stored when the summarizer fails or returns nothing.
const EmptySummary = "(empty summary)"

// Defaults for Config fields left zero.
const (
	DefaultHistoryLimit   = 200
	DefaultDeleteAttempts = 20
	DefaultDeleteBackoff  = 100 * time.Millisecond
)

// Config holds archiver settings.
type Config struct {
	// HistoryLimit is how many trailing records are summarized.
	HistoryLimit   int
	DeleteAttempts int
	DeleteBackoff  time.Duration
	// ArchiveDir, when set, receives a zstd copy of each transcript before
	// it is deleted.
	ArchiveDir string
}

// Result reports the outcome of Archive or Rollover. Error is one of the
// Code constants when OK is false.
type Result struct {
	OK                bool   `json:"ok"`
	ArchivedSessionID string `json:"archived_session_id,omitempty"`
	ActiveSessionID   string `json:"active_session_id,omitempty"`
	NewSessionID      string `json:"new_session_id,omitempty"`
	SummaryPath       string `json:"summary_path,omitempty"`
	ArchivePath       string `json:"archive_path,omitempty"`
	Error             string `json:"error,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

func failure(code string, err error) *Result {
	r := &Result{Error: code}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Archiver removes sessions.
type Archiver struct {
	index      *store.SessionIndex
	summaries  *store.SummaryStore
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger

	remove   func(path string) error
	onRemove []func(sessionID string)
	lock     func(sessionID string) (unlock func())
}

// New creates an archiver. A nil summarizer skips summaries. Pass nil logger
// for default.
func New(index *store.SessionIndex, summaries *store.SummaryStore, summarizer Summarizer, cfg Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.DeleteAttempts <= 0 {
		cfg.DeleteAttempts = DefaultDeleteAttempts
	}
	if cfg.DeleteBackoff <= 0 {
		cfg.DeleteBackoff = DefaultDeleteBackoff
	}
	return &Archiver{
		index:      index,
		summaries:  summaries,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger.With("component", "archiver"),
		remove:     os.Remove,
	}
}

// LockSessionWith sets how the archiver excludes turns while it archives a
// session. lock must block until no turn is running for the session and keep
// new turns waiting until unlock is called.
func (a *Archiver) LockSessionWith(lock func(sessionID string) (unlock func())) {
	a.lock = lock
}

// OnArchived registers fn to run after a session's transcript is deleted,
// e.g. to drop in-memory state for it.
func (a *Archiver) OnArchived(fn func(sessionID string)) {
	a.onRemove = append(a.onRemove, fn)
}

// Archive summarizes and deletes session id. Summarization is best-effort;
// deletion, reindexing, and reassignment of the active session are not.
func (a *Archiver) Archive(ctx context.Context, id string) *Result {
	if !store.ValidSessionID(id) {
		return failure(CodeInvalidSessionID, nil)
	}
	if !a.index.Exists(id) {
		return failure(CodeSessionNotFound, nil)
	}

	if a.lock != nil {
		unlock := a.lock(id)
		defer unlock()
		if !a.index.Exists(id) {
			return failure(CodeSessionNotFound, nil)
		}
	}

	transcript := a.index.Transcript(id)
	records, err := transcript.Read(ctx, a.cfg.HistoryLimit)
	if err != nil {
		return failure(CodeArchiveFailed, fmt.Errorf("reading transcript: %w", err))
	}

	res := &Result{ArchivedSessionID: id}

	if lines := chatLines(records); len(lines) > 0 && a.summarizer != nil {
		res.SummaryPath = a.summarize(ctx, id, lines)
	}

	if a.cfg.ArchiveDir != "" {
		path, err := compressTranscript(transcript.Path(), a.cfg.ArchiveDir, id)
		if err != nil {
			return failure(CodeArchiveFailed, err)
		}
		res.ArchivePath = path
	}

	if err := a.deleteWithRetry(ctx, transcript.Path()); err != nil {
		if errors.Is(err, errStillBusy) {
			a.logger.Warn("transcript still busy, giving up", "session_id", id, "error", err)
			return failure(CodeStoreBusy, err)
		}
		return failure(CodeArchiveFailed, err)
	}

	for _, fn := range a.onRemove {
		fn(id)
	}

	// Rebuild drops the deleted id and, if it was active, falls back to the
	// newest remaining session (or none).
	ix, err := a.index.Rebuild()
	if err != nil {
		a.logger.Error("index rebuild after archive failed", "session_id", id, "error", err)
		res.OK = true
		res.Detail = err.Error()
		return res
	}

	res.OK = true
	res.ActiveSessionID = ix.ActiveSessionID
	a.logger.Info("session archived",
		"session_id", id,
		"active_session_id", ix.ActiveSessionID,
		"summary_path", res.SummaryPath)
	return res
}

// Rollover archives id and starts a fresh active session.
func (a *Archiver) Rollover(ctx context.Context, id string) *Result {
	res := a.Archive(ctx, id)
	if !res.OK {
		return res
	}
	newID, _, err := a.index.Create()
	if err != nil {
		a.logger.Error("creating session after rollover failed", "error", err)
		res.Detail = err.Error()
		return res
	}
	res.NewSessionID = newID
	res.ActiveSessionID = newID
	return res
}

// summarize stores a digest of lines and returns its path, or "" if it could
// not be saved.
func (a *Archiver) summarize(ctx context.Context, id string, lines []string) string {
	summary, err := a.summarizer.Summarize(ctx, id, lines)
	if err != nil {
		a.logger.Warn("summarizer failed, storing empty summary", "session_id", id, "error", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = EmptySummary
	}
	path, err := a.summaries.Save(id, summary)
	if err != nil {
		a.logger.Warn("saving summary failed", "session_id", id, "error", err)
		return ""
	}
	return path
}

var errStillBusy = errors.New("file still busy")

func (a *Archiver) deleteWithRetry(ctx context.Context, path string) error {
	var last error
	for attempt := 1; attempt <= a.cfg.DeleteAttempts; attempt++ {
		err := a.remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("deleting transcript: %w", err)
		}
		last = err
		a.logger.Debug("transcript busy, retrying delete", "path", path, "attempt", attempt)

		if attempt == a.cfg.DeleteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errStillBusy, ctx.Err())
		case <-time.After(a.cfg.DeleteBackoff):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", errStillBusy, a.cfg.DeleteAttempts, last)
}

// chatLines renders chat records as "role: text" lines, skipping blank text
// and side-channel records.
func chatLines(records []store.LogRecord) []string {
	var lines []string
	for _, m := range store.RecentMessages(records) {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		lines = append(lines, m.Role+": "+text)
	}
	return lines
}
