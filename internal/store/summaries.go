// ABOUTME: One-file-per-session store for archived session digests
// ABOUTME: Summaries are plain text, written atomically under the summaries directory

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const summaryExt = ".md"

// SummaryStore keeps the one-line digests produced when sessions are archived.
type SummaryStore struct {
	dir string
}

// NewSummaryStore creates a summary store rooted at dir.
func NewSummaryStore(dir string) *SummaryStore {
	return &SummaryStore{dir: dir}
}

// Path returns the summary file path for a session id.
func (s *SummaryStore) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+summaryExt)
}

// Save writes the digest for sessionID, replacing any previous one.
func (s *SummaryStore) Save(sessionID, summary string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidSessionID
	}
	path := s.Path(sessionID)
	if err := WriteFileAtomic(path, []byte(strings.TrimSpace(summary)+"\n")); err != nil {
		return "", fmt.Errorf("saving summary: %w", err)
	}
	return path, nil
}

// Get returns the digest for sessionID or ErrSessionNotFound.
func (s *SummaryStore) Get(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidSessionID
	}
	data, err := os.ReadFile(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading summary: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
