// ABOUTME: Session registry derived from the transcript directory (the source of truth)
// ABOUTME: Persists index.json with the active-session pointer via atomic replace

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	transcriptExt = ".jsonl"
	indexFileName = "index.json"
)

// SessionRef is one entry of the index session list.
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// Index is the cached view of known sessions, newest first, plus the active
// session id ("" when there is none).
type Index struct {
	Sessions        []SessionRef
	ActiveSessionID string
}

// IDs returns the session ids in index order.
func (ix *Index) IDs() []string {
	ids := make([]string, len(ix.Sessions))
	for i, s := range ix.Sessions {
		ids[i] = s.SessionID
	}
	return ids
}

// Contains reports whether id is listed in the index.
func (ix *Index) Contains(id string) bool {
	for _, s := range ix.Sessions {
		if s.SessionID == id {
			return true
		}
	}
	return false
}

// indexFile is the on-disk shape. A missing active session is written as null.
type indexFile struct {
	Sessions        []SessionRef `json:"sessions"`
	ActiveSessionID *string      `json:"active_session_id"`
}

// MarshalJSON writes the on-disk shape.
func (ix Index) MarshalJSON() ([]byte, error) {
	f := indexFile{Sessions: ix.Sessions}
	if f.Sessions == nil {
		f.Sessions = []SessionRef{}
	}
	if ix.ActiveSessionID != "" {
		active := ix.ActiveSessionID
		f.ActiveSessionID = &active
	}
	return json.Marshal(f)
}

// SessionIndex manages the set of session transcripts in a directory and the
// persisted index.json cache next to them. Every write goes through a temp
// file and rename; concurrent writers are individually safe with last writer
// wins semantics.
type SessionIndex struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionIndex creates an index over dir. Pass nil logger for default.
func NewSessionIndex(dir string, logger *slog.Logger) *SessionIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionIndex{
		dir:    dir,
		now:    time.Now,
		logger: logger.With("component", "session_index"),
	}
}

// Dir returns the transcript directory.
func (s *SessionIndex) Dir() string { return s.dir }

// TranscriptPath returns the transcript file path for id.
func (s *SessionIndex) TranscriptPath(id string) string {
	return filepath.Join(s.dir, id+transcriptExt)
}

// Transcript returns the transcript handle for id. It does not check that
// the session exists.
func (s *SessionIndex) Transcript(id string) *Transcript {
	return NewTranscript(id, s.TranscriptPath(id))
}

// Exists reports whether id is valid and has a transcript file on disk.
func (s *SessionIndex) Exists(id string) bool {
	if !ValidSessionID(id) {
		return false
	}
	info, err := os.Stat(s.TranscriptPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Rebuild re-derives the session list from the transcript files, keeps the
// previous active id if it still exists (else picks the newest session, or
// none), persists the result, and returns it.
func (s *SessionIndex) Rebuild() (*Index, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}

	prevActive := ""
	if prev, err := s.readIndexFile(); err == nil && prev.ActiveSessionID != nil && ValidSessionID(*prev.ActiveSessionID) {
		prevActive = *prev.ActiveSessionID
	}

	ids, err := s.scan()
	if err != nil {
		return nil, err
	}

	ix := &Index{Sessions: make([]SessionRef, len(ids))}
	for i, id := range ids {
		ix.Sessions[i] = SessionRef{SessionID: id}
	}
	switch {
	case prevActive != "" && ix.Contains(prevActive):
		ix.ActiveSessionID = prevActive
	case len(ids) > 0:
		ix.ActiveSessionID = ids[0]
	}

	if err := s.persist(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// Load returns the persisted index. A missing or structurally invalid index
// file, or one whose active session no longer exists, is rebuilt instead.
func (s *SessionIndex) Load() (*Index, error) {
	f, err := s.readIndexFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("index file invalid, rebuilding", "error", err)
		}
		return s.Rebuild()
	}
	if f.Sessions == nil {
		s.logger.Warn("index file has no session list, rebuilding")
		return s.Rebuild()
	}

	ix := &Index{Sessions: f.Sessions}
	for _, ref := range ix.Sessions {
		if !ValidSessionID(ref.SessionID) {
			s.logger.Warn("index file lists invalid session id, rebuilding", "session_id", ref.SessionID)
			return s.Rebuild()
		}
	}
	if f.ActiveSessionID != nil {
		ix.ActiveSessionID = *f.ActiveSessionID
		if !s.Exists(ix.ActiveSessionID) {
			return s.Rebuild()
		}
	}
	return ix, nil
}

// List returns the known session ids, newest first.
func (s *SessionIndex) List() ([]string, error) {
	ix, err := s.Load()
	if err != nil {
		return nil, err
	}
	return ix.IDs(), nil
}

// SetActive makes id the active session. It fails with ErrInvalidSessionID
// or ErrSessionNotFound without touching the persisted index.
func (s *SessionIndex) SetActive(id string) (*Index, error) {
	if !ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}
	if !s.Exists(id) {
		return nil, ErrSessionNotFound
	}

	ix, err := s.Rebuild()
	if err != nil {
		return nil, err
	}
	ix.ActiveSessionID = id
	if err := s.persist(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// Create derives a session id from the current time in milliseconds, creates
// an empty transcript for it unless one already exists, and marks it active.
// Calls within the same millisecond resolve to the same session.
func (s *SessionIndex) Create() (id string, path string, err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating sessions directory: %w", err)
	}

	id = strconv.FormatInt(s.now().UnixMilli(), 10)
	path = s.TranscriptPath(id)
	if err := touchExclusive(path); err != nil {
		return "", "", err
	}

	if _, err := s.SetActive(id); err != nil {
		return "", "", err
	}

	s.logger.Info("session created", "session_id", id)
	return id, path, nil
}

// Ensure resolves the session a client should use: requested if it exists,
// otherwise the active session, otherwise a newly created one.
func (s *SessionIndex) Ensure(requested string) (string, error) {
	if s.Exists(requested) {
		return requested, nil
	}

	ix, err := s.Load()
	if err != nil {
		return "", err
	}
	if s.Exists(ix.ActiveSessionID) {
		return ix.ActiveSessionID, nil
	}

	id, _, err := s.Create()
	if err != nil {
		return "", err
	}
	return id, nil
}

// scan lists valid session ids with transcripts in the directory, newest
// first. Ids compare numerically.
func (s *SessionIndex) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, transcriptExt) {
			continue
		}
		id := strings.TrimSuffix(name, transcriptExt)
		if ValidSessionID(id) {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		return compareIDs(ids[i], ids[j]) > 0
	})
	return ids, nil
}

// compareIDs orders digit strings by numeric value.
func compareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func (s *SessionIndex) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *SessionIndex) readIndexFile() (*indexFile, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, err
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	return &f, nil
}

func (s *SessionIndex) persist(ix *Index) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := WriteFileAtomic(s.indexPath(), data); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// touchExclusive creates an empty file at path. An existing file is left
// untouched and is not an error.
func touchExclusive(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating transcript: %w", err)
	}
	return f.Close()
}
