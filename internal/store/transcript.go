// ABOUTME: Append-only JSON Lines transcript, one file per session
// ABOUTME: Durable appends (write + fsync), tolerant reads, and atomic clear via temp file rename

package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Transcript is the file-backed history of one session. It is designed for a
// single writer per session; the mutex only protects against overlapping
// calls on the same value.
//
// There is deliberately no operation that removes an individual record.
type Transcript struct {
	sessionID string
	path      string
	mu        sync.Mutex
}

// NewTranscript returns a transcript for sessionID stored at path. The file
// is created lazily on first append.
func NewTranscript(sessionID, path string) *Transcript {
	return &Transcript{sessionID: sessionID, path: path}
}

// SessionID returns the id of the session this transcript belongs to.
func (t *Transcript) SessionID() string { return t.sessionID }

// Path returns the transcript file path.
func (t *Transcript) Path() string { return t.path }

// Append writes records to the end of the transcript, one JSON object per
// line, and syncs the file before returning. The batch is written with a
// single write call; if that write fails the file is truncated back to its
// previous size so no partial record is left behind.
func (t *Transcript) Append(ctx context.Context, records []LogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		// Encode appends the trailing newline.
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat transcript: %w", err)
	}
	prevSize := info.Size()

	data := buf.Bytes()
	if prevSize > 0 {
		// A crash can leave a torn last line; start on a fresh line so the
		// new records do not merge into it.
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, prevSize-1); err != nil {
			return fmt.Errorf("reading transcript tail: %w", err)
		}
		if last[0] != '\n' {
			data = append([]byte{'\n'}, data...)
		}
	}

	if _, err := f.Write(data); err != nil {
		if truncErr := f.Truncate(prevSize); truncErr != nil {
			return errors.Join(fmt.Errorf("writing transcript: %w", err), fmt.Errorf("rolling back partial write: %w", truncErr))
		}
		return fmt.Errorf("writing transcript: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing transcript: %w", err)
	}
	return nil
}

// Read returns the most recent limit records in file order (oldest first).
// A limit <= 0 returns every record. Blank, truncated, or otherwise
// unparseable lines are skipped. A missing file reads as empty.
func (t *Transcript) Read(ctx context.Context, limit int) ([]LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	return decodeRecords(f, limit)
}

// decodeRecords parses JSON Lines from r, keeping only the last limit
// parseable records when limit > 0.
func decodeRecords(r io.Reader, limit int) ([]LogRecord, error) {
	var records []LogRecord
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if rec, ok := parseRecordLine(line); ok {
				records = append(records, rec)
				if limit > 0 && len(records) > 2*limit {
					records = append(records[:0:0], records[len(records)-limit:]...)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading transcript: %w", err)
		}
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// parseRecordLine decodes a single transcript line. Only JSON objects are
// accepted.
func parseRecordLine(line []byte) (LogRecord, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return LogRecord{}, false
	}
	var rec LogRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return LogRecord{}, false
	}
	return rec, true
}

// Clear empties the transcript by renaming an empty temp file over it, so a
// concurrent reader sees either the old content or an empty file.
func (t *Transcript) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return WriteFileAtomic(t.path, nil)
}

// WriteFileAtomic writes data to a uniquely named temp file next to path,
// syncs it, and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
