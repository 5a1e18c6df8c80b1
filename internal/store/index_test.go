// ABOUTME: Tests for SessionIndex rebuild, load, activation, and creation
// ABOUTME: Verifies the transcript directory stays the source of truth for the index cache

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *SessionIndex {
	t.Helper()
	return NewSessionIndex(filepath.Join(t.TempDir(), "sessions"), nil)
}

func touch(t *testing.T, ix *SessionIndex, ids ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(ix.Dir(), 0o755))
	for _, id := range ids {
		require.NoError(t, os.WriteFile(ix.TranscriptPath(id), nil, 0o644))
	}
}

func readRawIndex(t *testing.T, ix *SessionIndex) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ix.Dir(), indexFileName))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestSessionIndex_RebuildEmptyDir(t *testing.T) {
	ix := newTestIndex(t)

	got, err := ix.Rebuild()
	require.NoError(t, err)
	assert.Empty(t, got.Sessions)
	assert.Equal(t, "", got.ActiveSessionID)

	raw := readRawIndex(t, ix)
	assert.Equal(t, []any{}, raw["sessions"])
	assert.Nil(t, raw["active_session_id"])
}

func TestSessionIndex_RebuildSortsNewestFirstAndIgnoresStrays(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "100", "9", "1700000000000")
	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "notes.jsonl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "200.db"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ix.Dir(), "300.jsonl"), 0o755))

	got, err := ix.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000000", "100", "9"}, got.IDs())
	assert.Equal(t, "1700000000000", got.ActiveSessionID)
}

func TestSessionIndex_RebuildPreservesValidActive(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "1", "2", "3")

	_, err := ix.SetActive("2")
	require.NoError(t, err)

	got, err := ix.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, "2", got.ActiveSessionID)
}

func TestSessionIndex_RebuildFallsBackWhenActiveRemoved(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "1", "2", "3")

	_, err := ix.SetActive("3")
	require.NoError(t, err)
	require.NoError(t, os.Remove(ix.TranscriptPath("3")))

	got, err := ix.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, got.IDs())
	assert.Equal(t, "2", got.ActiveSessionID)

	require.NoError(t, os.Remove(ix.TranscriptPath("2")))
	require.NoError(t, os.Remove(ix.TranscriptPath("1")))
	got, err = ix.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, "", got.ActiveSessionID)
}

func TestSessionIndex_RebuildIsIdempotent(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "10", "20")

	first, err := ix.Rebuild()
	require.NoError(t, err)
	firstRaw, err := os.ReadFile(filepath.Join(ix.Dir(), indexFileName))
	require.NoError(t, err)

	second, err := ix.Rebuild()
	require.NoError(t, err)
	secondRaw, err := os.ReadFile(filepath.Join(ix.Dir(), indexFileName))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, string(firstRaw), string(secondRaw))
}

func TestSessionIndex_LoadRebuildsInvalidFile(t *testing.T) {
	tests := map[string]string{
		"not json":         "{{{",
		"not an object":    "[1,2,3]",
		"sessions missing": `{"active_session_id":null}`,
		"sessions wrong":   `{"sessions":"5"}`,
		"bad id in list":   `{"sessions":[{"session_id":"../etc"}]}`,
		"stale active":     `{"sessions":[{"session_id":"5"}],"active_session_id":"999"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			ix := newTestIndex(t)
			touch(t, ix, "5", "7")
			require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), indexFileName), []byte(content), 0o644))

			got, err := ix.Load()
			require.NoError(t, err)
			assert.Equal(t, []string{"7", "5"}, got.IDs())
			assert.Equal(t, "7", got.ActiveSessionID)
		})
	}
}

func TestSessionIndex_LoadMissingFileRebuilds(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "42")

	got, err := ix.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, got.IDs())
	assert.Equal(t, "42", got.ActiveSessionID)
	_, err = os.Stat(filepath.Join(ix.Dir(), indexFileName))
	assert.NoError(t, err)
}

func TestSessionIndex_SetActiveMissingSessionDoesNotModifyIndex(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "1", "2")
	_, err := ix.SetActive("1")
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(ix.Dir(), indexFileName))
	require.NoError(t, err)

	_, err = ix.SetActive("999")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = ix.SetActive("abc")
	require.ErrorIs(t, err, ErrInvalidSessionID)

	after, err := os.ReadFile(filepath.Join(ix.Dir(), indexFileName))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSessionIndex_CreateMarksActive(t *testing.T) {
	ix := newTestIndex(t)
	fixed := time.UnixMilli(1700000000123)
	ix.now = func() time.Time { return fixed }

	id, path, err := ix.Create()
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", id)
	assert.Equal(t, ix.TranscriptPath(id), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	got, err := ix.Load()
	require.NoError(t, err)
	assert.Equal(t, id, got.ActiveSessionID)
}

func TestSessionIndex_CreateSameMillisecondCollapses(t *testing.T) {
	ix := newTestIndex(t)
	fixed := time.UnixMilli(1700000000555)
	ix.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Go(func() {
			id, _, err := ix.Create()
			assert.NoError(t, err)
			ids[i] = id
		})
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "1700000000555", id)
	}

	entries, err := os.ReadDir(ix.Dir())
	require.NoError(t, err)
	var transcripts int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == transcriptExt {
			transcripts++
		}
	}
	assert.Equal(t, 1, transcripts)
}

func TestSessionIndex_CreateDoesNotTruncateExisting(t *testing.T) {
	ix := newTestIndex(t)
	fixed := time.UnixMilli(1700000000777)
	ix.now = func() time.Time { return fixed }

	id, _, err := ix.Create()
	require.NoError(t, err)
	require.NoError(t, ix.Transcript(id).Append(t.Context(), []LogRecord{UserRecord("", "hello")}))

	_, _, err = ix.Create()
	require.NoError(t, err)

	records, err := ix.Transcript(id).Read(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSessionIndex_Ensure(t *testing.T) {
	ix := newTestIndex(t)
	fixed := time.UnixMilli(1700000000999)
	ix.now = func() time.Time { return fixed }

	// Nothing on disk: a session is created lazily.
	id, err := ix.Ensure("")
	require.NoError(t, err)
	assert.Equal(t, "1700000000999", id)

	touch(t, ix, "5")

	// Requested and existing wins.
	id, err = ix.Ensure("5")
	require.NoError(t, err)
	assert.Equal(t, "5", id)

	// Unknown request falls back to the active session.
	id, err = ix.Ensure("12345")
	require.NoError(t, err)
	assert.Equal(t, "1700000000999", id)
}

func TestSessionIndex_ExistsRejectsInvalidIDs(t *testing.T) {
	ix := newTestIndex(t)
	touch(t, ix, "8")

	assert.True(t, ix.Exists("8"))
	assert.False(t, ix.Exists("9"))
	assert.False(t, ix.Exists("../8"))
	assert.False(t, ix.Exists(""))
}

func TestSummaryStore_SaveAndGet(t *testing.T) {
	s := NewSummaryStore(filepath.Join(t.TempDir(), "summaries"))

	path, err := s.Save("123", "  user asked about tennis rackets  ")
	require.NoError(t, err)
	assert.Equal(t, s.Path("123"), path)

	got, err := s.Get("123")
	require.NoError(t, err)
	assert.Equal(t, "user asked about tennis rackets", got)

	_, err = s.Get("456")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Save("nope", "x")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}
