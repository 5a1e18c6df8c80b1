// ABOUTME: Tests for session archiving and rollover
// ABOUTME: Uses real temp-dir stores and a stub summarizer

package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/murmur-gateway/internal/agent"
	"github.com/2389/murmur-gateway/internal/store"
)

type fixture struct {
	index     *store.SessionIndex
	summaries *store.SummaryStore
	calls     [][]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		index:     store.NewSessionIndex(filepath.Join(root, "sessions"), nil),
		summaries: store.NewSummaryStore(filepath.Join(root, "summaries")),
	}
}

func (f *fixture) summarizer(reply string, err error) Summarizer {
	return SummarizerFunc(func(_ context.Context, _ string, lines []string) (string, error) {
		f.calls = append(f.calls, lines)
		return reply, err
	})
}

func (f *fixture) session(t *testing.T, id string, records ...store.LogRecord) {
	t.Helper()
	tr := f.index.Transcript(id)
	require.NoError(t, tr.Clear())
	if len(records) > 0 {
		require.NoError(t, tr.Append(t.Context(), records))
	}
}

func TestArchive_SummarizesDeletesAndReassignsActive(t *testing.T) {
	f := newFixture(t)
	f.session(t, "1", store.UserRecord("", "old"))
	f.session(t, "2",
		store.UserRecord("u1", "hi"),
		store.LogRecord{Event: store.EventFunctionCall, Name: "grep"},
		store.AssistantRecord("a1", "Main", "Hello!"),
	)
	_, err := f.index.SetActive("2")
	require.NoError(t, err)

	a := New(f.index, f.summaries, f.summarizer("User greeted the assistant.", nil), Config{}, nil)
	var evicted []string
	a.OnArchived(func(id string) { evicted = append(evicted, id) })

	res := a.Archive(t.Context(), "2")
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "2", res.ArchivedSessionID)
	assert.Equal(t, "1", res.ActiveSessionID)
	assert.Equal(t, f.summaries.Path("2"), res.SummaryPath)
	assert.Equal(t, []string{"2"}, evicted)

	require.Len(t, f.calls, 1)
	assert.Equal(t, []string{"user: hi", "assistant: Hello!"}, f.calls[0])

	summary, err := f.summaries.Get("2")
	require.NoError(t, err)
	assert.Equal(t, "User greeted the assistant.", summary)

	assert.False(t, f.index.Exists("2"))
	ix, err := f.index.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ix.IDs())
	assert.Equal(t, "1", ix.ActiveSessionID)
}

func TestArchive_LastSessionLeavesNoActive(t *testing.T) {
	f := newFixture(t)
	f.session(t, "5", store.UserRecord("", "x"))

	res := New(f.index, f.summaries, f.summarizer("s", nil), Config{}, nil).Archive(t.Context(), "5")
	require.True(t, res.OK)
	assert.Equal(t, "", res.ActiveSessionID)
}

func TestArchive_EmptySessionSkipsSummary(t *testing.T) {
	f := newFixture(t)
	f.session(t, "7")

	res := New(f.index, f.summaries, f.summarizer("unused", nil), Config{}, nil).Archive(t.Context(), "7")
	require.True(t, res.OK)
	assert.Empty(t, f.calls)
	assert.Equal(t, "", res.SummaryPath)
	_, err := f.summaries.Get("7")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.False(t, f.index.Exists("7"))
}

func TestArchive_SummarizerFailureStoresPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.session(t, "3", store.UserRecord("", "hello"))

	res := New(f.index, f.summaries, f.summarizer("", errors.New("model down")), Config{}, nil).Archive(t.Context(), "3")
	require.True(t, res.OK)

	summary, err := f.summaries.Get("3")
	require.NoError(t, err)
	assert.Equal(t, EmptySummary, summary)
}

func TestArchive_RejectsBadIDs(t *testing.T) {
	f := newFixture(t)
	a := New(f.index, f.summaries, nil, Config{}, nil)

	res := a.Archive(t.Context(), "../etc")
	assert.False(t, res.OK)
	assert.Equal(t, CodeInvalidSessionID, res.Error)

	res = a.Archive(t.Context(), "12345")
	assert.False(t, res.OK)
	assert.Equal(t, CodeSessionNotFound, res.Error)
}

func TestArchive_NonBusyDeleteErrorFails(t *testing.T) {
	f := newFixture(t)
	f.session(t, "9", store.UserRecord("", "x"))

	a := New(f.index, f.summaries, nil, Config{}, nil)
	attempts := 0
	a.remove = func(string) error {
		attempts++
		return errors.New("disk on fire")
	}
	var evicted bool
	a.OnArchived(func(string) { evicted = true })

	res := a.Archive(t.Context(), "9")
	assert.False(t, res.OK)
	assert.Equal(t, CodeArchiveFailed, res.Error)
	assert.Equal(t, 1, attempts)
	assert.False(t, evicted)
	assert.True(t, f.index.Exists("9"))
}

func TestArchive_WritesCompressedCopy(t *testing.T) {
	f := newFixture(t)
	f.session(t, "11", store.UserRecord("", "keep me"), store.AssistantRecord("", "Main", "ok"))
	original, err := os.ReadFile(f.index.TranscriptPath("11"))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "archive")
	res := New(f.index, f.summaries, nil, Config{ArchiveDir: dir}, nil).Archive(t.Context(), "11")
	require.True(t, res.OK)
	assert.Equal(t, ArchivePath(dir, "11"), res.ArchivePath)

	restored, err := LoadArchived(dir, "11")
	require.NoError(t, err)
	assert.Equal(t, original, restored)
	assert.True(t, strings.Contains(string(restored), "keep me"))

	_, err = LoadArchived(dir, "12")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestArchive_CompressionFailureKeepsTranscript(t *testing.T) {
	f := newFixture(t)
	f.session(t, "13", store.UserRecord("", "x"))

	// A regular file where the archive directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	res := New(f.index, f.summaries, nil, Config{ArchiveDir: blocker}, nil).Archive(t.Context(), "13")
	assert.False(t, res.OK)
	assert.Equal(t, CodeArchiveFailed, res.Error)
	assert.True(t, f.index.Exists("13"))
}

func TestRollover_CreatesNewActiveSession(t *testing.T) {
	f := newFixture(t)
	f.session(t, "100", store.UserRecord("", "x"))

	res := New(f.index, f.summaries, nil, Config{}, nil).Rollover(t.Context(), "100")
	require.True(t, res.OK)
	require.NotEmpty(t, res.NewSessionID)
	assert.Equal(t, res.NewSessionID, res.ActiveSessionID)
	assert.True(t, f.index.Exists(res.NewSessionID))
	assert.False(t, f.index.Exists("100"))

	ix, err := f.index.Load()
	require.NoError(t, err)
	assert.Equal(t, res.NewSessionID, ix.ActiveSessionID)
}

func TestRollover_PropagatesArchiveFailure(t *testing.T) {
	f := newFixture(t)
	res := New(f.index, f.summaries, nil, Config{}, nil).Rollover(t.Context(), "404")
	assert.False(t, res.OK)
	assert.Equal(t, CodeSessionNotFound, res.Error)
	assert.Empty(t, res.NewSessionID)
}

func TestRunnerSummarizer_UsesRunnerFinalText(t *testing.T) {
	s := NewRunnerSummarizer(&agent.EchoRunner{}, "Summarizer")
	got, err := s.Summarize(t.Context(), "1", []string{"user: hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Echo: Summarize the following conversation"))
	assert.Contains(t, got, "user: hi")
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, agent.RunRequest, func(agent.StreamEvent)) (*agent.Result, error) {
	return nil, agent.ErrRunnerUnavailable
}

func TestRunnerSummarizer_WrapsRunnerError(t *testing.T) {
	s := NewRunnerSummarizer(failingRunner{}, "Summarizer")
	_, err := s.Summarize(t.Context(), "1", []string{"user: hi"})
	assert.ErrorIs(t, err, agent.ErrRunnerUnavailable)
}

func TestArchive_WaitsForRunningTurn(t *testing.T) {
	f := newFixture(t)
	f.session(t, "1", store.UserRecord("", "early"))

	// turn stands in for the session's turn lock, held by a running turn.
	var turn sync.Mutex
	turn.Lock()

	a := New(f.index, f.summaries, f.summarizer("digest", nil), Config{}, nil)
	a.LockSessionWith(func(string) func() {
		turn.Lock()
		return turn.Unlock
	})

	done := make(chan *Result, 1)
	go func() { done <- a.Archive(context.Background(), "1") }()

	select {
	case <-done:
		t.Fatal("archive finished while a turn was running")
	case <-time.After(100 * time.Millisecond):
	}
	assert.FileExists(t, f.index.TranscriptPath("1"))

	// The running turn records its exchange, then releases the session.
	require.NoError(t, f.index.Transcript("1").Append(t.Context(), []store.LogRecord{
		store.UserRecord("", "late"),
		store.AssistantRecord("", "Main", "reply"),
	}))
	turn.Unlock()

	var res *Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("archive never finished")
	}
	require.True(t, res.OK, res.Detail)
	assert.NoFileExists(t, f.index.TranscriptPath("1"))
	require.Len(t, f.calls, 1)
	assert.Equal(t, []string{"user: early", "user: late", "assistant: reply"}, f.calls[0])

	ids, err := f.index.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestArchive_SessionGoneAfterWaitingForLock(t *testing.T) {
	f := newFixture(t)
	f.session(t, "1", store.UserRecord("", "hi"))

	a := New(f.index, f.summaries, nil, Config{}, nil)
	a.LockSessionWith(func(id string) func() {
		// Another archive won the race while this one waited.
		require.NoError(t, os.Remove(f.index.TranscriptPath(id)))
		return func() {}
	})

	res := a.Archive(t.Context(), "1")
	assert.False(t, res.OK)
	assert.Equal(t, CodeSessionNotFound, res.Error)
}
