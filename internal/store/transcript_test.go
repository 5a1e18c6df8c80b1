// ABOUTME: Tests for the JSON Lines transcript
// ABOUTME: Covers append/read ordering, limits, corrupt-line tolerance, and atomic clear

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTranscript(t *testing.T) *Transcript {
	t.Helper()
	return NewTranscript("1700000000000", filepath.Join(t.TempDir(), "1700000000000.jsonl"))
}

func contents(records []LogRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Content)
	}
	return out
}

func TestTranscript_ReadMissingFileIsEmpty(t *testing.T) {
	tr := newTestTranscript(t)

	records, err := tr.Read(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTranscript_AppendThenRead(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{
		UserRecord("u1", "hi"),
		AssistantRecord("a1", "Main", "Hello!"),
	}))

	records, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, RoleUser, records[0].Role)
	assert.Equal(t, Content("hi"), records[0].Content)
	assert.Equal(t, RoleAssistant, records[1].Role)
	assert.Equal(t, Content("Hello!"), records[1].Content)
	assert.Equal(t, "Main", records[1].Agent)
}

func TestTranscript_ReadLimitReturnsLastRecordsInOrder(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	for i := range 25 {
		require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", fmt.Sprintf("m%d", i))}))
	}

	records, err := tr.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m22", "m23", "m24"}, contents(records))

	all, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 25)
}

func TestTranscript_ReadSkipsMalformedLines(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "one")}))

	f, err := os.OpenFile(tr.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"role\":\"user\",\"con\n\n42\nnot json at all\n[1,2]\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "two"), UserRecord("", "three")}))

	records, err := tr.Read(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, contents(records))

	all, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(all))
}

func TestTranscript_ReadToleratesTruncatedTail(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "kept")}))

	f, err := os.OpenFile(tr.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"assistant","content":"cut off mid`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(records))
}

func TestTranscript_AppendAfterTruncatedTailStartsNewLine(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "first")}))

	f, err := os.OpenFile(tr.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"user","cont`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "second"), UserRecord("", "third")}))

	records, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, contents(records))

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestTranscript_SideChannelRecords(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{
		{Event: EventFunctionCall, Name: "read_file", CallID: "c1", Arguments: `{"path":"a.txt"}`},
		{Event: EventFunctionCallOutput, CallID: "c1", Output: "contents"},
		{Event: EventAgentHandoff, ToAgent: "Coder"},
	}))

	records, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, EventFunctionCall, records[0].Event)
	assert.Equal(t, "read_file", records[0].Name)
	assert.Equal(t, EventFunctionCallOutput, records[1].Event)
	assert.Equal(t, "Coder", records[2].ToAgent)
	assert.False(t, records[0].IsChat())
}

func TestTranscript_LegacyTypeDiscriminantAndStructuredContent(t *testing.T) {
	tr := newTestTranscript(t)
	lines := strings.Join([]string{
		`{"type":"function_call","name":"grep","call_id":"x"}`,
		`{"role":"assistant","type":"message","content":[{"type":"output_text","text":"Hel"},{"type":"output_text","text":"lo"}]}`,
		`{"role":"user","content":{"unexpected":"shape"}}`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(tr.Path(), []byte(lines), 0o644))

	records, err := tr.Read(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, EventFunctionCall, records[0].Event)
	assert.Equal(t, "", records[1].Event)
	assert.Equal(t, Content("Hello"), records[1].Content)
	assert.Equal(t, Content(""), records[2].Content)
}

func TestTranscript_ClearLeavesEmptyFile(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()

	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "a"), UserRecord("", "b")}))
	require.NoError(t, tr.Clear())

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	assert.Empty(t, data)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(tr.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Appends continue to work after a clear.
	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "c")}))
	records, err := tr.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, contents(records))
}

func TestTranscript_ClearIsAtomicReplace(t *testing.T) {
	tr := newTestTranscript(t)
	ctx := t.Context()
	require.NoError(t, tr.Append(ctx, []LogRecord{UserRecord("", "old")}))

	before, err := os.Stat(tr.Path())
	require.NoError(t, err)

	require.NoError(t, tr.Clear())

	after, err := os.Stat(tr.Path())
	require.NoError(t, err)
	// A rename installs a new inode rather than truncating the old one.
	assert.False(t, os.SameFile(before, after))
	assert.Zero(t, after.Size())
}

func TestTranscript_AppendEmptyBatchIsNoop(t *testing.T) {
	tr := newTestTranscript(t)

	require.NoError(t, tr.Append(t.Context(), nil))
	_, err := os.Stat(tr.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestTranscript_AppendHonoursCancelledContext(t *testing.T) {
	tr := newTestTranscript(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := tr.Append(ctx, []LogRecord{UserRecord("", "x")})
	require.Error(t, err)
}

func TestTranscript_EachRecordIsOneLine(t *testing.T) {
	tr := newTestTranscript(t)
	require.NoError(t, tr.Append(t.Context(), []LogRecord{UserRecord("", "multi\nline <b>&</b> text")}))

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "<b>&</b>")
}

func TestRecentMessages_SkipsSideChannel(t *testing.T) {
	msgs := RecentMessages([]LogRecord{
		UserRecord("u1", "hi"),
		{Event: EventFunctionCall, Name: "grep"},
		AssistantRecord("a1", "Main", "hello"),
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, ChatMessage{ID: "u1", Role: RoleUser, Text: "hi"}, msgs[0])
	assert.Equal(t, ChatMessage{ID: "a1", Role: RoleAssistant, Text: "hello"}, msgs[1])
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"1700000000000", true},
		{"0", true},
		{"", false},
		{"12a", false},
		{"-1", false},
		{"../1", false},
		{"12345678901234567890", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidSessionID(tt.id), "id %q", tt.id)
	}
}
