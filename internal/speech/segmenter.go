// ABOUTME: Groups streaming assistant text into speakable segments at sentence boundaries
// ABOUTME: Short runs are held back until they reach the minimum length or the reply ends

package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinSegmentChars is the shortest run (in characters, ignoring
// surrounding whitespace) that is flushed before the reply ends.
const DefaultMinSegmentChars = 16

// Segmenter buffers text deltas for one reply at a time and cuts them into
// segments. Segments are returned verbatim, so concatenating every segment of
// a reply (including the final one) reproduces the reply text exactly.
//
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	minChars int
	replyID  string
	tail     string
}

// NewSegmenter creates a segmenter. minChars <= 0 uses DefaultMinSegmentChars.
func NewSegmenter(minChars int) *Segmenter {
	if minChars <= 0 {
		minChars = DefaultMinSegmentChars
	}
	return &Segmenter{minChars: minChars}
}

// ReplyID returns the reply currently being buffered.
func (s *Segmenter) ReplyID() string { return s.replyID }

// Tail returns the unflushed text of the current reply.
func (s *Segmenter) Tail() string { return s.tail }

// Feed appends delta to the buffer for replyID and returns the segments that
// became flushable. A different replyID discards the previous reply's tail.
func (s *Segmenter) Feed(replyID, delta string) []string {
	if replyID != s.replyID {
		s.replyID = replyID
		s.tail = ""
	}

	buf := s.tail + delta
	var out []string
	cut := 0
	for i, r := range buf {
		size := utf8.RuneLen(r)
		if !isBoundary(buf, i, r, size) {
			continue
		}
		end := i + size
		candidate := buf[cut:end]
		if utf8.RuneCountInString(strings.TrimSpace(candidate)) < s.minChars {
			continue
		}
		out = append(out, candidate)
		cut = end
	}
	s.tail = buf[cut:]
	return out
}

// Finalize returns the remaining buffered text of replyID, however short, and
// clears it. ok is false when nothing is buffered for that reply.
func (s *Segmenter) Finalize(replyID string) (segment string, ok bool) {
	if replyID != s.replyID || s.tail == "" {
		return "", false
	}
	segment = s.tail
	s.tail = ""
	return segment, true
}

// Reset drops the buffered tail and forgets the current reply.
func (s *Segmenter) Reset() {
	s.replyID = ""
	s.tail = ""
}

// isBoundary reports whether the rune r at byte offset i ends a sentence.
// CJK terminal punctuation and newlines always do. ASCII terminal
// punctuation only counts when followed by whitespace, so "3." at the end of
// a delta waits for the next delta before deciding.
func isBoundary(buf string, i int, r rune, size int) bool {
	switch r {
	case '\n', '。', '！', '？':
		return true
	case '.', '!', '?':
		next, _ := utf8.DecodeRuneInString(buf[i+size:])
		return next != utf8.RuneError && unicode.IsSpace(next)
	}
	return false
}
