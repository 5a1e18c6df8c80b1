// ABOUTME: Tests for markdown to speakable text conversion
// ABOUTME: Code, images, and link targets must never reach the synthesizer

package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeakable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"code block", "Here is code:\n```go\nfmt.Println(1)\n```\nDone.", "Here is code: Done."},
		{"image and link", "See ![diagram](http://x/y.png) and [the docs](http://example.com).", "See and the docs."},
		{"emphasis and symbols", "**Bold** move ~ really?", "Bold move really?"},
		{"inline code", "`code` only", "only"},
		{"cjk", "你好，世界！", "你好，世界！"},
		{"only code", "```\nx := 1\n```", ""},
		{"whitespace", "  \n\t ", ""},
		{"list", "- one\n- two", "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Speakable(tt.in))
		})
	}
}
