// ABOUTME: Converts markdown assistant text into plain text suitable for synthesis
// ABOUTME: Walks the goldmark AST, dropping code, images, raw HTML, and link targets

package speech

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Speakable renders markdown as the words a voice should read: code blocks,
// images, and raw HTML are removed, links keep their label, symbols other
// than sentence punctuation become spaces, and whitespace is collapsed.
func Speakable(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock,
			ast.KindRawHTML, ast.KindImage, ast.KindAutoLink:
			return ast.WalkSkipChildren, nil
		case ast.KindCodeSpan:
			// Inline code is usually an identifier; drop it.
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			if entering {
				t := n.(*ast.Text)
				b.Write(t.Segment.Value(source))
				if t.SoftLineBreak() || t.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case ast.KindString:
			if entering {
				b.Write(n.(*ast.String).Value)
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return collapse(b.String())
}

// collapse replaces symbols with spaces and squeezes runs of whitespace.
func collapse(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return r
		case strings.ContainsRune(".,!?;:'\"，。！？、；：", r):
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
