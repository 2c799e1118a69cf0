// Package markdown extracts plain text from markdown content for auto
// titles and notification previews.
package markdown

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var parser = goldmark.New()

// PlainText strips markdown syntax and returns the readable text with
// collapsed whitespace.
func PlainText(source string) string {
	src := []byte(source)
	doc := parser.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.CodeSpan:
			// Child text nodes carry the content.
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// Title derives a short title from message content: plain text, first line,
// truncated to maxRunes with an ellipsis.
func Title(source string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 50
	}
	plain := PlainText(source)
	if plain == "" {
		return ""
	}
	if utf8.RuneCountInString(plain) <= maxRunes {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
