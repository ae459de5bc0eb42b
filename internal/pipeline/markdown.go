package pipeline

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// NoEmptyLineBeforeBlock lets "Options:\n- Yes" parse as a paragraph and a
// list, which is how models write them.
const mdExtensions = blackfriday.CommonExtensions | blackfriday.NoEmptyLineBeforeBlock

// blackfriday only knows "1." ordinals.
var parenOrdinal = regexp.MustCompile(`(?m)^(\s*\d+)\)\s`)

// StripMarkdown reduces model output to the words a listener should hear.
// The text is parsed as markdown and only its text and code content is kept,
// so emphasis, headers, list bullets, link targets and code fences disappear.
// Underscores inside words survive because e-mail addresses and field values
// use them. Block boundaries and line breaks collapse to single spaces.
func StripMarkdown(s string) string {
	src := parenOrdinal.ReplaceAllString(s, "$1. ")
	// A parser holds per-document state and cannot be reused.
	doc := blackfriday.New(blackfriday.WithExtensions(mdExtensions)).Parse([]byte(src))

	var b strings.Builder
	doc.Walk(func(n *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch n.Type {
		case blackfriday.Text:
			if entering {
				b.Write(bytes.ReplaceAll(n.Literal, []byte("*"), nil))
			}
		case blackfriday.Code, blackfriday.CodeBlock:
			if entering {
				b.Write(n.Literal)
			}
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			b.WriteByte(' ')
		case blackfriday.Paragraph, blackfriday.Heading, blackfriday.Item, blackfriday.TableCell:
			if !entering {
				b.WriteByte(' ')
			}
		}
		return blackfriday.GoToNext
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
