package markdown

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TelegramHTML converts src to the HTML subset accepted by the Telegram Bot API:
// b, i, code, pre and a. Unsupported blocks degrade to their text.
func TelegramHTML(src string) string {
	source := []byte(src)
	doc := parser.Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.WriteString(html.EscapeString(string(node.Segment.Value(source))))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.WriteString(html.EscapeString(string(node.Value)))
			}
		case *ast.Emphasis:
			tag := "i"
			if node.Level >= 2 {
				tag = "b"
			}
			if entering {
				buf.WriteString("<" + tag + ">")
			} else {
				buf.WriteString("</" + tag + ">")
			}
		case *ast.CodeSpan:
			if entering {
				buf.WriteString("<code>")
			} else {
				buf.WriteString("</code>")
			}
		case *ast.Link:
			if entering {
				fmt.Fprintf(&buf, `<a href="%s">`, html.EscapeString(string(node.Destination)))
			} else {
				buf.WriteString("</a>")
			}
		case *ast.AutoLink:
			if entering {
				buf.WriteString(html.EscapeString(string(node.Label(source))))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				buf.WriteString("<pre>")
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.WriteString(html.EscapeString(string(seg.Value(source))))
				}
				buf.WriteString("</pre>")
				endBlock(&buf)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				endBlock(&buf)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(buf.String())
}
