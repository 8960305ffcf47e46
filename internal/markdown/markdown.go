// Package markdown renders assembled translations to HTML for the
// optional HTML output format.
package markdown

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// ToHTML renders a markdown body to an HTML fragment.
func ToHTML(md []byte) string {
	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	}
	renderer := html.NewRenderer(opts)
	ext := parser.CommonExtensions | parser.Attributes
	p := parser.NewWithExtensions(ext)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}

// RenderPage wraps the rendered body in a minimal standalone HTML page.
func RenderPage(title string, md []byte) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", htmlEscape(title))
	b.WriteString("<style>body{max-width:50em;margin:2em auto;padding:0 1em;font-family:serif;line-height:1.5}</style>\n")
	b.WriteString("</head>\n<body>\n")
	b.WriteString(ToHTML(md))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
