// Package render turns agent Markdown into the HTML body of an
// outgoing email. The real formatter is an external collaborator; the
// gateway consumes it through the Renderer interface and ships only a
// minimal fallback.
package render

import (
	"html"
	"strings"
)

// Renderer renders reply Markdown plus a signature into HTML.
type Renderer interface {
	Render(markdown, signatureHTML string) string
}

// Basic is the fallback renderer: it escapes the text, converts blank
// lines to paragraphs and single newlines to line breaks, and appends
// the signature. It performs no real Markdown processing.
type Basic struct{}

// Render implements Renderer.
func (Basic) Render(markdown, signatureHTML string) string {
	var sb strings.Builder

	for _, para := range strings.Split(strings.TrimSpace(markdown), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		sb.WriteString("</p>\n")
	}

	if signatureHTML != "" {
		sb.WriteString(signatureHTML)
	}

	return sb.String()
}
