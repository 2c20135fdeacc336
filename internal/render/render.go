// Package render turns a page's markdown content into sanitized HTML for
// the viewer, plus the short plain-text preview shown on note cards.
package render

import (
	stdhtml "html"
	"html/template"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/studybook/studybook/internal/notes"
)

// PreviewRunes is how much page content a note card shows.
const PreviewRunes = 120

// Page converts one page's markdown to HTML. The result is sanitized and
// safe to place in a template.
func Page(p notes.Page) template.HTML {
	return Markdown(p.Content)
}

// Markdown converts markdown text to sanitized HTML.
func Markdown(s string) template.HTML {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	doc := parser.NewWithExtensions(extensions).Parse([]byte(s))

	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	}
	rendered := markdown.Render(doc, html.NewRenderer(opts))

	// Page content comes from other users via the public collection, so it
	// is never trusted. External links keep their new-tab target and get
	// rel="noopener" stamped on.
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("target").OnElements("a")
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	sanitized := policy.SanitizeBytes(rendered)
	return template.HTML(sanitized)
}

// Preview returns a single-line plain-text excerpt of the note's first page,
// truncated to PreviewRunes runes with an ellipsis.
func Preview(n notes.Note) string {
	if len(n.Pages) == 0 {
		return ""
	}
	return truncate(plainText(n.Pages[0].Content), PreviewRunes)
}

// plainText strips markdown structure well enough for a card excerpt:
// render to HTML, then drop every tag.
func plainText(s string) string {
	doc := parser.NewWithExtensions(parser.CommonExtensions).Parse([]byte(s))
	rendered := markdown.Render(doc, html.NewRenderer(html.RendererOptions{}))
	stripped := bluemonday.StrictPolicy().Sanitize(string(rendered))
	return strings.Join(strings.Fields(stdhtml.UnescapeString(stripped)), " ")
}

// truncate shortens s to at most n runes, appending "..." when it cut
// something.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
