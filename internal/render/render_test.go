package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/studybook/studybook/internal/notes"
)

func TestMarkdownBasicFormatting(t *testing.T) {
	got := string(Markdown("# Heading\n\nSome **bold** text."))
	assert.Contains(t, got, "<h1")
	assert.Contains(t, got, "<strong>bold</strong>")
}

func TestMarkdownStripsScripts(t *testing.T) {
	got := string(Markdown("Hello <script>alert('x')</script> world\n\n[link](javascript:alert(1))"))
	assert.NotContains(t, got, "<script")
	assert.NotContains(t, got, "javascript:")
	assert.Contains(t, got, "Hello")
}

func TestMarkdownExternalLinksOpenInNewTab(t *testing.T) {
	got := string(Markdown("[site](https://example.com)"))
	assert.Contains(t, got, `target="_blank"`)
	assert.Contains(t, got, "noopener")
	assert.Contains(t, got, `href="https://example.com"`)
}

func TestPreviewPlainText(t *testing.T) {
	n := notes.New("alice", "Alice")
	n.Pages[0].Content = "# Title line\n\nSome **bold** body text."
	got := Preview(n)
	assert.NotContains(t, got, "#")
	assert.NotContains(t, got, "*")
	assert.Contains(t, got, "Title line")
	assert.Contains(t, got, "bold")
}

func TestPreviewTruncates(t *testing.T) {
	n := notes.New("alice", "Alice")
	n.Pages[0].Content = strings.Repeat("lengthy content ", 40)
	got := Preview(n)
	assert.LessOrEqual(t, len([]rune(got)), PreviewRunes)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPreviewEmptyNote(t *testing.T) {
	n := notes.New("alice", "Alice")
	n.Pages = nil
	assert.Equal(t, "", Preview(n))

	n = notes.New("alice", "Alice")
	n.Pages[0].Content = ""
	assert.Equal(t, "", Preview(n))

	// A freshly created note previews its starter content.
	assert.NotEmpty(t, Preview(notes.New("alice", "Alice")))
}

func TestPreviewUnescapesEntities(t *testing.T) {
	n := notes.New("alice", "Alice")
	n.Pages[0].Content = "Tom & Jerry's notes"
	got := Preview(n)
	assert.Contains(t, got, "Tom & Jerry's notes")
}
