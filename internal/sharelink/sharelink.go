// Package sharelink builds and parses the links a shared note is reachable
// by. A link is the app origin with the note id in the "book" query
// parameter; opening one while logged out queues the note until data is
// available.
package sharelink

import (
	"net/url"
	"strings"

	"github.com/studybook/studybook/internal/notes"
)

// Param is the query parameter carrying the note id.
const Param = "book"

// Build returns the shareable URL for a note on the given origin. The note
// id is stored bare; namespace prefixes never leak into links.
func Build(origin, noteID string) string {
	base := normalizeOrigin(origin)
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: base}
	}
	q := u.Query()
	q.Set(Param, notes.BareID(noteID))
	u.RawQuery = q.Encode()
	return u.String()
}

// NoteID extracts the note id from a share link or a raw query string. It
// reports false when no usable id is present.
func NoteID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if u, err := url.Parse(raw); err == nil {
		if id := strings.TrimSpace(u.Query().Get(Param)); id != "" {
			return notes.BareID(id), true
		}
	}

	// Bare "book=id" query fragments are accepted too.
	if vals, err := url.ParseQuery(strings.TrimPrefix(raw, "?")); err == nil {
		if id := strings.TrimSpace(vals.Get(Param)); id != "" {
			return notes.BareID(id), true
		}
	}
	return "", false
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return "https://studybook.app"
	}
	if !strings.Contains(origin, "://") {
		return "https://" + origin
	}
	return origin
}
