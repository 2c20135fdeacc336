package notes

import (
	"encoding/json"
	"time"
)

// noteWire is the serialized form. It carries both the tagged visibility and
// the legacy is_public/password pair that older snapshots and remote documents
// still use. Timestamps travel as RFC 3339 strings; local-only writers stamp
// client time, the remote store replaces them with server time.
type noteWire struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Author     string      `json:"author"`
	AuthorID   string      `json:"authorId"`
	Pages      []Page      `json:"pages"`
	Tags       []string    `json:"tags"`
	Visibility *Visibility `json:"visibility,omitempty"`
	IsPublic   bool        `json:"isPublic"`
	Password   string      `json:"password,omitempty"`
	Views      int64       `json:"views"`
	Likes      int64       `json:"likes"`
	BookColor  string      `json:"bookColor,omitempty"`
	CreatedAt  string      `json:"createdAt,omitempty"`
	UpdatedAt  string      `json:"updatedAt,omitempty"`
}

// MarshalJSON writes the normalized note plus the derived legacy fields.
func (n Note) MarshalJSON() ([]byte, error) {
	vis := n.Visibility
	w := noteWire{
		ID:         n.ID,
		Title:      n.Title,
		Author:     n.Author,
		AuthorID:   n.AuthorID,
		Pages:      n.Pages,
		Tags:       n.Tags,
		Visibility: &vis,
		IsPublic:   vis.Type == VisibilityPublic,
		Views:      n.Views,
		Likes:      n.Likes,
		BookColor:  n.BookColor,
	}
	if vis.Type == VisibilityPassword {
		w.Password = vis.Password
	}
	if !n.CreatedAt.IsZero() {
		w.CreatedAt = n.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !n.UpdatedAt.IsZero() {
		w.UpdatedAt = n.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads either the tagged variant or the legacy shape and
// normalizes into a single Visibility. Precedence follows the original data:
// an explicit visibility tag wins, then a bare password, then is_public.
func (n *Note) UnmarshalJSON(data []byte) error {
	var w noteWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*n = Note{
		ID:        w.ID,
		Title:     w.Title,
		Author:    w.Author,
		AuthorID:  w.AuthorID,
		Pages:     w.Pages,
		Tags:      w.Tags,
		Views:     w.Views,
		Likes:     w.Likes,
		BookColor: w.BookColor,
	}

	switch {
	case w.Visibility != nil && w.Visibility.Type != "":
		n.Visibility = *w.Visibility
		if n.Visibility.Type == VisibilityPassword && n.Visibility.Password == "" {
			n.Visibility.Password = w.Password
		}
		if n.Visibility.Type != VisibilityPassword {
			n.Visibility.Password = ""
		}
	case w.Password != "":
		n.Visibility = PasswordProtected(w.Password)
	case w.IsPublic:
		n.Visibility = Public()
	default:
		n.Visibility = Private()
	}

	if w.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
			n.CreatedAt = t.UTC()
		}
	}
	if w.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.UpdatedAt); err == nil {
			n.UpdatedAt = t.UTC()
		}
	}

	if n.Pages == nil {
		n.Pages = []Page{}
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	return nil
}
