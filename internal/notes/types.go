// Package notes defines the note data model shared by the cache, the sync
// controller, and the stores. Visibility is normalized at this boundary: the
// tagged Visibility variant is the single source of truth, and the legacy
// is_public/password fields only exist on the wire.
package notes

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studybook/studybook/internal/errs"
)

// VisibilityType is the access-control mode of a note.
type VisibilityType string

const (
	VisibilityPrivate  VisibilityType = "private"
	VisibilityPublic   VisibilityType = "public"
	VisibilityPassword VisibilityType = "password"
)

// MinPasswordLength is the minimum accepted note password length.
const MinPasswordLength = 4

// Visibility is the tagged access-control variant. Password is present if
// and only if Type is VisibilityPassword.
type Visibility struct {
	Type     VisibilityType `json:"type"`
	Password string         `json:"password,omitempty"`
}

// Private returns the private visibility variant.
func Private() Visibility {
	return Visibility{Type: VisibilityPrivate}
}

// Public returns the public visibility variant.
func Public() Visibility {
	return Visibility{Type: VisibilityPublic}
}

// PasswordProtected returns the password visibility variant. The password is
// validated by Validate, not here.
func PasswordProtected(password string) Visibility {
	return Visibility{Type: VisibilityPassword, Password: password}
}

// Validate checks the variant's internal consistency.
func (v Visibility) Validate() error {
	switch v.Type {
	case VisibilityPrivate, VisibilityPublic:
		if v.Password != "" {
			return errs.New(errs.InvalidArgument, "password set on non-password visibility")
		}
		return nil
	case VisibilityPassword:
		if len(strings.TrimSpace(v.Password)) < MinPasswordLength {
			return errs.New(errs.InvalidArgument, "password must be at least 4 characters")
		}
		return nil
	default:
		return errs.New(errs.InvalidArgument, "unknown visibility type")
	}
}

// Protected reports whether opening the note requires a password.
func (v Visibility) Protected() bool {
	return v.Type == VisibilityPassword
}

// IsShared reports whether the note must be mirrored into the shared public
// collection (public or password-protected).
func (v Visibility) IsShared() bool {
	return v.Type == VisibilityPublic || v.Type == VisibilityPassword
}

// Page is one unit of content within a note.
type Page struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Image   string   `json:"image,omitempty"`
	Tags    []string `json:"tags"`
}

// Note is a multi-page document with metadata, visibility, and ownership.
type Note struct {
	ID         string
	Title      string
	Author     string
	AuthorID   string
	Pages      []Page
	Tags       []string
	Visibility Visibility
	Views      int64
	Likes      int64
	BookColor  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New creates a private note with a single title page, owned by the given
// author. The id is a fresh UUID; the remote store keeps it on first write.
func New(authorID, author string) Note {
	now := time.Now().UTC()
	return Note{
		ID:         uuid.New().String(),
		Title:      "New Note",
		Author:     author,
		AuthorID:   authorID,
		Visibility: Private(),
		Pages: []Page{{
			Title:   "Title Page",
			Content: "# New Note\n\nStart writing here.",
			Tags:    []string{},
		}},
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Cache entries are always replaced wholesale, so
// mutations on a clone are never visible to a concurrent reader of the
// original.
func (n Note) Clone() Note {
	out := n
	out.Pages = make([]Page, len(n.Pages))
	for i, p := range n.Pages {
		out.Pages[i] = p
		out.Pages[i].Tags = append([]string(nil), p.Tags...)
	}
	out.Tags = append([]string(nil), n.Tags...)
	return out
}

// PublicKeyPrefix namespaces notes authored by someone else in the cache.
const PublicKeyPrefix = "public_"

// PublicKey returns the cache key for a note visible through the public
// collection.
func PublicKey(id string) string {
	return PublicKeyPrefix + id
}

// IsPublicKey reports whether key addresses the public namespace.
func IsPublicKey(key string) bool {
	return strings.HasPrefix(key, PublicKeyPrefix)
}

// BareID strips the public namespace prefix, if present.
func BareID(key string) string {
	return strings.TrimPrefix(key, PublicKeyPrefix)
}
