// Package docstore defines the remote document store contract consumed by
// the reconciliation layer: per-document CRUD, ordered/limited queries, and
// subscription-based change notification over two collections: each
// session's own notes and the shared public notes.
//
// Timestamps are server-assigned: Set operations return the stored state so
// callers observe the stamp the server chose. View counters are incremented
// atomically server-side.
package docstore

import (
	"context"
	"time"

	"github.com/studybook/studybook/internal/notes"
)

// ChangeKind tags a subscription change record.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one discrete change record delivered by a subscription, carrying
// the affected document's current full state (for removals, its last state).
type Change struct {
	Kind ChangeKind
	Note notes.Note
}

// SnapshotHandler receives one snapshot's worth of change records. Records
// within a snapshot are in server-assigned order.
type SnapshotHandler func(changes []Change)

// ErrorHandler receives subscription failures. The subscription stays
// registered; recovery is the caller's policy.
type ErrorHandler func(err error)

// Unsubscribe cancels a live subscription. Calling it more than once, or
// after the store is gone, is a no-op.
type Unsubscribe func()

// Progress is a reading-position document.
type Progress struct {
	NoteID    string    `json:"noteId"`
	PageIndex int       `json:"pageIndex"`
	SessionID string    `json:"userId"`
	UpdatedAt time.Time `json:"timestamp"`
}

// LatestProgressID returns the doc id of a session's most recent position.
func LatestProgressID(sessionID string) string {
	return sessionID + "_latest"
}

// NoteProgressID returns the doc id of a session's position in one note.
func NoteProgressID(sessionID, noteID string) string {
	return sessionID + "_" + noteID
}

// Store is the remote document store contract.
//
// Errors are coded (internal/errs): unavailable for transient connectivity
// faults, permission_denied when the backend's rules reject the request,
// not_found for absent documents.
type Store interface {
	// Ready blocks until the store is usable or ctx expires. Callers bound
	// it and proceed in local-only mode on expiry.
	Ready(ctx context.Context) error

	// Own-notes collection: users/{ownerID}/notes/{noteID}.
	GetNote(ctx context.Context, ownerID, noteID string) (notes.Note, error)
	SetNote(ctx context.Context, ownerID string, note notes.Note) (notes.Note, error)
	DeleteNote(ctx context.Context, ownerID, noteID string) error
	QueryNotes(ctx context.Context, ownerID string, limit int) ([]notes.Note, error)
	SubscribeNotes(ctx context.Context, ownerID string, limit int, onSnapshot SnapshotHandler, onError ErrorHandler) (Unsubscribe, error)
	IncrementViews(ctx context.Context, ownerID, noteID string) error

	// Shared public collection: publicNotes/{noteID}.
	GetPublicNote(ctx context.Context, noteID string) (notes.Note, error)
	SetPublicNote(ctx context.Context, note notes.Note) (notes.Note, error)
	DeletePublicNote(ctx context.Context, noteID string) error
	QueryPublicNotes(ctx context.Context, limit int) ([]notes.Note, error)
	SubscribePublicNotes(ctx context.Context, limit int, onSnapshot SnapshotHandler, onError ErrorHandler) (Unsubscribe, error)
	IncrementPublicViews(ctx context.Context, noteID string) error

	// Reading progress: readingProgress/{docID}.
	SetProgress(ctx context.Context, docID string, p Progress) error
	GetProgress(ctx context.Context, docID string) (Progress, error)
	DeleteProgress(ctx context.Context, docID string) error
}
