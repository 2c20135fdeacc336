// Package publish maintains the public mirror of shared notes. A note whose
// visibility is public or password-protected has a copy in the shared
// collection under its bare id; a private note has none. Every save and every
// visibility change converges the mirror toward that rule, so the operation
// must stay idempotent.
package publish

import (
	"context"
	"log/slog"

	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
)

// Mirror converges the shared collection for one note at a time.
type Mirror struct {
	remote docstore.Store
	log    *slog.Logger
}

// New creates a mirror over the remote store.
func New(remote docstore.Store) *Mirror {
	return &Mirror{remote: remote, log: obs.Pkg("publish")}
}

// Sync brings the public mirror in line with the note's visibility. Shared
// notes are written as-is, carrying the note's own timestamps so mirroring
// the same state twice is a no-op for readers. Private notes have their
// mirror deleted; a mirror that never existed is not an error.
func (m *Mirror) Sync(ctx context.Context, n notes.Note) error {
	id := notes.BareID(n.ID)
	if n.Visibility.IsShared() {
		mirrored := n.Clone()
		mirrored.ID = id
		if _, err := m.remote.SetPublicNote(ctx, mirrored); err != nil {
			return errs.Wrap(errs.CodeOf(err), "failed to update public copy", err)
		}
		m.log.Debug("mirrored note to public collection", "note_id", id, "visibility", n.Visibility.Type)
		return nil
	}

	err := m.remote.DeletePublicNote(ctx, id)
	if err != nil && !errs.IsNotFound(err) {
		return errs.Wrap(errs.CodeOf(err), "failed to remove public copy", err)
	}
	m.log.Debug("removed note from public collection", "note_id", id)
	return nil
}

// Remove deletes the mirror unconditionally. Used when the note itself is
// deleted.
func (m *Mirror) Remove(ctx context.Context, noteID string) error {
	err := m.remote.DeletePublicNote(ctx, notes.BareID(noteID))
	if err != nil && !errs.IsNotFound(err) {
		return errs.Wrap(errs.CodeOf(err), "failed to remove public copy", err)
	}
	return nil
}

// Reconcile sweeps the session's own notes and converges every mirror. It
// repairs mirrors that drifted while a save partially failed. Individual
// failures are logged and skipped so one bad document cannot block the rest.
func (m *Mirror) Reconcile(ctx context.Context, sessionID string, limit int) {
	own, err := m.remote.QueryNotes(ctx, sessionID, limit)
	if err != nil {
		m.log.Warn("mirror reconciliation skipped", "session_id", sessionID, "error", err)
		return
	}
	for _, n := range own {
		if err := m.Sync(ctx, n); err != nil {
			m.log.Warn("mirror reconciliation failed for note", "note_id", n.ID, "error", err)
		}
	}
}
