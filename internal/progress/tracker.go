// Package progress remembers the reader's position in each note. Positions
// always land in the local store; when a session is signed in they are also
// written to the remote store so another device can resume, but a remote
// failure never blocks the reader.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/localstore"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
)

type localRecord struct {
	PageIndex int       `json:"pageIndex"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tracker is safe for concurrent use; all state lives in the two stores.
type Tracker struct {
	local  localstore.Store
	remote docstore.Store
	now    func() time.Time
	log    *slog.Logger
}

// New creates a tracker over the two stores.
func New(local localstore.Store, remote docstore.Store) *Tracker {
	return &Tracker{
		local:  local,
		remote: remote,
		now:    time.Now,
		log:    obs.Pkg("progress"),
	}
}

// SetNow overrides the clock. Tests only.
func (t *Tracker) SetNow(now func() time.Time) {
	t.now = now
}

// Record stores the reading position. The local write is the one that
// matters; the remote writes (both the per-note document and the session's
// "latest" pointer) are best effort.
func (t *Tracker) Record(ctx context.Context, sessionID, noteID string, pageIndex int) {
	if pageIndex < 0 {
		pageIndex = 0
	}
	id := notes.BareID(noteID)

	rec := localRecord{PageIndex: pageIndex, UpdatedAt: t.now()}
	data, _ := json.Marshal(rec)
	if err := t.local.Set(localstore.ProgressKey(id), string(data)); err != nil {
		t.log.Warn("failed to store reading position locally", "note_id", id, "error", err)
	}

	if sessionID == "" {
		return
	}
	p := docstore.Progress{
		NoteID:    id,
		PageIndex: pageIndex,
		SessionID: sessionID,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := t.remote.SetProgress(ctx, docstore.NoteProgressID(sessionID, id), p); err != nil {
		t.log.Debug("remote progress write skipped", "note_id", id, "error", err)
		return
	}
	if err := t.remote.SetProgress(ctx, docstore.LatestProgressID(sessionID), p); err != nil {
		t.log.Debug("remote latest-progress write skipped", "error", err)
	}
}

// PageFor returns the locally stored position for the note, or 0.
func (t *Tracker) PageFor(noteID string) int {
	raw, ok := t.local.Get(localstore.ProgressKey(notes.BareID(noteID)))
	if !ok {
		return 0
	}
	var rec localRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.log.Warn("unreadable local reading position", "note_id", noteID, "error", err)
		return 0
	}
	return rec.PageIndex
}

// Latest returns the session's most recently read note from the remote
// store. It reports false when the store is unreachable or nothing was
// recorded yet.
func (t *Tracker) Latest(ctx context.Context, sessionID string) (docstore.Progress, bool) {
	if sessionID == "" {
		return docstore.Progress{}, false
	}
	p, err := t.remote.GetProgress(ctx, docstore.LatestProgressID(sessionID))
	if err != nil {
		return docstore.Progress{}, false
	}
	return p, true
}

// ForgetNote removes the note's positions everywhere. Called when the note
// is deleted.
func (t *Tracker) ForgetNote(ctx context.Context, sessionID, noteID string) {
	id := notes.BareID(noteID)
	if err := t.local.Remove(localstore.ProgressKey(id)); err != nil {
		t.log.Warn("failed to remove local reading position", "note_id", id, "error", err)
	}
	if sessionID == "" {
		return
	}
	if err := t.remote.DeleteProgress(ctx, docstore.NoteProgressID(sessionID, id)); err != nil {
		t.log.Debug("remote progress delete skipped", "note_id", id, "error", err)
	}
	// The latest pointer may still reference the deleted note.
	if p, err := t.remote.GetProgress(ctx, docstore.LatestProgressID(sessionID)); err == nil && p.NoteID == id {
		if err := t.remote.DeleteProgress(ctx, docstore.LatestProgressID(sessionID)); err != nil {
			t.log.Debug("remote latest-progress delete skipped", "error", err)
		}
	}
}

// ClearLocal removes every locally stored position whose note id contains
// the given id. Mirrors the teardown that runs on note delete.
func (t *Tracker) ClearLocal(noteID string) {
	id := notes.BareID(noteID)
	for _, key := range t.local.Keys() {
		if localstore.IsProgressKey(key) && strings.Contains(key, id) {
			_ = t.local.Remove(key)
		}
	}
}
