package app

import (
	"context"
	"time"

	"github.com/studybook/studybook/internal/cache"
	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/search"
)

// MyNotes returns the session's own notes, newest first.
func (a *App) MyNotes() []notes.Note {
	return a.cache.OwnedBy(a.Session().UID)
}

// PublicNotes returns the shared notes from other authors, most viewed
// first.
func (a *App) PublicNotes() []notes.Note {
	return a.cache.Shared()
}

// Search returns cached notes ranked for the query.
func (a *App) Search(query string) []notes.Note {
	results := a.index.Search(query)
	out := make([]notes.Note, 0, len(results))
	for _, r := range results {
		if n, ok := a.cache.Get(r.Key); ok {
			out = append(out, n)
		}
	}
	return out
}

// SearchResults returns the raw ranked results, keyed for the cache.
func (a *App) SearchResults(query string) []search.Result {
	return a.index.Search(query)
}

// OpenNote resolves and opens a note. A password-protected note the session
// has not unlocked yet returns an Unauthorized error; the UI prompts and
// calls SubmitPassword, then opens again. Every open counts a view and the
// reader resumes at the last recorded page.
func (a *App) OpenNote(ctx context.Context, key string) (notes.Note, int, error) {
	session := a.Session()

	n, ok := a.cache.Get(key)
	if !ok {
		// ?book= deep link for a note outside the subscription window.
		fetched, err := a.remote.GetPublicNote(ctx, notes.BareID(key))
		if err != nil {
			if errs.IsNotFound(err) {
				return notes.Note{}, 0, errs.New(errs.NotFound, "Note not found")
			}
			return notes.Note{}, 0, errs.Wrap(errs.CodeOf(err), "failed to load shared note", err)
		}
		// Only genuinely shared state may enter the cache from the public
		// collection; a stale mirror of a re-privatized note stays out.
		if !fetched.Visibility.IsShared() {
			return notes.Note{}, 0, errs.New(errs.NotFound, "Note not found")
		}
		cacheKey := fetched.ID
		if fetched.AuthorID != session.UID {
			cacheKey = notes.PublicKey(fetched.ID)
		}
		a.cache.Upsert(cacheKey, fetched)
		n = fetched
	}

	// Foreign notes are only readable while their current state is shared,
	// even when a stale mirror slipped into the subscription window.
	if n.AuthorID != session.UID && !n.Visibility.IsShared() {
		return notes.Note{}, 0, errs.New(errs.NotFound, "Note not found")
	}

	if !a.gate.CheckAccess(n, session.UID) {
		return notes.Note{}, 0, errs.New(errs.Unauthorized, "This note is password protected")
	}

	a.mu.Lock()
	a.openKey = key
	a.mu.Unlock()

	if !a.isLocalOnly() {
		// Owners bump their own document; readers bump the public copy.
		var err error
		if n.AuthorID == session.UID && session.SignedIn() {
			err = a.remote.IncrementViews(ctx, session.UID, notes.BareID(n.ID))
		} else if n.Visibility.IsShared() {
			err = a.remote.IncrementPublicViews(ctx, notes.BareID(n.ID))
		}
		if err != nil {
			a.log.Debug("view count not recorded", "note_id", n.ID, "error", err)
		}
	}

	page := a.tracker.PageFor(n.ID)
	if page >= len(n.Pages) {
		page = 0
	}
	return n, page, nil
}

// SubmitPassword validates a password attempt for the note under key.
func (a *App) SubmitPassword(key, attempt string) error {
	n, ok := a.cache.Get(key)
	if !ok {
		return errs.New(errs.NotFound, "Note not found")
	}
	return a.gate.SubmitPassword(n, a.Session().UID, attempt)
}

// CloseNote records the reading position and clears the open-note marker.
func (a *App) CloseNote(ctx context.Context, pageIndex int) {
	a.mu.Lock()
	key := a.openKey
	a.openKey = ""
	a.mu.Unlock()
	if key == "" {
		return
	}
	a.tracker.Record(ctx, a.Session().UID, key, pageIndex)
}

// RecordProgress stores the reading position without closing the note.
func (a *App) RecordProgress(ctx context.Context, noteID string, pageIndex int) {
	a.tracker.Record(ctx, a.Session().UID, noteID, pageIndex)
}

// Resume returns where the session last left off, if the remote store
// remembers.
func (a *App) Resume(ctx context.Context) (docstore.Progress, bool) {
	return a.tracker.Latest(ctx, a.Session().UID)
}

// CreateNote makes a new private note owned by the session and saves it.
func (a *App) CreateNote(ctx context.Context, title string) (notes.Note, error) {
	session := a.Session()
	if !session.SignedIn() {
		return notes.Note{}, errs.New(errs.Unauthorized, "Sign in to create notes")
	}
	n := notes.New(session.UID, session.Name())
	if title != "" {
		n.Title = title
	}
	return a.saveNote(ctx, session.UID, n)
}

// SaveNote persists edits to one of the session's own notes: remote write
// (which stamps the authoritative timestamp), cache upsert, public mirror
// convergence, local snapshot. In local-only mode the note keeps a local
// timestamp and the remote steps are skipped.
func (a *App) SaveNote(ctx context.Context, n notes.Note) (notes.Note, error) {
	session := a.Session()
	if !session.SignedIn() {
		return notes.Note{}, errs.New(errs.Unauthorized, "Sign in to save notes")
	}
	if n.AuthorID != "" && n.AuthorID != session.UID {
		return notes.Note{}, errs.New(errs.PermissionDenied, "You can only edit your own notes")
	}
	return a.saveNote(ctx, session.UID, n)
}

func (a *App) saveNote(ctx context.Context, sessionID string, n notes.Note) (notes.Note, error) {
	n.AuthorID = sessionID
	n.RecomputeTags()

	if a.isLocalOnly() {
		n.UpdatedAt = time.Now().UTC()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = n.UpdatedAt
		}
		a.cache.Upsert(n.ID, n)
		a.cache.PersistToLocal()
		return n, nil
	}

	stored, err := a.remote.SetNote(ctx, sessionID, n)
	if err != nil {
		return notes.Note{}, errs.Wrap(errs.CodeOf(err), "failed to save note", err)
	}
	a.cache.Upsert(stored.ID, stored)
	if err := a.mirror.Sync(ctx, stored); err != nil {
		a.log.Warn("public mirror not updated, will reconcile later", "note_id", stored.ID, "error", err)
	}
	a.cache.PersistToLocal()
	return stored, nil
}

// SetVisibility changes who can open the note and converges the public
// mirror. Password protection requires a password of at least
// notes.MinPasswordLength characters.
func (a *App) SetVisibility(ctx context.Context, noteID string, vis notes.Visibility) (notes.Note, error) {
	if err := vis.Validate(); err != nil {
		return notes.Note{}, err
	}
	n, ok := a.cache.Get(noteID)
	if !ok {
		return notes.Note{}, errs.New(errs.NotFound, "Note not found")
	}
	n.Visibility = vis
	return a.SaveNote(ctx, n)
}

// DeleteNote removes the note everywhere: remote document, public mirror,
// both cache namespaces, the cached password, reading positions, and the
// local snapshot.
func (a *App) DeleteNote(ctx context.Context, noteID string) error {
	session := a.Session()
	if !session.SignedIn() {
		return errs.New(errs.Unauthorized, "Sign in to delete notes")
	}
	id := notes.BareID(noteID)

	n, ok := a.cache.Get(id)
	if ok && n.AuthorID != session.UID {
		return errs.New(errs.PermissionDenied, "You can only delete your own notes")
	}

	if !a.isLocalOnly() {
		if err := a.remote.DeleteNote(ctx, session.UID, id); err != nil && !errs.IsNotFound(err) {
			return errs.Wrap(errs.CodeOf(err), "failed to delete note", err)
		}
		if err := a.mirror.Remove(ctx, id); err != nil {
			a.log.Warn("public copy not removed, will reconcile later", "note_id", id, "error", err)
		}
	}

	a.cache.Batch(func(tx *cache.Tx) {
		tx.Remove(id)
		tx.Remove(notes.PublicKey(id))
	})
	a.gate.Forget(id)
	a.tracker.ForgetNote(ctx, session.UID, id)
	a.tracker.ClearLocal(id)
	a.cache.PersistToLocal()

	a.mu.Lock()
	open := a.openKey
	fn := a.onNavigateHome
	if notes.BareID(open) == id {
		a.openKey = ""
	} else {
		fn = nil
	}
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}
