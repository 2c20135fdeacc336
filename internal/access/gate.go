// Package access decides whether the current session may open a note. The
// only restriction the client enforces is the per-note share password;
// everything else is the remote store's concern.
package access

import (
	"log/slog"
	"sync"

	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
	"github.com/studybook/studybook/internal/ratelimit"
)

// Gate remembers which share passwords the session has already entered so a
// protected note only prompts once per session.
type Gate struct {
	mu sync.Mutex
	// accepted maps bare note id to the password that unlocked it.
	accepted map[string]string

	limiter *ratelimit.Limiter
	log     *slog.Logger
}

// New creates a gate backed by the shared rate limiter.
func New(limiter *ratelimit.Limiter) *Gate {
	return &Gate{
		accepted: make(map[string]string),
		limiter:  limiter,
		log:      obs.Pkg("access"),
	}
}

// CheckAccess reports whether the session may open the note without being
// prompted. Owners always pass. A previously accepted password only counts
// while it still matches the note's current password; when the author has
// since changed it, the stale entry is dropped and the prompt comes back.
func (g *Gate) CheckAccess(n notes.Note, sessionID string) bool {
	if !n.Visibility.Protected() {
		return true
	}
	if n.AuthorID != "" && n.AuthorID == sessionID {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cached, ok := g.accepted[notes.BareID(n.ID)]
	if !ok {
		return false
	}
	if cached != n.Visibility.Password {
		delete(g.accepted, notes.BareID(n.ID))
		g.log.Info("cached password no longer valid", "note_id", n.ID)
		return false
	}
	return true
}

// SubmitPassword validates one password attempt. Accepted attempts are
// cached so CheckAccess grants from then on. Attempts count against the
// session's password rate limit whether they succeed or not.
func (g *Gate) SubmitPassword(n notes.Note, sessionID, attempt string) error {
	if !n.Visibility.Protected() {
		return nil
	}
	if !g.limiter.Allow(ratelimit.ActionPassword, sessionID) {
		g.log.Warn("password attempts rate limited", "session_id", sessionID, "note_id", n.ID)
		return errs.New(errs.TooManyAttempts, "Too many password attempts. Please wait a minute.")
	}
	if attempt == "" {
		return errs.New(errs.InvalidArgument, "Password is required")
	}
	if attempt != n.Visibility.Password {
		return errs.New(errs.PermissionDenied, "Incorrect password")
	}

	g.mu.Lock()
	g.accepted[notes.BareID(n.ID)] = attempt
	g.mu.Unlock()
	return nil
}

// Forget drops the cached password for one note. Called when the note is
// deleted.
func (g *Gate) Forget(noteID string) {
	g.mu.Lock()
	delete(g.accepted, notes.BareID(noteID))
	g.mu.Unlock()
}

// Reset drops every cached password. Called on logout.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.accepted = make(map[string]string)
	g.mu.Unlock()
}

// Remembered returns how many notes currently have a cached password.
func (g *Gate) Remembered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.accepted)
}
