// Package cache holds the in-memory authoritative view of every note visible
// to the current session. It owns identity resolution (own notes under their
// raw id, foreign notes under a public-prefixed id), the merge between the
// local store and the remote document store, and the freshness bookkeeping
// that decides when a remote refetch is worth doing.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/localstore"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
)

// Config tunes the cache. Zero values pick the defaults the client has
// always used.
type Config struct {
	// Freshness is the window after a successful remote fetch during which
	// Refresh skips the refetch.
	Freshness time.Duration
	// OwnLimit caps the one-time fetch and subscription window for the
	// session's own notes.
	OwnLimit int
	// PublicLimit caps the fetch/subscription window for public notes.
	PublicLimit int
}

const (
	defaultFreshness   = 30 * time.Second
	defaultOwnLimit    = 50
	defaultPublicLimit = 20
)

func (c *Config) applyDefaults() {
	if c.Freshness <= 0 {
		c.Freshness = defaultFreshness
	}
	if c.OwnLimit <= 0 {
		c.OwnLimit = defaultOwnLimit
	}
	if c.PublicLimit <= 0 {
		c.PublicLimit = defaultPublicLimit
	}
}

// Cache is the single shared mutable mapping from cache key to note. Every
// mutation replaces an entry's value wholesale, so a reader never observes a
// partially applied update.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]notes.Note
	session   string
	lastFetch time.Time

	local  localstore.Store
	remote docstore.Store
	config Config

	onChanged func()
	now       func() time.Time
	log       *slog.Logger
}

// New creates a cache over the two stores.
func New(local localstore.Store, remote docstore.Store, config Config) *Cache {
	config.applyDefaults()
	return &Cache{
		entries: make(map[string]notes.Note),
		local:   local,
		remote:  remote,
		config:  config,
		now:     time.Now,
		log:     obs.Pkg("cache"),
	}
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.config
}

// SetOnChanged registers the single "changed" notification. It fires after
// any mutation batch and covers both search-index invalidation and the UI
// refresh signal.
func (c *Cache) SetOnChanged(fn func()) {
	c.mu.Lock()
	c.onChanged = fn
	c.mu.Unlock()
}

// SetNow overrides the clock. Tests only.
func (c *Cache) SetNow(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// BindSession records the session identity the cache serves. In-flight
// refreshes for any other identity discard their results on completion.
// Rebinding the same identity keeps the freshness window, so a repeated
// auth notification does not force a refetch.
func (c *Cache) BindSession(sessionID string) {
	c.mu.Lock()
	if c.session != sessionID {
		c.session = sessionID
		c.lastFetch = time.Time{}
	}
	c.mu.Unlock()
}

// Get resolves a note by raw id first, then by its public-prefixed id.
func (c *Cache) Get(key string) (notes.Note, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		return n.Clone(), true
	}
	other := notes.PublicKey(key)
	if notes.IsPublicKey(key) {
		other = notes.BareID(key)
	}
	if n, ok := c.entries[other]; ok {
		return n.Clone(), true
	}
	return notes.Note{}, false
}

// Len returns the number of cached notes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// All returns every cached note.
func (c *Cache) All() []notes.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notes.Note, 0, len(c.entries))
	for _, n := range c.entries {
		out = append(out, n.Clone())
	}
	return out
}

// Entries returns the mapping keyed exactly as cached, raw ids and
// public-prefixed ids alike. The search index rebuilds from this.
func (c *Cache) Entries() map[string]notes.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]notes.Note, len(c.entries))
	for key, n := range c.entries {
		out[key] = n.Clone()
	}
	return out
}

// OwnedBy returns the session's own notes, newest first.
func (c *Cache) OwnedBy(sessionID string) []notes.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notes.Note
	for key, n := range c.entries {
		if n.AuthorID == sessionID && !notes.IsPublicKey(key) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Shared returns the foreign shared notes, most viewed first.
func (c *Cache) Shared() []notes.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notes.Note
	for key, n := range c.entries {
		if notes.IsPublicKey(key) && n.Visibility.IsShared() {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Views > out[j].Views
	})
	return out
}

// HydrateFromLocal loads the full local snapshot into the mapping. It never
// fails: corrupt entries are skipped by the store layer and whatever loaded
// stays.
func (c *Cache) HydrateFromLocal() {
	loaded := localstore.LoadNotes(c.local)

	c.mu.Lock()
	for _, n := range loaded {
		c.upsertLocked(n.ID, n)
	}
	fn := c.onChanged
	c.mu.Unlock()

	notify(fn)
}

// Fresh reports whether the last fetch is still inside the freshness window
// and the mapping is non-empty. Refresh skips the refetch in exactly this
// case, so callers can decide up front whether live subscriptions need to be
// rebuilt.
func (c *Cache) Fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked()
}

func (c *Cache) freshLocked() bool {
	return !c.lastFetch.IsZero() && c.now().Sub(c.lastFetch) < c.config.Freshness && len(c.entries) > 0
}

// Refresh performs refreshFromRemote for the given session. It reports
// whether a remote fetch actually ran; within the freshness window with a
// non-empty cache it skips the fetch and just re-fires the changed signal.
// Failures fall back silently to the local snapshot.
//
// Establishing the live subscriptions after a successful fetch is the sync
// controller's job; the caller re-subscribes when this returns true.
func (c *Cache) Refresh(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	if c.freshLocked() {
		fn := c.onChanged
		c.mu.Unlock()
		notify(fn)
		return false
	}
	ownLimit, publicLimit := c.config.OwnLimit, c.config.PublicLimit
	c.mu.Unlock()

	own, ownErr := c.remote.QueryNotes(ctx, sessionID, ownLimit)
	public, publicErr := c.remote.QueryPublicNotes(ctx, publicLimit)

	if ownErr != nil || publicErr != nil {
		err := ownErr
		if err == nil {
			err = publicErr
		}
		if errs.IsPermissionDenied(err) {
			c.log.Info("remote refused refresh, loading local data", "session_id", sessionID)
		} else {
			c.log.Warn("remote refresh failed, loading local data", "error", err)
		}
		c.HydrateFromLocal()
		return false
	}

	c.mu.Lock()
	// Stale-response guard: the session may have changed while the fetch
	// was in flight. Discard rather than poison the new session's view.
	if c.session != sessionID {
		c.mu.Unlock()
		c.log.Debug("discarding stale refresh result", "session_id", sessionID)
		return false
	}

	c.entries = make(map[string]notes.Note)
	for _, n := range own {
		n.AuthorID = sessionID
		c.entries[n.ID] = n
	}
	for _, n := range public {
		// Own notes are never duplicated into the public namespace, and a
		// leftover mirror of a re-privatized note never enters the mapping.
		if n.AuthorID == sessionID || !n.Visibility.IsShared() {
			continue
		}
		c.entries[notes.PublicKey(n.ID)] = n
	}
	c.lastFetch = c.now()
	fn := c.onChanged
	c.mu.Unlock()

	notify(fn)
	return true
}

// PersistToLocal serializes every cached note back to the local store.
// Failures are logged, never returned: the in-memory state stays
// authoritative and the UI keeps working in non-persisted mode.
func (c *Cache) PersistToLocal() {
	if err := localstore.SaveNotes(c.local, c.All()); err != nil {
		c.log.Warn("failed to persist notes locally", "error", err)
	}
}

// Upsert stores the note under key, guarded by last-write-wins on UpdatedAt,
// and fires the changed notification when the write applies. It reports
// whether the write applied.
func (c *Cache) Upsert(key string, n notes.Note) bool {
	c.mu.Lock()
	applied := c.upsertLocked(key, n)
	fn := c.onChanged
	c.mu.Unlock()

	if applied {
		notify(fn)
	}
	return applied
}

// Remove deletes the entry under key (raw or public-prefixed, as given) and
// fires the changed notification when something was removed.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	fn := c.onChanged
	c.mu.Unlock()

	if ok {
		notify(fn)
	}
	return ok
}

// Batch applies several mutations as one unit with a single changed
// notification at the end, whether or not any write applied. The sync
// controller uses it to process a whole snapshot without redundant index
// rebuilds.
func (c *Cache) Batch(fn func(tx *Tx)) {
	c.mu.Lock()
	tx := &Tx{cache: c}
	fn(tx)
	changed := c.onChanged
	c.mu.Unlock()

	notify(changed)
}

// Clear empties the mapping and forgets freshness. Used on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]notes.Note)
	c.lastFetch = time.Time{}
	fn := c.onChanged
	c.mu.Unlock()

	notify(fn)
}

// Tx exposes quiet mutations inside a Batch.
type Tx struct {
	cache *Cache
}

// Upsert is Cache.Upsert without the per-call notification.
func (t *Tx) Upsert(key string, n notes.Note) bool {
	return t.cache.upsertLocked(key, n)
}

// Remove is Cache.Remove without the per-call notification.
func (t *Tx) Remove(key string) bool {
	if _, ok := t.cache.entries[key]; ok {
		delete(t.cache.entries, key)
		return true
	}
	return false
}

// upsertLocked applies a single LWW-guarded write. The same underlying note
// never lives under both namespaces: if the other namespace already holds
// this id, that entry is the one updated.
func (c *Cache) upsertLocked(key string, n notes.Note) bool {
	canonical := key
	if existing, ok := c.entries[key]; ok {
		if !notes.Supersedes(n, existing) {
			return false
		}
	} else {
		other := notes.PublicKey(notes.BareID(key))
		if other == key {
			other = notes.BareID(key)
		}
		if existing, ok := c.entries[other]; ok && existing.ID == n.ID {
			if !notes.Supersedes(n, existing) {
				return false
			}
			canonical = other
		}
	}
	c.entries[canonical] = n.Clone()
	return true
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
