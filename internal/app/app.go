// Package app wires the client together: one App owns the cache, the sync
// controller, the access gate, the public mirror, the search index and the
// progress tracker, and exposes the operations the UI calls. All
// cross-component choreography (what happens on sign-in, on save, on delete,
// on connectivity change) lives here so the components themselves stay
// single-purpose.
package app

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/studybook/studybook/internal/access"
	"github.com/studybook/studybook/internal/auth"
	"github.com/studybook/studybook/internal/cache"
	"github.com/studybook/studybook/internal/config"
	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/localstore"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
	"github.com/studybook/studybook/internal/progress"
	"github.com/studybook/studybook/internal/publish"
	"github.com/studybook/studybook/internal/ratelimit"
	"github.com/studybook/studybook/internal/search"
	"github.com/studybook/studybook/internal/sharelink"
	syncctl "github.com/studybook/studybook/internal/sync"
)

// Options carries the App's collaborators. Local and Remote are required;
// Provider defaults to a local in-process provider.
type Options struct {
	Config   *config.Config
	Local    localstore.Store
	Remote   docstore.Store
	Provider auth.Provider
}

// App is the session context object. One instance lives for the process.
type App struct {
	cfg      *config.Config
	local    localstore.Store
	remote   docstore.Store
	provider auth.Provider

	cache      *cache.Cache
	controller *syncctl.Controller
	gate       *access.Gate
	limiter    *ratelimit.Limiter
	mirror     *publish.Mirror
	index      *search.Index
	tracker    *progress.Tracker

	mu            stdsync.Mutex
	openKey       string
	pendingShared string
	localOnly     bool
	lastSession   string

	onRefresh      func()
	onNavigateHome func()
	cancelAuth     func()
	log            *slog.Logger
}

// New builds the App and wires the change notification: every cache change
// rebuilds the search index and invokes the UI refresh callback.
func New(opts Options) *App {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{
			DataDir:      ".",
			DatabaseName: "studybook.db",
			ReadyTimeout: 5 * time.Second,
			Freshness:    30 * time.Second,
			OwnLimit:     50,
			PublicLimit:  20,
			SettleDelay:  time.Second,
		}
	}
	provider := opts.Provider
	if provider == nil {
		provider = auth.NewLocal()
	}

	limitCfg := cfg.RateLimitConfig
	if limitCfg.Default.MaxAttempts == 0 {
		limitCfg = ratelimit.DefaultConfig
	}

	a := &App{
		cfg:      cfg,
		local:    opts.Local,
		remote:   opts.Remote,
		provider: provider,
		limiter:  ratelimit.New(limitCfg),
		index:    search.NewIndex(),
		log:      obs.Pkg("app"),
	}
	a.cache = cache.New(opts.Local, opts.Remote, cache.Config{
		Freshness:   cfg.Freshness,
		OwnLimit:    cfg.OwnLimit,
		PublicLimit: cfg.PublicLimit,
	})
	a.controller = syncctl.New(a.cache, opts.Remote)
	if cfg.SettleDelay > 0 {
		a.controller.SetSettleDelay(cfg.SettleDelay)
	}
	a.gate = access.New(a.limiter)
	a.mirror = publish.New(opts.Remote)
	a.tracker = progress.New(opts.Local, opts.Remote)

	a.cache.SetOnChanged(a.handleCacheChanged)
	a.controller.SetOnNoteRemoved(a.handleNoteRemoved)
	return a
}

// SetOnRefresh registers the UI refresh callback, fired after every cache
// change.
func (a *App) SetOnRefresh(fn func()) {
	a.mu.Lock()
	a.onRefresh = fn
	a.mu.Unlock()
}

// SetOnNavigateHome registers the callback fired when the currently open
// note disappears (deleted remotely or locally).
func (a *App) SetOnNavigateHome(fn func()) {
	a.mu.Lock()
	a.onNavigateHome = fn
	a.mu.Unlock()
}

// Start brings the App up: wait for the remote store within the configured
// bound, then follow the identity provider. If the remote never becomes
// ready, the client runs local-only from the persisted snapshot.
func (a *App) Start(ctx context.Context) {
	if a.cfg.LocalOnly {
		a.log.Info("starting in local-only mode")
		a.setLocalOnly(true)
		a.cache.HydrateFromLocal()
	} else {
		readyCtx, cancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
		err := a.remote.Ready(readyCtx)
		cancel()
		if err != nil {
			a.log.Warn("remote store not ready, continuing with local data", "error", err)
			a.setLocalOnly(true)
			a.cache.HydrateFromLocal()
		}
	}

	// OnChange delivers the current state synchronously, and the handler
	// takes a.mu itself, so the registration must happen outside the lock.
	cancel := a.provider.OnChange(func(s auth.Session) {
		a.handleSessionChange(ctx, s)
	})
	a.mu.Lock()
	a.cancelAuth = cancel
	a.mu.Unlock()
}

// Close releases everything the App started. Safe to call once at shutdown.
func (a *App) Close() {
	a.mu.Lock()
	cancel := a.cancelAuth
	a.cancelAuth = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.controller.Teardown()
	a.limiter.Stop()
}

// Session returns the current identity.
func (a *App) Session() auth.Session {
	return a.provider.Current()
}

// ConnectionState reports the sync controller's state.
func (a *App) ConnectionState() syncctl.State {
	return a.controller.State()
}

// SignIn asks the provider to establish the session. Attempts are rate
// limited per device so a popup loop cannot hammer the identity provider.
func (a *App) SignIn(s auth.Session) error {
	if !a.limiter.Allow(ratelimit.ActionAuth, deviceKey) {
		return errs.New(errs.TooManyAttempts, "Too many sign-in attempts. Please wait a minute.")
	}
	if s.UID == "" {
		return errs.New(errs.InvalidArgument, "sign-in requires a user id")
	}
	local, ok := a.provider.(*auth.Local)
	if !ok {
		return errs.New(errs.Internal, "external providers establish sessions on their own")
	}
	local.SignIn(s)
	return nil
}

// SignOut ends the session. The auth change handler does the teardown.
func (a *App) SignOut(ctx context.Context) error {
	return a.provider.SignOut(ctx)
}

// deviceKey buckets anonymous rate-limited actions.
const deviceKey = "device"

// SetOnline feeds connectivity transitions to the sync controller.
func (a *App) SetOnline(ctx context.Context, online bool) {
	a.controller.SetOnline(ctx, online)
}

// SetPendingSharedNote records a shared-note deep link to resolve once the
// App has data. It accepts a bare note id or a full share link. Resolving
// happens on the next session change, or lazily via OpenNote.
func (a *App) SetPendingSharedNote(link string) {
	id := notes.BareID(link)
	if parsed, ok := sharelink.NoteID(link); ok {
		id = parsed
	}
	a.mu.Lock()
	a.pendingShared = id
	a.mu.Unlock()
}

// ShareLink returns the URL a shared note is reachable by.
func (a *App) ShareLink(noteID string) string {
	return sharelink.Build(a.cfg.BaseURL, noteID)
}

// ShouldShowSwipeHint reports whether the one-time swipe gesture hint is
// still due, and marks it shown.
func (a *App) ShouldShowSwipeHint() bool {
	if _, ok := a.local.Get(localstore.SwipeHintKey); ok {
		return false
	}
	if err := a.local.Set(localstore.SwipeHintKey, "1"); err != nil {
		a.log.Warn("failed to persist swipe hint flag", "error", err)
	}
	return true
}

func (a *App) setLocalOnly(v bool) {
	a.mu.Lock()
	a.localOnly = v
	a.mu.Unlock()
}

func (a *App) isLocalOnly() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localOnly
}

// handleSessionChange runs on every sign-in and sign-out.
func (a *App) handleSessionChange(ctx context.Context, s auth.Session) {
	a.mu.Lock()
	previous := a.lastSession
	a.lastSession = s.UID
	a.mu.Unlock()

	if s.SignedIn() {
		a.log.Info("session established", "session_id", s.UID)
		a.cache.BindSession(s.UID)
		if a.isLocalOnly() {
			a.cache.HydrateFromLocal()
			return
		}
		// Old subscriptions must be gone before the mapping is rebuilt, or a
		// snapshot landing mid-fetch would be overwritten by the older query
		// result. A fresh cache skips the refetch and keeps its live
		// subscriptions instead.
		if !a.cache.Fresh() {
			a.controller.Teardown()
		}
		if a.cache.Refresh(ctx, s.UID) {
			if err := a.controller.Subscribe(ctx, s.UID); err != nil {
				a.log.Warn("live subscriptions unavailable", "error", err)
			}
			a.mirror.Reconcile(ctx, s.UID, a.cfg.OwnLimit)
		}
		a.resolvePendingShared(ctx)
		return
	}

	// The provider reports the signed-out state once at startup too; only a
	// real sign-out transition clears the user's data.
	if previous == "" {
		return
	}
	a.log.Info("session ended", "session_id", previous)
	a.controller.Teardown()
	a.cache.BindSession("")
	a.cache.Clear()
	a.gate.Reset()
	localstore.ClearAppKeys(a.local)
}

// handleCacheChanged is the single changed notification: rebuild the search
// index, then let the UI redraw.
func (a *App) handleCacheChanged() {
	a.index.Rebuild(a.cache.Entries())
	a.mu.Lock()
	fn := a.onRefresh
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *App) handleNoteRemoved(noteID string) {
	a.mu.Lock()
	open := a.openKey
	fn := a.onNavigateHome
	if notes.BareID(open) == notes.BareID(noteID) {
		a.openKey = ""
	} else {
		fn = nil
	}
	a.mu.Unlock()
	if fn != nil {
		a.log.Info("open note removed remotely, navigating home", "note_id", noteID)
		fn()
	}
}

func (a *App) resolvePendingShared(ctx context.Context) {
	a.mu.Lock()
	id := a.pendingShared
	a.pendingShared = ""
	a.mu.Unlock()
	if id == "" {
		return
	}
	if _, ok := a.cache.Get(id); ok {
		return
	}
	n, err := a.remote.GetPublicNote(ctx, id)
	if err != nil {
		a.log.Warn("shared note link could not be resolved", "note_id", id, "error", err)
		return
	}
	// A leftover mirror of a note made private again is not shareable.
	if !n.Visibility.IsShared() {
		a.log.Warn("shared note link points at a note that is no longer shared", "note_id", id)
		return
	}
	if n.AuthorID == a.Session().UID {
		a.cache.Upsert(n.ID, n)
		return
	}
	a.cache.Upsert(notes.PublicKey(n.ID), n)
}
