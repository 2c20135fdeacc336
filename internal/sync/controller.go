// Package sync keeps the note cache continuously reconciled with the remote
// document store. It owns the two live subscriptions (the session's own
// notes and the shared public window), the connectivity transitions, and the
// teardown discipline that stops a replaced session's responses from
// touching the cache.
package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/studybook/studybook/internal/cache"
	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
)

// State is the controller's connection state.
type State int

const (
	// StateDisconnected means no live subscriptions exist.
	StateDisconnected State = iota
	// StateSubscribing means subscriptions are being established.
	StateSubscribing
	// StateLive means both subscriptions are delivering snapshots.
	StateLive
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	default:
		return "disconnected"
	}
}

const defaultSettleDelay = time.Second

// Controller drives the subscriptions for one session at a time.
type Controller struct {
	mu      stdsync.Mutex
	state   State
	session string
	online  bool
	// epoch increments on every subscribe and teardown. Snapshot and error
	// handlers capture the epoch they were created under and drop their
	// payload if it no longer matches.
	epoch       int
	unsubOwn    docstore.Unsubscribe
	unsubPublic docstore.Unsubscribe
	settleTimer *time.Timer

	cache  *cache.Cache
	remote docstore.Store
	settle time.Duration

	onNoteRemoved func(noteID string)
	log           *slog.Logger
}

// New creates a disconnected controller.
func New(c *cache.Cache, remote docstore.Store) *Controller {
	return &Controller{
		cache:  c,
		remote: remote,
		online: true,
		settle: defaultSettleDelay,
		log:    obs.Pkg("sync"),
	}
}

// SetSettleDelay overrides the delay between regaining connectivity and
// resubscribing. Tests only.
func (c *Controller) SetSettleDelay(d time.Duration) {
	c.mu.Lock()
	c.settle = d
	c.mu.Unlock()
}

// SetOnNoteRemoved registers the callback fired when one of the session's
// own notes disappears from the remote store. The app uses it to navigate
// away from a note that was deleted elsewhere.
func (c *Controller) SetOnNoteRemoved(fn func(noteID string)) {
	c.mu.Lock()
	c.onNoteRemoved = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the session the controller is subscribed for.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe tears down any existing subscriptions and establishes fresh ones
// for the session. Snapshots arriving for a previous Subscribe call are
// discarded.
func (c *Controller) Subscribe(ctx context.Context, sessionID string) error {
	c.teardown()

	c.mu.Lock()
	c.session = sessionID
	c.state = StateSubscribing
	c.epoch++
	epoch := c.epoch
	cfg := c.cache.Config()
	c.mu.Unlock()

	c.log.Info("establishing subscriptions", "session_id", sessionID)

	unsubOwn, err := c.remote.SubscribeNotes(ctx, sessionID, cfg.OwnLimit,
		func(changes []docstore.Change) { c.applyOwn(epoch, sessionID, changes) },
		func(err error) { c.handleStreamError(epoch, sessionID, err) },
	)
	if err != nil {
		c.failSubscribe(epoch, sessionID, err)
		return err
	}

	unsubPublic, err := c.remote.SubscribePublicNotes(ctx, cfg.PublicLimit,
		func(changes []docstore.Change) { c.applyPublic(epoch, sessionID, changes) },
		func(err error) { c.handleStreamError(epoch, sessionID, err) },
	)
	if err != nil {
		unsubOwn()
		c.failSubscribe(epoch, sessionID, err)
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Torn down or replaced while we were subscribing.
		c.mu.Unlock()
		unsubOwn()
		unsubPublic()
		return nil
	}
	c.unsubOwn = unsubOwn
	c.unsubPublic = unsubPublic
	c.state = StateLive
	c.mu.Unlock()
	return nil
}

// Teardown cancels both subscriptions and any pending resubscribe. Calling
// it repeatedly, or before any Subscribe, is harmless.
func (c *Controller) Teardown() {
	c.teardown()
}

// SetOnline records a connectivity transition. Going offline tears the
// subscriptions down immediately; coming back online resubscribes after a
// short settle delay so a flapping network does not thrash the store.
func (c *Controller) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	session := c.session
	settle := c.settle
	c.mu.Unlock()

	if !online {
		c.log.Info("connection lost, suspending subscriptions")
		c.teardown()
		return
	}

	c.log.Info("connection restored, resubscribing", "settle", settle)
	c.mu.Lock()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(settle, func() {
		c.mu.Lock()
		stillOnline := c.online
		still := c.session == session
		c.mu.Unlock()
		if stillOnline && still && session != "" {
			if err := c.Subscribe(ctx, session); err != nil {
				c.log.Warn("resubscribe after reconnect failed", "error", err)
			}
		}
	})
	c.mu.Unlock()
}

func (c *Controller) teardown() {
	c.mu.Lock()
	c.epoch++
	unsubOwn, unsubPublic := c.unsubOwn, c.unsubPublic
	c.unsubOwn, c.unsubPublic = nil, nil
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if unsubOwn != nil {
		unsubOwn()
	}
	if unsubPublic != nil {
		unsubPublic()
	}
}

func (c *Controller) failSubscribe(epoch int, sessionID string, err error) {
	c.log.Warn("subscribe failed", "session_id", sessionID, "error", err)
	c.mu.Lock()
	if c.epoch == epoch {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

// applyOwn processes one snapshot of the session's own notes as a single
// cache batch, then persists the merged view locally.
func (c *Controller) applyOwn(epoch int, sessionID string, changes []docstore.Change) {
	if c.stale(epoch) {
		return
	}

	var removed []string
	c.cache.Batch(func(tx *cache.Tx) {
		for _, ch := range changes {
			switch ch.Kind {
			case docstore.ChangeRemoved:
				if tx.Remove(ch.Note.ID) {
					removed = append(removed, ch.Note.ID)
				}
			default:
				n := ch.Note
				n.AuthorID = sessionID
				tx.Upsert(n.ID, n)
			}
		}
	})
	c.cache.PersistToLocal()

	c.mu.Lock()
	fn := c.onNoteRemoved
	c.mu.Unlock()
	if fn != nil {
		for _, id := range removed {
			fn(id)
		}
	}
}

// applyPublic processes one snapshot of the shared window. Notes authored by
// the session itself are skipped so they only ever live under their raw id.
func (c *Controller) applyPublic(epoch int, sessionID string, changes []docstore.Change) {
	if c.stale(epoch) {
		return
	}

	c.cache.Batch(func(tx *cache.Tx) {
		for _, ch := range changes {
			if ch.Note.AuthorID == sessionID && ch.Kind != docstore.ChangeRemoved {
				continue
			}
			key := notes.PublicKey(ch.Note.ID)
			switch {
			case ch.Kind == docstore.ChangeRemoved:
				tx.Remove(key)
			case !ch.Note.Visibility.IsShared():
				// A mirror that lost its shared state is as good as deleted.
				tx.Remove(key)
			default:
				tx.Upsert(key, ch.Note)
			}
		}
	})
	c.cache.PersistToLocal()
}

func (c *Controller) handleStreamError(epoch int, sessionID string, err error) {
	if c.stale(epoch) {
		return
	}
	if errs.IsPermissionDenied(err) {
		c.log.Warn("subscription refused", "session_id", sessionID, "error", err)
		// Fall back to whatever is stored locally, but only when the cache
		// has nothing better to show.
		if c.cache.Len() == 0 {
			c.cache.HydrateFromLocal()
		}
		return
	}
	c.log.Warn("subscription error", "session_id", sessionID, "error", err)
}

func (c *Controller) stale(epoch int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch
}
