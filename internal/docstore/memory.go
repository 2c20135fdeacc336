package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/notes"
)

// Memory is an in-memory Store with working subscription fan-out. It backs
// tests and the offline/demo wiring; the subscription windows behave like the
// real backend's: bounded by order/limit, with documents falling out of the
// window reported as removed.
type Memory struct {
	mu       sync.Mutex
	users    map[string]map[string]notes.Note
	public   map[string]notes.Note
	progress map[string]Progress
	subs     map[*subscription]struct{}

	online   bool
	onlineCh chan struct{}

	forcedErr  error
	queryCalls int

	now func() time.Time
}

// NewMemory creates an online in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]map[string]notes.Note),
		public:   make(map[string]notes.Note),
		progress: make(map[string]Progress),
		subs:     make(map[*subscription]struct{}),
		online:   true,
		onlineCh: make(chan struct{}),
		now:      time.Now,
	}
}

type subScope struct {
	public  bool
	ownerID string
}

type subscription struct {
	store      *Memory
	scope      subScope
	limit      int
	onSnapshot SnapshotHandler
	onError    ErrorHandler

	// deliverMu serializes snapshot delivery so records within the stream
	// keep server order.
	deliverMu sync.Mutex
	window    map[string]notes.Note
	cancelled atomic.Bool
}

type delivery struct {
	sub     *subscription
	changes []Change
}

// SetNow overrides the server clock. Tests only.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetOnline flips connectivity. While offline every operation fails with an
// unavailable error and Ready blocks.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	if online {
		close(m.onlineCh)
		m.onlineCh = make(chan struct{})
	} else {
		// Channel stays open; Ready waits on the next close.
	}
}

// SetError forces every subsequent operation to fail with err until cleared
// with SetError(nil). Tests only.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedErr = err
}

// QueryCalls returns how many one-time queries have executed. Tests only.
func (m *Memory) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

// EmitSubscriptionError delivers err to every live subscription's error
// handler. Tests only.
func (m *Memory) EmitSubscriptionError(err error) {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// SubscriberCount returns the number of live subscriptions. Tests only.
func (m *Memory) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) checkLocked() error {
	if m.forcedErr != nil {
		return m.forcedErr
	}
	if !m.online {
		return errs.New(errs.Unavailable, "document store offline")
	}
	return nil
}

// Ready blocks until the store is online or ctx expires.
func (m *Memory) Ready(ctx context.Context) error {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return nil
	}
	ch := m.onlineCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.Unavailable, "document store not ready", ctx.Err())
	}
}

func (m *Memory) GetNote(ctx context.Context, ownerID, noteID string) (notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return notes.Note{}, err
	}
	n, ok := m.users[ownerID][noteID]
	if !ok {
		return notes.Note{}, errs.New(errs.NotFound, "note not found")
	}
	return n.Clone(), nil
}

// SetNote stores the note in the owner's collection, stamping server time on
// UpdatedAt (and CreatedAt when unset), and returns the stored state.
func (m *Memory) SetNote(ctx context.Context, ownerID string, note notes.Note) (notes.Note, error) {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return notes.Note{}, err
	}

	stored := note.Clone()
	stored.AuthorID = ownerID
	stored.UpdatedAt = m.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	if m.users[ownerID] == nil {
		m.users[ownerID] = make(map[string]notes.Note)
	}
	m.users[ownerID][stored.ID] = stored

	deliveries := m.pendingLocked(subScope{ownerID: ownerID})
	m.mu.Unlock()

	dispatch(deliveries)
	return stored.Clone(), nil
}

func (m *Memory) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.users[ownerID], noteID)
	deliveries := m.pendingLocked(subScope{ownerID: ownerID})
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) QueryNotes(ctx context.Context, ownerID string, limit int) ([]notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	return windowOf(m.users[ownerID], limit), nil
}

func (m *Memory) SubscribeNotes(ctx context.Context, ownerID string, limit int, onSnapshot SnapshotHandler, onError ErrorHandler) (Unsubscribe, error) {
	return m.subscribe(subScope{ownerID: ownerID}, limit, onSnapshot, onError)
}

func (m *Memory) IncrementViews(ctx context.Context, ownerID, noteID string) error {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	n, ok := m.users[ownerID][noteID]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.NotFound, "note not found")
	}
	n.Views++
	m.users[ownerID][noteID] = n
	deliveries := m.pendingLocked(subScope{ownerID: ownerID})
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) GetPublicNote(ctx context.Context, noteID string) (notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return notes.Note{}, err
	}
	n, ok := m.public[noteID]
	if !ok {
		return notes.Note{}, errs.New(errs.NotFound, "public note not found")
	}
	return n.Clone(), nil
}

// SetPublicNote stores the mirror document as-is. The mirror carries the
// note's own timestamps, which is what makes repeated mirroring of unchanged
// state idempotent.
func (m *Memory) SetPublicNote(ctx context.Context, note notes.Note) (notes.Note, error) {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return notes.Note{}, err
	}
	stored := note.Clone()
	m.public[stored.ID] = stored
	deliveries := m.pendingLocked(subScope{public: true})
	m.mu.Unlock()

	dispatch(deliveries)
	return stored.Clone(), nil
}

func (m *Memory) DeletePublicNote(ctx context.Context, noteID string) error {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.public, noteID)
	deliveries := m.pendingLocked(subScope{public: true})
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) QueryPublicNotes(ctx context.Context, limit int) ([]notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	return windowOf(m.public, limit), nil
}

func (m *Memory) SubscribePublicNotes(ctx context.Context, limit int, onSnapshot SnapshotHandler, onError ErrorHandler) (Unsubscribe, error) {
	return m.subscribe(subScope{public: true}, limit, onSnapshot, onError)
}

func (m *Memory) IncrementPublicViews(ctx context.Context, noteID string) error {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	n, ok := m.public[noteID]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.NotFound, "public note not found")
	}
	n.Views++
	m.public[noteID] = n
	deliveries := m.pendingLocked(subScope{public: true})
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) SetProgress(ctx context.Context, docID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	m.progress[docID] = p
	return nil
}

func (m *Memory) GetProgress(ctx context.Context, docID string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return Progress{}, err
	}
	p, ok := m.progress[docID]
	if !ok {
		return Progress{}, errs.New(errs.NotFound, "progress not found")
	}
	return p, nil
}

func (m *Memory) DeleteProgress(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	delete(m.progress, docID)
	return nil
}

func (m *Memory) subscribe(scope subScope, limit int, onSnapshot SnapshotHandler, onError ErrorHandler) (Unsubscribe, error) {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	sub := &subscription{
		store:      m,
		scope:      scope,
		limit:      limit,
		onSnapshot: onSnapshot,
		onError:    onError,
		window:     make(map[string]notes.Note),
	}
	m.subs[sub] = struct{}{}

	// Initial snapshot: the current window arrives as added records.
	initial := m.diffLocked(sub)
	m.mu.Unlock()

	if len(initial) > 0 {
		sub.deliver(initial)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancelled.Store(true)
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
		})
	}, nil
}

// pendingLocked computes, for every subscription watching scope, the change
// records produced by the mutation that just happened. Called with m.mu held;
// the deliveries are dispatched after unlock.
func (m *Memory) pendingLocked(scope subScope) []delivery {
	var out []delivery
	for sub := range m.subs {
		if sub.scope != scope {
			continue
		}
		if changes := m.diffLocked(sub); len(changes) > 0 {
			out = append(out, delivery{sub: sub, changes: changes})
		}
	}
	return out
}

// diffLocked advances the subscription's window to the collection's current
// top-limit view and returns the change records describing the transition.
func (m *Memory) diffLocked(sub *subscription) []Change {
	var coll map[string]notes.Note
	if sub.scope.public {
		coll = m.public
	} else {
		coll = m.users[sub.scope.ownerID]
	}

	next := windowOf(coll, sub.limit)
	nextByID := make(map[string]notes.Note, len(next))

	var changes []Change
	for _, n := range next {
		nextByID[n.ID] = n
		prev, ok := sub.window[n.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeAdded, Note: n.Clone()})
		case !noteEqual(prev, n):
			changes = append(changes, Change{Kind: ChangeModified, Note: n.Clone()})
		}
	}
	for id, prev := range sub.window {
		if _, ok := nextByID[id]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Note: prev.Clone()})
		}
	}

	sub.window = nextByID
	return changes
}

func (s *subscription) deliver(changes []Change) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() || s.onSnapshot == nil {
		return
	}
	s.onSnapshot(changes)
}

func dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		d.sub.deliver(d.changes)
	}
}

// windowOf returns the collection ordered by UpdatedAt descending, capped at
// limit (limit <= 0 means uncapped).
func windowOf(coll map[string]notes.Note, limit int) []notes.Note {
	out := make([]notes.Note, 0, len(coll))
	for _, n := range coll {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func noteEqual(a, b notes.Note) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
