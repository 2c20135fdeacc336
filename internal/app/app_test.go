package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybook/studybook/internal/auth"
	"github.com/studybook/studybook/internal/config"
	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/errs"
	"github.com/studybook/studybook/internal/localstore"
	"github.com/studybook/studybook/internal/notes"
	syncctl "github.com/studybook/studybook/internal/sync"
)

func testConfig() *config.Config {
	return &config.Config{
		DataDir:      ".",
		DatabaseName: "test.db",
		ReadyTimeout: 50 * time.Millisecond,
		Freshness:    30 * time.Second,
		OwnLimit:     50,
		PublicLimit:  20,
		SettleDelay:  5 * time.Millisecond,
	}
}

// newTestApp builds an App over the shared remote store with its own local
// store and provider, started and signed in as uid when uid is non-empty.
func newTestApp(t *testing.T, remote *docstore.Memory, uid, name string) (*App, *auth.Local, *localstore.Memory) {
	t.Helper()
	local := localstore.NewMemory()
	provider := auth.NewLocal()
	a := New(Options{
		Config:   testConfig(),
		Local:    local,
		Remote:   remote,
		Provider: provider,
	})
	t.Cleanup(a.Close)
	a.Start(context.Background())
	if uid != "" {
		require.NoError(t, a.SignIn(auth.Session{UID: uid, DisplayName: name}))
	}
	return a, provider, local
}

func TestSignInEstablishesLiveSession(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")

	assert.Equal(t, "alice", a.Session().UID)
	assert.Equal(t, syncctl.StateLive, a.ConnectionState())
}

func TestCreateSaveAndListNotes(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := a.CreateNote(ctx, "Organic Chemistry")
	require.NoError(t, err)
	assert.Equal(t, "alice", n.AuthorID)
	assert.Equal(t, "Alice", n.Author)
	assert.False(t, n.UpdatedAt.IsZero(), "the store stamps the save")

	n.Pages[0].Content = "Alkanes and alkenes"
	saved, err := a.SaveNote(ctx, n)
	require.NoError(t, err)
	assert.True(t, saved.UpdatedAt.After(n.UpdatedAt) || saved.UpdatedAt.Equal(n.UpdatedAt))

	mine := a.MyNotes()
	require.Len(t, mine, 1)
	assert.Equal(t, "Organic Chemistry", mine[0].Title)
}

func TestCreateRequiresSession(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "", "")
	_, err := a.CreateNote(context.Background(), "No one's note")
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))
}

func TestSharingFlowAcrossClients(t *testing.T) {
	remote := docstore.NewMemory()
	alice, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := alice.CreateNote(ctx, "Shared wisdom")
	require.NoError(t, err)
	_, err = alice.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPublic})
	require.NoError(t, err)

	// A second client signs in and sees the note in its public window.
	bob, _, _ := newTestApp(t, remote, "bob", "Bob")
	shared := bob.PublicNotes()
	require.Len(t, shared, 1)
	assert.Equal(t, "Shared wisdom", shared[0].Title)

	// The author's own list never shows it as a foreign note.
	assert.Empty(t, alice.PublicNotes())
	require.Len(t, alice.MyNotes(), 1)
}

func TestPasswordProtectedFlow(t *testing.T) {
	remote := docstore.NewMemory()
	alice, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := alice.CreateNote(ctx, "Secret recipes")
	require.NoError(t, err)
	_, err = alice.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPassword, Password: "tiramisu"})
	require.NoError(t, err)

	// Too-short passwords are rejected before anything is saved.
	_, err = alice.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPassword, Password: "abc"})
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	// The author opens without a prompt.
	_, _, err = alice.OpenNote(ctx, n.ID)
	require.NoError(t, err)

	bob, _, _ := newTestApp(t, remote, "bob", "Bob")
	key := notes.PublicKey(n.ID)

	_, _, err = bob.OpenNote(ctx, key)
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))

	err = bob.SubmitPassword(key, "wrong")
	assert.Equal(t, errs.PermissionDenied, errs.CodeOf(err))
	_, _, err = bob.OpenNote(ctx, key)
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))

	require.NoError(t, bob.SubmitPassword(key, "tiramisu"))
	opened, page, err := bob.OpenNote(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Secret recipes", opened.Title)
	assert.Equal(t, 0, page)
}

func TestOpeningNotesCountsViews(t *testing.T) {
	remote := docstore.NewMemory()
	alice, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := alice.CreateNote(ctx, "Popular")
	require.NoError(t, err)
	_, err = alice.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPublic})
	require.NoError(t, err)

	// A foreign reader bumps the public copy.
	bob, _, _ := newTestApp(t, remote, "bob", "Bob")
	_, _, err = bob.OpenNote(ctx, notes.PublicKey(n.ID))
	require.NoError(t, err)

	mirrored, err := remote.GetPublicNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mirrored.Views)

	// The author bumps their own document, not the mirror.
	_, _, err = alice.OpenNote(ctx, n.ID)
	require.NoError(t, err)
	mirrored, err = remote.GetPublicNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mirrored.Views)
	own, err := remote.GetNote(ctx, "alice", n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), own.Views)
}

func TestDeleteClearsEverything(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, local := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := a.CreateNote(ctx, "Doomed")
	require.NoError(t, err)
	_, err = a.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPassword, Password: "secret"})
	require.NoError(t, err)
	a.RecordProgress(ctx, n.ID, 0)

	require.NoError(t, a.DeleteNote(ctx, n.ID))

	assert.Empty(t, a.MyNotes())
	_, err = remote.GetPublicNote(ctx, n.ID)
	assert.True(t, errs.IsNotFound(err))
	_, ok := local.Get(localstore.ProgressKey(n.ID))
	assert.False(t, ok)
	_, err = remote.GetProgress(ctx, docstore.NoteProgressID("alice", n.ID))
	assert.Error(t, err)
}

func TestDeleteNavigatesHomeWhenNoteOpen(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	var navigated bool
	a.SetOnNavigateHome(func() { navigated = true })

	n, err := a.CreateNote(ctx, "Open and doomed")
	require.NoError(t, err)
	_, _, err = a.OpenNote(ctx, n.ID)
	require.NoError(t, err)

	require.NoError(t, a.DeleteNote(ctx, n.ID))
	assert.True(t, navigated)
}

func TestLogoutTearsDownSession(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, local := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	_, err := a.CreateNote(ctx, "Mine")
	require.NoError(t, err)
	require.NotEmpty(t, a.MyNotes())
	require.NoError(t, local.Set("unrelated", "stays"))

	require.NoError(t, a.SignOut(ctx))

	assert.Empty(t, a.MyNotes())
	assert.Equal(t, syncctl.StateDisconnected, a.ConnectionState())
	_, ok := local.Get(localstore.NotesKey)
	assert.False(t, ok, "app-owned local keys are cleared")
	_, ok = local.Get("unrelated")
	assert.True(t, ok, "foreign keys survive logout")
}

func TestStartFallsBackToLocalWhenRemoteNotReady(t *testing.T) {
	remote := docstore.NewMemory()
	remote.SetOnline(false)

	local := localstore.NewMemory()
	saved := notes.New("alice", "Alice")
	saved.Title = "From last time"
	require.NoError(t, localstore.SaveNotes(local, []notes.Note{saved}))

	provider := auth.NewLocal()
	a := New(Options{Config: testConfig(), Local: local, Remote: remote, Provider: provider})
	t.Cleanup(a.Close)
	a.Start(context.Background())

	got, ok := a.cache.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "From last time", got.Title)

	// Signing in while local-only serves local data without touching the
	// remote store.
	require.NoError(t, a.SignIn(auth.Session{UID: "alice"}))
	assert.Equal(t, syncctl.StateDisconnected, a.ConnectionState())
	require.Len(t, a.MyNotes(), 1)
}

func TestPendingSharedNoteDeepLink(t *testing.T) {
	remote := docstore.NewMemory()
	alice, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := alice.CreateNote(ctx, "Linked")
	require.NoError(t, err)
	_, err = alice.SetVisibility(ctx, n.ID, notes.Visibility{Type: notes.VisibilityPublic})
	require.NoError(t, err)

	local := localstore.NewMemory()
	provider := auth.NewLocal()
	bob := New(Options{Config: testConfig(), Local: local, Remote: remote, Provider: provider})
	t.Cleanup(bob.Close)
	bob.SetPendingSharedNote(alice.ShareLink(n.ID))
	bob.Start(context.Background())
	require.NoError(t, bob.SignIn(auth.Session{UID: "bob", DisplayName: "Bob"}))

	opened, _, err := bob.OpenNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Linked", opened.Title)
}

func TestSearchFindsCachedNotes(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	_, err := a.CreateNote(ctx, "Linear Algebra")
	require.NoError(t, err)
	_, err = a.CreateNote(ctx, "Art History")
	require.NoError(t, err)

	got := a.Search("algebra")
	require.Len(t, got, 1)
	assert.Equal(t, "Linear Algebra", got[0].Title)
	assert.Empty(t, a.Search("biology"))
}

func TestSwipeHintShownOnce(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	assert.True(t, a.ShouldShowSwipeHint())
	assert.False(t, a.ShouldShowSwipeHint())
}

func TestOfflineOnlineResubscribes(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	a.SetOnline(ctx, false)
	assert.Equal(t, syncctl.StateDisconnected, a.ConnectionState())

	a.SetOnline(ctx, true)
	require.Eventually(t, func() bool {
		return a.ConnectionState() == syncctl.StateLive
	}, time.Second, 5*time.Millisecond)
}

func TestCloseNoteRecordsProgress(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	n, err := a.CreateNote(ctx, "Long read")
	require.NoError(t, err)
	n.AddPage("")
	n.AddPage("")
	saved, err := a.SaveNote(ctx, n)
	require.NoError(t, err)

	_, page, err := a.OpenNote(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, 0, page)
	a.CloseNote(ctx, 2)

	_, page, err = a.OpenNote(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	resume, ok := a.Resume(ctx)
	require.True(t, ok)
	assert.Equal(t, saved.ID, resume.NoteID)
	assert.Equal(t, 2, resume.PageIndex)
}

func TestStartWithEstablishedSession(t *testing.T) {
	remote := docstore.NewMemory()
	local := localstore.NewMemory()
	provider := auth.NewLocal()
	provider.SignIn(auth.Session{UID: "alice", DisplayName: "Alice"})

	a := New(Options{Config: testConfig(), Local: local, Remote: remote, Provider: provider})
	t.Cleanup(a.Close)

	// The provider delivers the current session synchronously during
	// registration, so Start must come back with the session already live.
	done := make(chan struct{})
	go func() {
		a.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned with a signed-in provider")
	}

	assert.Equal(t, "alice", a.Session().UID)
	assert.Equal(t, syncctl.StateLive, a.ConnectionState())
}

func TestStalePrivateMirrorStaysHidden(t *testing.T) {
	remote := docstore.NewMemory()
	ctx := context.Background()

	// A lost mirror delete leaves a private note's copy in the public
	// collection.
	stale := notes.New("alice", "Alice")
	stale.Title = "Taken private again"
	_, err := remote.SetPublicNote(ctx, stale)
	require.NoError(t, err)

	bob, _, _ := newTestApp(t, remote, "bob", "Bob")

	assert.Empty(t, bob.PublicNotes())
	assert.Empty(t, bob.Search("private"))

	_, _, err = bob.OpenNote(ctx, stale.ID)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	_, _, err = bob.OpenNote(ctx, notes.PublicKey(stale.ID))
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestRepeatedSignInKeepsFreshSession(t *testing.T) {
	remote := docstore.NewMemory()
	a, _, _ := newTestApp(t, remote, "alice", "Alice")
	ctx := context.Background()

	_, err := a.CreateNote(ctx, "Keep me cached")
	require.NoError(t, err)

	queries := remote.QueryCalls()
	subs := remote.SubscriberCount()

	// The provider re-announces the same session, as popup flows do.
	require.NoError(t, a.SignIn(auth.Session{UID: "alice", DisplayName: "Alice"}))

	assert.Equal(t, queries, remote.QueryCalls(), "a repeated announcement inside the freshness window must not refetch")
	assert.Equal(t, subs, remote.SubscriberCount(), "live subscriptions survive the repeated announcement")
	assert.Equal(t, syncctl.StateLive, a.ConnectionState())
}

// quiescentRemote records how many live subscriptions existed at the moment
// of each public-window fetch.
type quiescentRemote struct {
	*docstore.Memory
	subsAtFetch []int
}

func (r *quiescentRemote) QueryPublicNotes(ctx context.Context, limit int) ([]notes.Note, error) {
	r.subsAtFetch = append(r.subsAtFetch, r.SubscriberCount())
	return r.Memory.QueryPublicNotes(ctx, limit)
}

func TestSessionSwitchQuiescesBeforeRefetch(t *testing.T) {
	remote := &quiescentRemote{Memory: docstore.NewMemory()}
	local := localstore.NewMemory()
	provider := auth.NewLocal()
	a := New(Options{Config: testConfig(), Local: local, Remote: remote, Provider: provider})
	t.Cleanup(a.Close)
	a.Start(context.Background())

	require.NoError(t, a.SignIn(auth.Session{UID: "alice", DisplayName: "Alice"}))
	require.Equal(t, syncctl.StateLive, a.ConnectionState())

	// The provider switches users without an intervening sign-out. The old
	// session's subscriptions must be gone before the replacement fetch, or
	// a late snapshot would overwrite the newer query result.
	provider.SignIn(auth.Session{UID: "bob", DisplayName: "Bob"})

	require.NotEmpty(t, remote.subsAtFetch)
	for _, subs := range remote.subsAtFetch {
		assert.Zero(t, subs, "refetch ran with live subscriptions still attached")
	}
	assert.Equal(t, syncctl.StateLive, a.ConnectionState())
}

func TestLocalOnlySaveStampsUTC(t *testing.T) {
	remote := docstore.NewMemory()
	remote.SetOnline(false)

	local := localstore.NewMemory()
	provider := auth.NewLocal()
	a := New(Options{Config: testConfig(), Local: local, Remote: remote, Provider: provider})
	t.Cleanup(a.Close)
	a.Start(context.Background())
	require.NoError(t, a.SignIn(auth.Session{UID: "alice", DisplayName: "Alice"}))

	n, err := a.CreateNote(context.Background(), "Offline notebook")
	require.NoError(t, err)
	require.False(t, n.UpdatedAt.IsZero())
	assert.Equal(t, time.UTC, n.UpdatedAt.Location(), "local-only saves stamp UTC like the server does")
}
