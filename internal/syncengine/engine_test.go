package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafiiit/hivecad-sync/internal/document"
	"github.com/dafiiit/hivecad-sync/internal/identity"
	"github.com/dafiiit/hivecad-sync/internal/localstore"
	"github.com/dafiiit/hivecad-sync/internal/remote"
	"github.com/dafiiit/hivecad-sync/internal/remote/memory"
)

// fakeIndex records index writes for assertion.
type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]*document.Meta
	deletes []string
	fail    error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]*document.Meta)}
}

func (f *fakeIndex) Upsert(_ context.Context, meta *document.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	cp := *meta
	f.docs[meta.ID] = &cp
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	delete(f.docs, id)
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

// faultRemote wraps a real backend and injects failures per operation.
type faultRemote struct {
	remote.Store
	mu          sync.Mutex
	failPush    map[string]error
	failDelete  error
	failMetas   error
	failConnect error
	pullGate    chan struct{}
}

func (f *faultRemote) Connect(ctx context.Context) error {
	f.mu.Lock()
	err := f.failConnect
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Connect(ctx)
}

func (f *faultRemote) IsConnected() bool {
	f.mu.Lock()
	if f.failConnect != nil {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()
	return f.Store.IsConnected()
}

func (f *faultRemote) PushDocument(ctx context.Context, bundle *document.Bundle) error {
	f.mu.Lock()
	err := f.failPush[bundle.Meta.ID]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.PushDocument(ctx, bundle)
}

func (f *faultRemote) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	err := f.failDelete
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.DeleteDocument(ctx, id)
}

func (f *faultRemote) PullAllMetas(ctx context.Context) ([]*document.Meta, error) {
	f.mu.Lock()
	err := f.failMetas
	gate := f.pullGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return f.Store.PullAllMetas(ctx)
}

type fixture struct {
	engine    *Engine
	local     *localstore.Store
	remote    *faultRemote
	index     *fakeIndex
	scheduler *ManualScheduler
}

func newFixture(t *testing.T, ident identity.Provider) *fixture {
	t.Helper()

	logger := log.New(io.Discard, "", 0)

	local, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	backend, err := memory.New(remote.Config{})
	require.NoError(t, err)
	rem := &faultRemote{Store: backend, failPush: make(map[string]error)}

	index := newFakeIndex()
	scheduler := NewManualScheduler()

	engine, err := New(Config{
		Local:     local,
		Remote:    rem,
		Index:     index,
		Identity:  ident,
		Scheduler: scheduler,
		Interval:  time.Hour,
		Logger:    logger,
	})
	require.NoError(t, err)

	return &fixture{engine: engine, local: local, remote: rem, index: index, scheduler: scheduler}
}

func testBundle(id, name string) *document.Bundle {
	now := document.NowMillis()
	return &document.Bundle{
		Meta: &document.Meta{
			ID:           id,
			Name:         name,
			Visibility:   document.VisibilityPrivate,
			CreatedAt:    now,
			LastModified: now,
		},
		Snapshot:   &document.Snapshot{Code: "cube(1)", Objects: json.RawMessage(`[]`), SchemaVersion: 1},
		Namespaces: &document.Namespaces{Entries: map[string]json.RawMessage{}},
	}
}

func TestSyncPushesLocalDocuments(t *testing.T) {
	fx := newFixture(t, identity.Static{ID: "user-1", Email: "u@example.com"})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))

	pulled, err := fx.remote.PullDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "bracket", pulled.Meta.Name)
	assert.Equal(t, "user-1", pulled.Meta.OwnerID)
	assert.Equal(t, "u@example.com", pulled.Meta.OwnerEmail)

	assert.True(t, fx.index.has("doc-1"))

	stats := fx.engine.LastStats()
	assert.Equal(t, 1, stats.Pushed)
	assert.Zero(t, stats.ItemErrors)
}

func TestAnonymousSessionSkipsIndex(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, fx.index.has("doc-1"), "anonymous pushes must not reach the index")
}

func TestSyncPullsRemoteNovelty(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.remote.Connect(ctx))
	require.NoError(t, fx.remote.PushDocument(ctx, testBundle("remote-1", "gearbox")))

	require.NoError(t, fx.engine.SyncNow(ctx))

	bundle, err := fx.local.Load("remote-1")
	require.NoError(t, err)
	assert.Equal(t, "gearbox", bundle.Meta.Name)
	assert.Equal(t, 1, fx.engine.LastStats().Pulled)
}

func TestDeletionPropagatesAndIsNotRePulled(t *testing.T) {
	fx := newFixture(t, identity.Static{ID: "user-1"})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))

	// Delete locally; the document is still present remotely. The next
	// cycle must purge the remote copy, not pull it back.
	require.NoError(t, fx.local.Delete("doc-1"))
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound)

	_, err = fx.local.Load("doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound)

	assert.False(t, fx.index.has("doc-1"))
	assert.Equal(t, 1, fx.engine.LastStats().Deleted)
}

func TestTombstoneOutlivesRemoteResurrection(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))
	require.NoError(t, fx.local.Delete("doc-1"))
	require.NoError(t, fx.engine.SyncNow(ctx))

	// Another device pushes the same id back after our deletion landed.
	require.NoError(t, fx.remote.PushDocument(ctx, testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound, "tombstoned document must be re-deleted, not pulled")

	_, err = fx.local.Load("doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestClearedTombstoneCancelsDeletion(t *testing.T) {
	fx := newFixture(t, identity.Static{ID: "user-1"})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))
	require.NoError(t, fx.local.Delete("doc-1"))

	// Clearing the tombstone before it propagates cancels the deletion:
	// the next cycle pulls the remote copy back instead of purging it.
	require.NoError(t, fx.local.ClearTombstone("doc-1"))
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	assert.NoError(t, err)

	bundle, err := fx.local.Load("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "bracket", bundle.Meta.Name)
	assert.Zero(t, fx.engine.LastStats().Deleted)
}

func TestFailedRemoteDeleteLeavesTombstone(t *testing.T) {
	fx := newFixture(t, identity.Static{ID: "user-1"})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))
	require.NoError(t, fx.engine.SyncNow(ctx))
	require.NoError(t, fx.local.Delete("doc-1"))

	fx.remote.failDelete = fmt.Errorf("write rejected: %w", document.ErrPermissionDenied)
	require.NoError(t, fx.engine.SyncNow(ctx))

	stats := fx.engine.LastStats()
	assert.Zero(t, stats.Deleted, "a failed remote delete must not count as deleted")
	assert.NotZero(t, stats.ItemErrors)

	// The tombstone and the index row survive for the retry cycle.
	live, err := fx.local.IsTombstoned("doc-1")
	require.NoError(t, err)
	assert.True(t, live)
	assert.True(t, fx.index.has("doc-1"))

	fx.remote.failDelete = nil
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err = fx.remote.PullDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound)
	assert.False(t, fx.index.has("doc-1"))
	assert.Equal(t, 1, fx.engine.LastStats().Deleted)
}

func TestItemErrorDoesNotAbortCycle(t *testing.T) {
	fx := newFixture(t, identity.Static{ID: "user-1"})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("good", "ok")))
	require.NoError(t, fx.local.Save(testBundle("bad", "broken")))
	fx.remote.failPush["bad"] = fmt.Errorf("write rejected: %w", document.ErrPermissionDenied)

	require.NoError(t, fx.engine.SyncNow(ctx), "item failures must not surface as cycle errors")

	_, err := fx.remote.PullDocument(ctx, "good")
	require.NoError(t, err)

	stats := fx.engine.LastStats()
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, 1, stats.ItemErrors)
	assert.Equal(t, document.StatusIdle, fx.engine.State().Status)
}

func TestCycleErrorEntersAndLeavesErrorState(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.remote.Connect(ctx))
	fx.remote.failMetas = errors.New("listing exploded")

	err := fx.engine.SyncNow(ctx)
	require.Error(t, err)

	state := fx.engine.State()
	assert.Equal(t, document.StatusError, state.Status)
	assert.Contains(t, state.LastError, "listing exploded")

	// The error state is not sticky: the next successful cycle clears it.
	fx.remote.failMetas = nil
	require.NoError(t, fx.engine.SyncNow(ctx))

	state = fx.engine.State()
	assert.Equal(t, document.StatusIdle, state.Status)
	assert.Empty(t, state.LastError)
	assert.NotZero(t, state.LastSyncTime)
}

func TestUnreachableRemoteGoesOffline(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	fx.remote.failConnect = fmt.Errorf("dial: %w", document.ErrNotConnected)

	require.NoError(t, fx.engine.SyncNow(context.Background()),
		"an unreachable remote is offline, not an error")
	assert.Equal(t, document.StatusOffline, fx.engine.State().Status)
}

func TestConnectionLossMidCycleGoesOffline(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.remote.Connect(ctx))
	fx.remote.failMetas = fmt.Errorf("connection reset: %w", document.ErrNotConnected)

	require.NoError(t, fx.engine.SyncNow(ctx),
		"losing the remote mid-cycle is offline, not an engine error")
	assert.Equal(t, document.StatusOffline, fx.engine.State().Status)
	assert.Empty(t, fx.engine.State().LastError)
}

func TestSyncNowWhileSuspendedIsNoOp(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))

	fx.engine.Suspend()
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound, "suspended engine must not push")

	fx.engine.Resume(ctx)
	require.NoError(t, fx.engine.SyncNow(ctx))

	_, err = fx.remote.PullDocument(ctx, "doc-1")
	assert.NoError(t, err)
}

func TestSyncNowWhileInFlightIsNoOp(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	require.NoError(t, fx.remote.Connect(ctx))
	require.NoError(t, fx.remote.PushDocument(ctx, testBundle("remote-1", "gearbox")))

	gate := make(chan struct{})
	fx.remote.pullGate = gate

	done := make(chan error, 1)
	go func() { done <- fx.engine.SyncNow(ctx) }()

	// Wait for the first cycle to reach the gated pull phase, then
	// trigger again: the second call must return immediately.
	require.Eventually(t, func() bool {
		return fx.engine.State().Status == document.StatusSyncing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, fx.engine.SyncNow(ctx))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fx.engine.LastStats().Pulled, "the gated cycle must be the only one that ran")
}

func TestLocalChangeSetsPendingAndSyncClearsIt(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	fx.engine.Start(ctx)
	defer fx.engine.Stop()

	require.NoError(t, fx.local.Save(testBundle("doc-1", "bracket")))

	state := fx.engine.State()
	assert.True(t, state.HasPendingChanges)
	assert.True(t, state.WouldLoseData)

	fx.scheduler.Fire()
	require.NoError(t, fx.engine.WaitForIdle(time.Second))

	state = fx.engine.State()
	assert.Equal(t, document.StatusIdle, state.Status)
	assert.False(t, state.HasPendingChanges)
	assert.False(t, state.WouldLoseData)

	_, err := fx.remote.PullDocument(ctx, "doc-1")
	assert.NoError(t, err)
}

func TestSuspendStopsTimerAndResumeRestartsIt(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	fx.engine.Start(ctx)
	defer fx.engine.Stop()
	require.Equal(t, 1, fx.scheduler.Active())

	fx.engine.Suspend()
	assert.Zero(t, fx.scheduler.Active())

	// Resume only rearms the timer when the remote is reachable.
	fx.engine.Resume(ctx)
	assert.Zero(t, fx.scheduler.Active())

	require.NoError(t, fx.remote.Connect(ctx))
	fx.engine.Resume(ctx)
	assert.Equal(t, 1, fx.scheduler.Active())
}

func TestSubscribePublishesTransitions(t *testing.T) {
	fx := newFixture(t, identity.Anonymous{})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []document.Status
	unsubscribe := fx.engine.Subscribe(func(state document.SyncState) {
		mu.Lock()
		seen = append(seen, state.Status)
		mu.Unlock()
	})

	require.NoError(t, fx.engine.SyncNow(ctx))

	mu.Lock()
	got := append([]document.Status(nil), seen...)
	mu.Unlock()
	require.Equal(t, []document.Status{document.StatusSyncing, document.StatusIdle}, got)

	unsubscribe()
	require.NoError(t, fx.engine.SyncNow(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2, "no events after unsubscribe")
}
