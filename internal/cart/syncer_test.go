package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chumon-app/kiosk/internal/domain"
)

const testDebounce = 25 * time.Millisecond

func (m *memWriter) Read(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memWriter) seed(t *testing.T, items []domain.CartLine) {
	t.Helper()
	encoded, err := EncodeItems(items)
	if err != nil {
		t.Fatalf("encode seed: %v", err)
	}
	m.mu.Lock()
	m.values[SnapshotKey] = string(encoded)
	m.mu.Unlock()
}

type fakeAuth struct {
	mu       sync.Mutex
	state    AuthState
	resolved chan struct{}
	once     sync.Once
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		state:    AuthState{Loading: true},
		resolved: make(chan struct{}),
	}
}

func (f *fakeAuth) State() AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAuth) AwaitResolved(ctx context.Context) error {
	select {
	case <-f.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAuth) resolve(authenticated bool, userID string) {
	f.mu.Lock()
	f.state = AuthState{Authenticated: authenticated, UserID: userID}
	f.mu.Unlock()
	f.once.Do(func() { close(f.resolved) })
}

type fakeBackend struct {
	mu         sync.Mutex
	fetchItems []domain.CartLine
	fetchErr   error
	fetchCalls int
	pushErr    error
	pushes     [][]domain.CartLine
}

func (f *fakeBackend) FetchCart(ctx context.Context) ([]domain.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return CloneLines(f.fetchItems), nil
}

func (f *fakeBackend) PushCart(ctx context.Context, items []domain.CartLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, CloneLines(items))
	return nil
}

func (f *fakeBackend) setPushErr(err error) {
	f.mu.Lock()
	f.pushErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeBackend) lastPush() []domain.CartLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return nil
	}
	return f.pushes[len(f.pushes)-1]
}

type syncHarness struct {
	store   *Store
	syncer  *Syncer
	backend *fakeBackend
	auth    *fakeAuth
	local   *memWriter
}

func newSyncHarness(t *testing.T, local *memWriter) *syncHarness {
	t.Helper()
	if local == nil {
		local = newMemWriter()
	}
	store, err := NewStore(StoreDeps{Local: local})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	backend := &fakeBackend{}
	auth := newFakeAuth()
	syncer, err := NewSyncer(SyncerDeps{
		Store:    store,
		Backend:  backend,
		Auth:     auth,
		Local:    local,
		Debounce: testDebounce,
	})
	if err != nil {
		t.Fatalf("syncer: %v", err)
	}
	store.Start()
	t.Cleanup(func() {
		syncer.Close()
		store.Close()
	})
	return &syncHarness{store: store, syncer: syncer, backend: backend, auth: auth, local: local}
}

func (h *syncHarness) runAndWait(t *testing.T) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.syncer.Run(context.Background()) }()
	waitFor(t, func() bool { return h.syncer.Loaded() })
	if err := <-done; err != nil {
		t.Fatalf("syncer run: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func settle() {
	time.Sleep(4 * testDebounce)
}

func TestSyncerRestoresLocalSnapshotBeforeAuthResolves(t *testing.T) {
	local := newMemWriter()
	local.seed(t, []domain.CartLine{line("x1", "p1", 500, 1)})
	h := newSyncHarness(t, local)

	go func() { _ = h.syncer.Run(context.Background()) }()

	// Auth is still loading; the local snapshot must be visible already.
	waitFor(t, func() bool {
		snap, err := h.store.Snapshot(context.Background())
		return err == nil && len(snap.Items) == 1 && snap.Items[0].CartItemID == "x1"
	})
	if h.syncer.Loaded() {
		t.Fatalf("syncer must not report loaded while auth is pending")
	}

	h.auth.resolve(false, "")
	waitFor(t, func() bool { return h.syncer.Loaded() })
}

func TestSyncerGuestModeNeverTouchesServer(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(false, "")
	h.runAndWait(t)

	if _, err := h.store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	settle()

	if h.backend.fetchCalls != 0 {
		t.Fatalf("guest session fetched server cart %d times", h.backend.fetchCalls)
	}
	if h.backend.pushCount() != 0 {
		t.Fatalf("guest session pushed %d times", h.backend.pushCount())
	}
}

func TestSyncerServerSnapshotOverridesLocalOnLogin(t *testing.T) {
	local := newMemWriter()
	local.seed(t, []domain.CartLine{line("x1", "p1", 500, 1)})
	h := newSyncHarness(t, local)
	h.backend.fetchItems = []domain.CartLine{line("y1", "p9", 900, 1)}

	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	snap, err := h.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].CartItemID != "y1" {
		t.Fatalf("expected server snapshot to win, got %+v", snap.Items)
	}
}

// A mutation in the window between local restore and server load is lost when
// the server snapshot is non-empty. This is the documented precedence rule,
// not an accident; the test pins it.
func TestSyncerLoadRaceServerStillWins(t *testing.T) {
	local := newMemWriter()
	local.seed(t, []domain.CartLine{line("x1", "p1", 500, 1)})
	h := newSyncHarness(t, local)
	h.backend.fetchItems = []domain.CartLine{line("y1", "p9", 900, 1)}

	go func() { _ = h.syncer.Run(context.Background()) }()
	waitFor(t, func() bool {
		snap, err := h.store.Snapshot(context.Background())
		return err == nil && len(snap.Items) == 1
	})

	// User edit lands while the server load is still pending.
	if _, err := h.store.Dispatch(context.Background(), AddItem{Item: line("z1", "p2", 300, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	h.auth.resolve(true, "user-1")
	waitFor(t, func() bool { return h.syncer.Loaded() })

	snap, err := h.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].CartItemID != "y1" {
		t.Fatalf("expected override to [y1], got %+v", snap.Items)
	}
}

func TestSyncerEmptyServerSnapshotKeepsLocalUntilNextMutation(t *testing.T) {
	local := newMemWriter()
	local.seed(t, []domain.CartLine{line("x1", "p1", 500, 1)})
	h := newSyncHarness(t, local)

	h.auth.resolve(true, "user-1")
	h.runAndWait(t)
	settle()

	// The restore primed the sync marker, so nothing is pushed yet.
	if h.backend.pushCount() != 0 {
		t.Fatalf("expected no push after empty server load, got %d", h.backend.pushCount())
	}

	if _, err := h.store.Dispatch(context.Background(), UpdateQuantity{CartItemID: "x1", Quantity: 2}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, func() bool { return h.backend.pushCount() == 1 })

	pushed := h.backend.lastPush()
	if len(pushed) != 1 || pushed[0].Quantity != 2 {
		t.Fatalf("unexpected push payload %+v", pushed)
	}
}

func TestSyncerDebounceCoalescesRapidMutations(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	ctx := context.Background()
	if _, err := h.store.Dispatch(ctx, AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for q := int64(2); q <= 5; q++ {
		if _, err := h.store.Dispatch(ctx, UpdateQuantity{CartItemID: "a1", Quantity: q}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	waitFor(t, func() bool { return h.backend.pushCount() >= 1 })
	settle()

	if h.backend.pushCount() != 1 {
		t.Fatalf("expected single coalesced push, got %d", h.backend.pushCount())
	}
	pushed := h.backend.lastPush()
	if pushed[0].Quantity != 5 || pushed[0].LineTotal != 2500 {
		t.Fatalf("expected latest state pushed, got %+v", pushed[0])
	}
}

func TestSyncerSkipsPushWhenItemsUnchanged(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	ctx := context.Background()
	if _, err := h.store.Dispatch(ctx, AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, func() bool { return h.backend.pushCount() == 1 })

	// A no-op transition re-notifies with identical content.
	if _, err := h.store.Dispatch(ctx, UpdateQuantity{CartItemID: "missing", Quantity: 4}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	settle()

	if h.backend.pushCount() != 1 {
		t.Fatalf("expected unchanged content to skip push, got %d", h.backend.pushCount())
	}
}

func TestSyncerPushFailureRetriesSamePayload(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	h.backend.setPushErr(errors.New("backend down"))
	if _, err := h.store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	settle()
	if h.backend.pushCount() != 0 {
		t.Fatalf("failed push should not record success, got %d", h.backend.pushCount())
	}

	// Marker was not advanced; a flush retries the same payload.
	h.backend.setPushErr(nil)
	if err := h.syncer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if h.backend.pushCount() != 1 {
		t.Fatalf("expected retry push, got %d", h.backend.pushCount())
	}
	if pushed := h.backend.lastPush(); len(pushed) != 1 || pushed[0].CartItemID != "a1" {
		t.Fatalf("unexpected retry payload %+v", pushed)
	}
}

func TestSyncerFlushBypassesDebounce(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	if _, err := h.store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := h.syncer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if h.backend.pushCount() != 1 {
		t.Fatalf("expected immediate push, got %d", h.backend.pushCount())
	}

	// The flushed state is the marker now; the pending timer must not fire a
	// duplicate.
	settle()
	if h.backend.pushCount() != 1 {
		t.Fatalf("expected no duplicate push, got %d", h.backend.pushCount())
	}
}

func TestSyncerCloseCancelsPendingPush(t *testing.T) {
	h := newSyncHarness(t, nil)
	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	if _, err := h.store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.syncer.Close()
	settle()

	if h.backend.pushCount() != 0 {
		t.Fatalf("expected cancelled push, got %d", h.backend.pushCount())
	}
}

func TestSyncerServerFetchFailureKeepsCartUsable(t *testing.T) {
	local := newMemWriter()
	local.seed(t, []domain.CartLine{line("x1", "p1", 500, 1)})
	h := newSyncHarness(t, local)
	h.backend.fetchErr = errors.New("backend down")

	h.auth.resolve(true, "user-1")
	h.runAndWait(t)

	snap, err := h.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].CartItemID != "x1" {
		t.Fatalf("expected local state kept after fetch failure, got %+v", snap.Items)
	}
}

func TestSyncerCorruptLocalSnapshotTreatedAsEmpty(t *testing.T) {
	local := newMemWriter()
	local.mu.Lock()
	local.values[SnapshotKey] = "{corrupt"
	local.mu.Unlock()
	h := newSyncHarness(t, local)

	h.auth.resolve(false, "")
	h.runAndWait(t)

	snap, err := h.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", snap.Items)
	}
}
