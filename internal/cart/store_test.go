package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chumon-app/kiosk/internal/domain"
)

type memWriter struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	err    error
}

func newMemWriter() *memWriter {
	return &memWriter{values: map[string]string{}}
}

func (m *memWriter) Write(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	m.writes++
	return nil
}

func (m *memWriter) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func newTestStore(t *testing.T, local *memWriter) *Store {
	t.Helper()
	seq := 0
	store, err := NewStore(StoreDeps{
		Local: local,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStoreRequiresLocalWriter(t *testing.T) {
	if _, err := NewStore(StoreDeps{}); err == nil {
		t.Fatalf("expected constructor error")
	}
}

func TestStoreDispatchAppliesInOrder(t *testing.T) {
	local := newMemWriter()
	store := newTestStore(t, local)
	store.Start()
	ctx := context.Background()

	if _, err := store.Dispatch(ctx, AddItem{Item: line("a1", "p1", 500, 2)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	state, err := store.Dispatch(ctx, UpdateQuantity{CartItemID: "a1", Quantity: 3})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if state.CartTotal != 1500 {
		t.Fatalf("expected cart total 1500, got %d", state.CartTotal)
	}
}

func TestStoreGeneratesCartItemID(t *testing.T) {
	local := newMemWriter()
	store := newTestStore(t, local)
	store.Start()

	state, err := store.Dispatch(context.Background(), AddItem{Item: domain.CartLine{
		ProductID: "p1", UnitPrice: 500, Quantity: 1, LineTotal: 500,
	}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if state.Items[0].CartItemID != "gen-1" {
		t.Fatalf("expected generated id, got %q", state.Items[0].CartItemID)
	}
}

func TestStorePersistsSnapshotOnEveryMutation(t *testing.T) {
	local := newMemWriter()
	store := newTestStore(t, local)
	store.Start()
	ctx := context.Background()

	if _, err := store.Dispatch(ctx, AddItem{Item: line("a1", "p1", 500, 2)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	items, err := DecodeItems([]byte(local.get(SnapshotKey)))
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(items) != 1 || items[0].CartItemID != "a1" {
		t.Fatalf("unexpected snapshot %+v", items)
	}

	if _, err := store.Dispatch(ctx, Clear{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := local.get(SnapshotKey); got != "[]" {
		t.Fatalf("expected empty snapshot, got %s", got)
	}
	if local.writes != 2 {
		t.Fatalf("expected 2 snapshot writes, got %d", local.writes)
	}
}

func TestStoreSwallowsSnapshotWriteFailure(t *testing.T) {
	local := newMemWriter()
	local.err = errors.New("disk full")
	store := newTestStore(t, local)
	store.Start()

	state, err := store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 2)})
	if err != nil {
		t.Fatalf("dispatch should not surface snapshot errors: %v", err)
	}
	if state.CartTotal != 1000 {
		t.Fatalf("expected in-memory state intact, got total %d", state.CartTotal)
	}
}

func TestStoreNotifiesSubscribers(t *testing.T) {
	local := newMemWriter()
	store := newTestStore(t, local)

	notified := make(chan []domain.CartLine, 4)
	if err := store.Subscribe(func(items []domain.CartLine, encoded []byte) {
		notified <- items
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	store.Start()

	if _, err := store.Dispatch(context.Background(), AddItem{Item: line("a1", "p1", 500, 2)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	items := <-notified
	if len(items) != 1 || items[0].CartItemID != "a1" {
		t.Fatalf("unexpected notification %+v", items)
	}
}

func TestStoreSubscribeAfterStartFails(t *testing.T) {
	store := newTestStore(t, newMemWriter())
	store.Start()

	if err := store.Subscribe(func([]domain.CartLine, []byte) {}); err == nil {
		t.Fatalf("expected subscribe-after-start error")
	}
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	store := newTestStore(t, newMemWriter())
	store.Start()
	ctx := context.Background()

	if _, err := store.Dispatch(ctx, AddItem{Item: line("a1", "p1", 500, 2)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := store.Dispatch(ctx, AddAddon{CartItemID: "a1", Addon: line("", "addon1", 100, 1)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap.Items[0].Quantity = 99
	snap.Items[0].Addons[0].Quantity = 99

	again, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if again.Items[0].Quantity != 2 || again.Items[0].Addons[0].Quantity != 1 {
		t.Fatalf("snapshot aliased internal state: %+v", again.Items[0])
	}
}

func TestStoreDispatchAfterClose(t *testing.T) {
	store := newTestStore(t, newMemWriter())
	store.Start()
	store.Close()

	if _, err := store.Dispatch(context.Background(), Clear{}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
