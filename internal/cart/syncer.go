package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/domain"
)

const (
	// DefaultDebounce is the quiet window after the last mutation before the
	// item list is pushed to the server snapshot.
	DefaultDebounce = 1500 * time.Millisecond

	defaultPushTimeout = 10 * time.Second
)

var syncTracer = otel.Tracer("github.com/chumon-app/kiosk/internal/cart")

// Backend is the server snapshot collaborator. FetchCart returns the
// authenticated user's persisted cart; PushCart overwrites it wholesale.
type Backend interface {
	FetchCart(ctx context.Context) ([]domain.CartLine, error)
	PushCart(ctx context.Context, items []domain.CartLine) error
}

// AuthState is the observed state of the auth collaborator.
type AuthState struct {
	Authenticated bool
	Loading       bool
	UserID        string
}

// AuthSource exposes the authentication state gating server interaction.
type AuthSource interface {
	State() AuthState
	// AwaitResolved blocks until the auth system has settled (Loading is
	// false) or the context is done.
	AwaitResolved(ctx context.Context) error
}

// SnapshotReader reads the durable local snapshot written by the store.
type SnapshotReader interface {
	Read(key string) (string, bool)
}

// SyncerDeps wires the syncer's collaborators.
type SyncerDeps struct {
	Store   *Store
	Backend Backend
	Auth    AuthSource
	Local   SnapshotReader
	Logger  *zap.Logger
	// Debounce overrides the quiet window; zero means DefaultDebounce.
	Debounce time.Duration
	// PushTimeout bounds a single push request; zero means a 10s default.
	PushTimeout time.Duration
}

// Syncer reconciles the in-memory cart against the local snapshot and the
// server snapshot. Startup order: local restore first (usable offline), then
// the server snapshot once authentication resolves, with non-empty server
// state overriding whatever is local. Steady state: a single-slot debounced
// push of the full item list, skipped when the serialized items match the last
// successful push or load.
type Syncer struct {
	store       *Store
	backend     Backend
	auth        AuthSource
	local       SnapshotReader
	logger      *zap.Logger
	debounce    time.Duration
	pushTimeout time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	lastSynced string
	loaded     bool
	closed     bool

	// pushMu keeps at most one push in flight from this client.
	pushMu sync.Mutex
}

// NewSyncer validates dependencies and registers the syncer on the store.
func NewSyncer(deps SyncerDeps) (*Syncer, error) {
	if deps.Store == nil {
		return nil, errors.New("cart syncer: store is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("cart syncer: backend is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("cart syncer: auth source is required")
	}
	if deps.Local == nil {
		return nil, errors.New("cart syncer: local snapshot reader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := deps.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	pushTimeout := deps.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}

	s := &Syncer{
		store:       deps.Store,
		backend:     deps.Backend,
		auth:        deps.Auth,
		local:       deps.Local,
		logger:      logger,
		debounce:    debounce,
		pushTimeout: pushTimeout,
	}
	if err := deps.Store.Subscribe(s.ItemsChanged); err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes the startup protocol. The local snapshot is restored before
// any network wait; the server snapshot is fetched only after authentication
// resolves, and only overrides local state when non-empty. Mutations arriving
// while either load is pending apply in dispatch order on top of whatever has
// been loaded so far; a later non-empty server snapshot still wins.
func (s *Syncer) Run(ctx context.Context) error {
	s.restoreLocal(ctx)

	if err := s.auth.AwaitResolved(ctx); err != nil {
		return err
	}
	state := s.auth.State()
	if !state.Authenticated {
		// Guest session: local-only for the rest of the session.
		s.markLoaded()
		return nil
	}

	items, err := s.backend.FetchCart(ctx)
	if err != nil {
		// The cart stays usable on local state; the server replica is simply
		// not consulted again until the next session.
		s.logger.Warn("server cart fetch failed", zap.Error(err))
		s.markLoaded()
		return nil
	}
	if len(items) > 0 {
		if _, err := s.store.Dispatch(ctx, SetItems{Items: items}); err != nil {
			s.markLoaded()
			return err
		}
		if encoded, err := EncodeItems(items); err == nil {
			s.setLastSynced(string(encoded))
		}
		s.logger.Info("server cart restored",
			zap.String("user_id", state.UserID),
			zap.Int("items", len(items)))
	}
	s.markLoaded()
	return nil
}

// restoreLocal loads the persisted snapshot, if any. Parse failures are
// swallowed and treated as no snapshot.
func (s *Syncer) restoreLocal(ctx context.Context) {
	raw, ok := s.local.Read(SnapshotKey)
	if !ok || raw == "" {
		return
	}
	items, err := DecodeItems([]byte(raw))
	if err != nil {
		s.logger.Warn("local cart snapshot unreadable, starting empty", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}
	if _, err := s.store.Dispatch(ctx, SetItems{Items: items}); err != nil {
		return
	}
	// Prime the sync marker so an unchanged restore does not trigger a push.
	if encoded, err := EncodeItems(items); err == nil {
		s.setLastSynced(string(encoded))
	}
	s.logger.Info("local cart restored", zap.Int("items", len(items)))
}

// ItemsChanged is the store subscriber. Each item change cancels any pending
// push; a new push is scheduled only once the controller is loaded, the user
// is authenticated, and the serialized items differ from the last sync.
func (s *Syncer) ItemsChanged(items []domain.CartLine, encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.closed || !s.loaded {
		return
	}
	state := s.auth.State()
	if !state.Authenticated || state.Loading {
		return
	}
	serialized := string(encoded)
	if serialized == s.lastSynced {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.push(items, serialized)
	})
}

// Flush pushes any pending state immediately, bypassing the debounce window.
// Used before checkout and on shutdown.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	loaded := s.loaded
	last := s.lastSynced
	s.mu.Unlock()

	if !loaded {
		return nil
	}
	state := s.auth.State()
	if !state.Authenticated || state.Loading {
		return nil
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	encoded, err := EncodeItems(snap.Items)
	if err != nil {
		return err
	}
	if string(encoded) == last {
		return nil
	}
	return s.pushCtx(ctx, snap.Items, string(encoded))
}

// Loaded reports whether the startup protocol has completed.
func (s *Syncer) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Close cancels any pending (not yet fired) push. In-flight pushes are not
// cancelled; their failure is logged like any other.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Syncer) push(items []domain.CartLine, serialized string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()
	if err := s.pushCtx(ctx, items, serialized); err != nil {
		// The marker is left behind, so the next mutation (or flush) retries
		// the same payload.
		s.logger.Warn("cart push failed", zap.Error(err))
	}
}

func (s *Syncer) pushCtx(ctx context.Context, items []domain.CartLine, serialized string) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	// Re-check under the push lock: a flush and a firing timer may race, and
	// only the first one with this payload should hit the network.
	s.mu.Lock()
	last := s.lastSynced
	s.mu.Unlock()
	if serialized == last {
		return nil
	}

	ctx, span := syncTracer.Start(ctx, "cart.push",
		trace.WithAttributes(attribute.Int("cart.items", len(items))))
	defer span.End()

	if err := s.backend.PushCart(ctx, items); err != nil {
		span.RecordError(err)
		return err
	}
	s.setLastSynced(serialized)
	return nil
}

func (s *Syncer) markLoaded() {
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
}

func (s *Syncer) setLastSynced(serialized string) {
	s.mu.Lock()
	s.lastSynced = serialized
	s.mu.Unlock()
}
