package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/domain"
)

// ErrStoreClosed is returned when dispatching against a store that has been
// torn down.
var ErrStoreClosed = errors.New("cart store: closed")

var errStoreStarted = errors.New("cart store: already started")

// SnapshotWriter is the durable local store the cart persists into after every
// mutation.
type SnapshotWriter interface {
	Write(key, value string) error
}

// Subscriber observes applied transitions that changed the item list. The
// encoded form is the canonical serialization used at both persistence
// boundaries.
type Subscriber func(items []domain.CartLine, encoded []byte)

// StoreDeps wires the durable snapshot writer and ambient dependencies.
type StoreDeps struct {
	Local       SnapshotWriter
	Logger      *zap.Logger
	IDGenerator func() string
}

// Store owns the in-memory cart state for one session. A single goroutine
// consumes the dispatch channel, so transitions apply strictly in dispatch
// order and the state has exactly one writer. The local snapshot is written
// synchronously inside the loop before the dispatch call returns.
type Store struct {
	local  SnapshotWriter
	logger *zap.Logger
	newID  func() string

	requests    chan storeRequest
	subscribers []Subscriber

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type storeRequest struct {
	action Action
	reply  chan State
}

// NewStore constructs a stopped store; call Start before dispatching.
func NewStore(deps StoreDeps) (*Store, error) {
	if deps.Local == nil {
		return nil, errors.New("cart store: local snapshot writer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Store{
		local:    deps.Local,
		logger:   logger,
		newID:    newID,
		requests: make(chan storeRequest),
		done:     make(chan struct{}),
	}, nil
}

// Subscribe registers an observer for item changes. Must be called before
// Start; later calls return an error instead of racing the loop.
func (s *Store) Subscribe(fn Subscriber) error {
	if s.started.Load() {
		return errStoreStarted
	}
	if fn != nil {
		s.subscribers = append(s.subscribers, fn)
	}
	return nil
}

// Start launches the dispatch loop. Safe to call once per store.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop()
	})
}

// Dispatch applies an action and returns the resulting state. Blocks until
// the loop has applied the action and written the local snapshot.
func (s *Store) Dispatch(ctx context.Context, action Action) (State, error) {
	if action == nil {
		return State{}, errors.New("cart store: action is required")
	}
	if add, ok := action.(AddItem); ok && strings.TrimSpace(add.Item.CartItemID) == "" {
		// Identifier generation stays outside the reducer to keep it pure.
		add.Item.CartItemID = s.newID()
		action = add
	}
	return s.send(ctx, action)
}

// Snapshot returns a deep copy of the current state, sequenced through the
// dispatch loop so it reflects every previously dispatched action.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	return s.send(ctx, nil)
}

func (s *Store) send(ctx context.Context, action Action) (State, error) {
	select {
	case <-s.done:
		return State{}, ErrStoreClosed
	default:
	}
	req := storeRequest{action: action, reply: make(chan State, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return State{}, ErrStoreClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case state := <-req.reply:
		return state, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Close tears the store down. Pending dispatches fail with ErrStoreClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Store) loop() {
	state := InitialState()
	for {
		select {
		case req := <-s.requests:
			if req.action == nil {
				req.reply <- State{Items: CloneLines(state.Items), CartTotal: state.CartTotal}
				continue
			}
			state = Apply(state, req.action)
			encoded := s.persist(req.action, state)
			req.reply <- State{Items: CloneLines(state.Items), CartTotal: state.CartTotal}
			if encoded != nil {
				items := CloneLines(state.Items)
				for _, fn := range s.subscribers {
					fn(items, encoded)
				}
			}
		case <-s.done:
			return
		}
	}
}

// persist writes the snapshot for every mutation. Write failures are logged
// and swallowed: local durability is best effort and must not block the cart.
func (s *Store) persist(action Action, state State) []byte {
	encoded, err := EncodeItems(state.Items)
	if err != nil {
		s.logger.Warn("cart snapshot encode failed",
			zap.String("action", action.Name()),
			zap.Error(err))
		return nil
	}
	if err := s.local.Write(SnapshotKey, string(encoded)); err != nil {
		s.logger.Warn("cart snapshot write failed",
			zap.String("action", action.Name()),
			zap.Error(err))
	}
	return encoded
}
