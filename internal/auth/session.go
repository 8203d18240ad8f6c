// Package auth manages the kiosk's login session: the persisted token, its
// verification against the backend, and LINE ID token validation. The session
// is the single gate other components consult before touching authenticated
// endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
	"github.com/chumon-app/kiosk/internal/localstore"
)

// ErrNotAuthenticated is returned by operations that require a signed-in user.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// SessionBackend is the subset of the backend client the session depends on.
type SessionBackend interface {
	LiffLogin(ctx context.Context, input backend.LiffLoginInput) (backend.LoginResult, error)
	Login(ctx context.Context, userID, password string) (backend.LoginResult, error)
	VerifyToken(ctx context.Context, token string) (domain.User, error)
}

// TokenStore persists the session token across restarts.
type TokenStore interface {
	Read(key string) (string, bool)
	Write(key, value string) error
	Delete(key string) error
}

// SessionDeps wires the session's collaborators.
type SessionDeps struct {
	Backend SessionBackend
	Local   TokenStore
	// Line verifies LINE ID tokens before they are exchanged. Optional when
	// only staff password login is used.
	Line   *LineVerifier
	Logger *zap.Logger
	Clock  func() time.Time
}

// Session tracks the current user. It starts in the loading state; Resolve
// settles it from the persisted token, and AwaitResolved lets collaborators
// block until that has happened.
type Session struct {
	backend SessionBackend
	local   TokenStore
	line    *LineVerifier
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
	user  domain.User
	authn bool

	loading     bool
	resolved    chan struct{}
	resolveOnce sync.Once
}

// NewSession constructs a session in the loading state.
func NewSession(deps SessionDeps) (*Session, error) {
	if deps.Backend == nil {
		return nil, errors.New("auth: backend is required")
	}
	if deps.Local == nil {
		return nil, errors.New("auth: token store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Session{
		backend:  deps.Backend,
		local:    deps.Local,
		line:     deps.Line,
		logger:   deps.Logger,
		now:      deps.Clock,
		loading:  true,
		resolved: make(chan struct{}),
	}, nil
}

// Token implements backend.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *Session) User() (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authn {
		return domain.User{}, ErrNotAuthenticated
	}
	return s.user, nil
}

// State implements cart.AuthSource.
func (s *Session) State() cart.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := cart.AuthState{Loading: s.loading, Authenticated: s.authn}
	if s.authn {
		state.UserID = s.user.ID
	}
	return state
}

// AwaitResolved implements cart.AuthSource.
func (s *Session) AwaitResolved(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve restores the session from the persisted token. A missing, expired,
// or rejected token settles the session as guest; transient verification
// failures also settle as guest but keep the token for the next restart.
func (s *Session) Resolve(ctx context.Context) {
	defer s.settle()

	token, ok := s.local.Read(localstore.KeySessionToken)
	if !ok || token == "" {
		return
	}
	if s.expired(token) {
		s.logger.Info("stored session token expired, discarding")
		s.discardToken()
		return
	}

	user, err := s.backend.VerifyToken(ctx, token)
	if err != nil {
		if backend.IsUnauthorized(err) {
			s.logger.Info("stored session token rejected, discarding")
			s.discardToken()
			return
		}
		s.logger.Warn("session verification failed, continuing as guest", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.authn = true
	s.mu.Unlock()
	s.logger.Info("session restored", zap.String("user_id", user.ID))
}

// LoginWithLine verifies the LINE ID token locally, exchanges the asserted
// profile for a backend session, and persists the resulting token.
func (s *Session) LoginWithLine(ctx context.Context, idToken, tableNumber string) (domain.User, error) {
	if s.line == nil {
		return domain.User{}, errors.New("auth: LINE verifier not configured")
	}
	profile, err := s.line.Verify(ctx, idToken)
	if err != nil {
		return domain.User{}, err
	}
	result, err := s.backend.LiffLogin(ctx, backend.LiffLoginInput{
		LineUserID:  profile.UserID,
		DisplayName: profile.DisplayName,
		PictureURL:  profile.PictureURL,
		TableNumber: tableNumber,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("auth: liff login: %w", err)
	}
	return s.adopt(result)
}

// LoginWithPassword signs in a staff user and persists the resulting token.
func (s *Session) LoginWithPassword(ctx context.Context, userID, password string) (domain.User, error) {
	if strings.TrimSpace(userID) == "" || password == "" {
		return domain.User{}, errors.New("auth: user id and password are required")
	}
	result, err := s.backend.Login(ctx, userID, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("auth: login: %w", err)
	}
	return s.adopt(result)
}

// Logout clears the session and the persisted token. Already being a guest is
// a no-op.
func (s *Session) Logout() {
	s.mu.Lock()
	wasAuthn := s.authn
	s.token = ""
	s.user = domain.User{}
	s.authn = false
	s.mu.Unlock()

	s.discardToken()
	if wasAuthn {
		s.logger.Info("session logged out")
	}
	s.settle()
}

func (s *Session) adopt(result backend.LoginResult) (domain.User, error) {
	if result.Token == "" {
		return domain.User{}, errors.New("auth: backend returned empty token")
	}
	s.mu.Lock()
	s.token = result.Token
	s.user = result.User
	s.authn = true
	s.mu.Unlock()

	if err := s.local.Write(localstore.KeySessionToken, result.Token); err != nil {
		s.logger.Warn("persisting session token failed", zap.Error(err))
	}
	s.settle()
	s.logger.Info("session established", zap.String("user_id", result.User.ID))
	return result.User, nil
}

func (s *Session) settle() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.resolveOnce.Do(func() { close(s.resolved) })
}

func (s *Session) discardToken() {
	if err := s.local.Delete(localstore.KeySessionToken); err != nil {
		s.logger.Warn("discarding session token failed", zap.Error(err))
	}
}

// expired reports whether the token carries an exp claim in the past. The
// signature is not checked here; the backend does that. Unparseable tokens
// count as expired so they get discarded instead of retried forever.
func (s *Session) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(claims.ExpiresAt.Time)
}
