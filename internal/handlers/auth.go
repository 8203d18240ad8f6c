package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/auth"
	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
	"github.com/chumon-app/kiosk/internal/localstore"
	"github.com/chumon-app/kiosk/internal/platform/httpx"
)

// SessionService is the auth surface the login endpoints drive.
type SessionService interface {
	LoginWithLine(ctx context.Context, idToken, tableNumber string) (domain.User, error)
	LoginWithPassword(ctx context.Context, userID, password string) (domain.User, error)
	Logout()
	User() (domain.User, error)
	State() cart.AuthState
}

// SessionStore persists per-session values alongside the token the session
// itself manages.
type SessionStore interface {
	Write(key, value string) error
	Delete(key string) error
}

// AuthHandlers exposes login, logout, and session inspection.
type AuthHandlers struct {
	session SessionService
	store   CartDispatcher
	local   SessionStore
	logger  *zap.Logger
}

// NewAuthHandlers constructs the auth handlers.
func NewAuthHandlers(session SessionService, store CartDispatcher, local SessionStore, logger *zap.Logger) (*AuthHandlers, error) {
	if session == nil {
		return nil, errors.New("handlers: session service is required")
	}
	if store == nil {
		return nil, errors.New("handlers: cart dispatcher is required")
	}
	if local == nil {
		return nil, errors.New("handlers: session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{session: session, store: store, local: local, logger: logger}, nil
}

// Routes registers the auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	r.Post("/line", h.loginWithLine)
	r.Post("/login", h.loginWithPassword)
	r.Post("/logout", h.logout)
	r.Get("/session", h.sessionState)
}

func (h *AuthHandlers) loginWithLine(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDToken     string `json:"idToken"`
		TableNumber string `json:"tableNumber"`
	}
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if strings.TrimSpace(payload.IDToken) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "idToken is required", http.StatusBadRequest))
		return
	}

	user, err := h.session.LoginWithLine(r.Context(), payload.IDToken, payload.TableNumber)
	if err != nil {
		writeLoginError(r.Context(), w, err)
		return
	}
	if tn := strings.TrimSpace(payload.TableNumber); tn != "" {
		if err := h.local.Write(localstore.KeyTableNumber, tn); err != nil {
			h.logger.Warn("persisting table number failed", zap.Error(err))
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"user": userResponseFrom(user)})
}

func (h *AuthHandlers) loginWithPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}

	user, err := h.session.LoginWithPassword(r.Context(), payload.UserID, payload.Password)
	if err != nil {
		writeLoginError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"user": userResponseFrom(user)})
}

// logout tears the whole session down: backend session state, the persisted
// table number, and the in-memory cart.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	if err := h.local.Delete(localstore.KeyTableNumber); err != nil {
		h.logger.Warn("clearing table number failed", zap.Error(err))
	}
	if _, err := h.store.Dispatch(r.Context(), cart.Clear{}); err != nil && !errors.Is(err, cart.ErrStoreClosed) {
		h.logger.Warn("clearing cart on logout failed", zap.Error(err))
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandlers) sessionState(w http.ResponseWriter, r *http.Request) {
	state := h.session.State()
	resp := sessionResponse{
		Authenticated: state.Authenticated,
		Loading:       state.Loading,
	}
	if user, err := h.session.User(); err == nil {
		u := userResponseFrom(user)
		resp.User = &u
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeLoginError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrIDTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_id_token", "LINE ID token verification failed", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrJWKSUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "LINE key set unavailable", http.StatusBadGateway))
	case backend.IsUnauthorized(err):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "login rejected", http.StatusUnauthorized))
	default:
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			httpx.WriteError(ctx, w, httpx.NewError(apiErr.Code, apiErr.Message, apiErr.Status))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type sessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	Loading       bool          `json:"loading"`
	User          *userResponse `json:"user,omitempty"`
}

type userResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PictureURL  string `json:"pictureUrl,omitempty"`
	Role        string `json:"role,omitempty"`
	LineUserID  string `json:"lineUserId,omitempty"`
	TableNumber string `json:"tableNumber,omitempty"`
}

func userResponseFrom(user domain.User) userResponse {
	return userResponse{
		ID:          user.ID,
		UserID:      user.UserID,
		DisplayName: user.DisplayName,
		PictureURL:  user.PictureURL,
		Role:        user.Role,
		LineUserID:  user.LineUserID,
		TableNumber: user.TableNumber,
	}
}
