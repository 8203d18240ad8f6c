package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
	"github.com/chumon-app/kiosk/internal/platform/httpx"
)

// CartDispatcher is the store surface the cart endpoints drive.
type CartDispatcher interface {
	Dispatch(ctx context.Context, action cart.Action) (cart.State, error)
	Snapshot(ctx context.Context) (cart.State, error)
}

// CartHandlers exposes the cart state machine over HTTP. Every mutation routes
// through the dispatcher, so ordering and persistence guarantees hold no
// matter how requests interleave.
type CartHandlers struct {
	store  CartDispatcher
	logger *zap.Logger
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(store CartDispatcher, logger *zap.Logger) (*CartHandlers, error) {
	if store == nil {
		return nil, errors.New("handlers: cart dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartHandlers{store: store, logger: logger}, nil
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{cartItemId}", h.updateQuantity)
	r.Delete("/items/{cartItemId}", h.removeItem)
	r.Post("/items/{cartItemId}/addons", h.addAddon)
	r.Patch("/items/{cartItemId}/addons/{addonId}", h.updateAddonQuantity)
	r.Delete("/items/{cartItemId}/addons/{addonId}", h.removeAddon)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Snapshot(r.Context())
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCartState(r.Context(), w, state)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, cart.Clear{})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var payload cartLinePayload
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	line, err := payload.toLine()
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	h.dispatch(w, r, cart.AddItem{Item: line})
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.dispatch(w, r, cart.UpdateQuantity{
		CartItemID: chi.URLParam(r, "cartItemId"),
		Quantity:   payload.Quantity,
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, cart.RemoveItem{CartItemID: chi.URLParam(r, "cartItemId")})
}

func (h *CartHandlers) addAddon(w http.ResponseWriter, r *http.Request) {
	var payload cartLinePayload
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	addon, err := payload.toLine()
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	h.dispatch(w, r, cart.AddAddon{
		CartItemID: chi.URLParam(r, "cartItemId"),
		Addon:      addon,
	})
}

func (h *CartHandlers) updateAddonQuantity(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.dispatch(w, r, cart.UpdateAddonQuantity{
		CartItemID: chi.URLParam(r, "cartItemId"),
		AddonID:    chi.URLParam(r, "addonId"),
		Quantity:   payload.Quantity,
	})
}

func (h *CartHandlers) removeAddon(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, cart.RemoveAddon{
		CartItemID: chi.URLParam(r, "cartItemId"),
		AddonID:    chi.URLParam(r, "addonId"),
	})
}

func (h *CartHandlers) dispatch(w http.ResponseWriter, r *http.Request, action cart.Action) {
	state, err := h.store.Dispatch(r.Context(), action)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCartState(r.Context(), w, state)
}

func writeCartState(ctx context.Context, w http.ResponseWriter, state cart.State) {
	encoded, err := cart.EncodeItems(state.Items)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "cart state encoding failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, cartStateResponse{
		Items:     json.RawMessage(encoded),
		CartTotal: state.CartTotal,
	})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrStoreClosed):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart store is shut down", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "cart operation timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type cartStateResponse struct {
	Items     json.RawMessage `json:"items"`
	CartTotal int64           `json:"cartTotal"`
}

type quantityPayload struct {
	Quantity int64 `json:"quantity"`
}

// cartLinePayload is the inbound shape for items and addons. The line total
// is always derived server-side from unit price and quantity.
type cartLinePayload struct {
	CartItemID string `json:"cartItemId"`
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int64  `json:"quantity"`
	ImageURL   string `json:"imageUrl"`
	Category   string `json:"category"`
}

func (p cartLinePayload) toLine() (domain.CartLine, error) {
	if strings.TrimSpace(p.ProductID) == "" {
		return domain.CartLine{}, errors.New("productId is required")
	}
	if p.Quantity < 1 {
		return domain.CartLine{}, errors.New("quantity must be at least 1")
	}
	if p.UnitPrice < 0 {
		return domain.CartLine{}, errors.New("unitPrice must not be negative")
	}
	return domain.CartLine{
		CartItemID: strings.TrimSpace(p.CartItemID),
		ProductID:  p.ProductID,
		Name:       p.Name,
		UnitPrice:  p.UnitPrice,
		Quantity:   p.Quantity,
		LineTotal:  p.UnitPrice * p.Quantity,
		ImageURL:   p.ImageURL,
		Category:   p.Category,
		Available:  true,
	}, nil
}
