package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
)

// OrderHistoryBackend lists the signed-in user's past orders.
type OrderHistoryBackend interface {
	OrderHistory(ctx context.Context) ([]domain.Order, error)
}

// OrderHandlers proxies the customer's order history.
type OrderHandlers struct {
	backend OrderHistoryBackend
	session SessionService
}

// NewOrderHandlers constructs the order history handlers.
func NewOrderHandlers(backend OrderHistoryBackend, session SessionService) (*OrderHandlers, error) {
	if backend == nil {
		return nil, errors.New("handlers: order history backend is required")
	}
	if session == nil {
		return nil, errors.New("handlers: session service is required")
	}
	return &OrderHandlers{backend: backend, session: session}, nil
}

// Routes registers the order history endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/", h.listOrders)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.User(); err != nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"orders": []orderResponse{}})
		return
	}
	orders, err := h.backend.OrderHistory(r.Context())
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, orderResponseFrom(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": out})
}

type orderResponse struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId,omitempty"`
	TableNumber string          `json:"tableNumber"`
	Status      string          `json:"status"`
	Items       json.RawMessage `json:"items,omitempty"`
	Total       int64           `json:"total"`
	PaymentID   string          `json:"paymentId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func orderResponseFrom(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TableNumber: order.TableNumber,
		Status:      string(order.Status),
		Total:       order.Total,
		PaymentID:   order.PaymentID,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if len(order.Items) > 0 {
		if encoded, err := cart.EncodeItems(order.Items); err == nil {
			resp.Items = json.RawMessage(encoded)
		}
	}
	return resp
}
