package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
	"github.com/chumon-app/kiosk/internal/payments"
	"github.com/chumon-app/kiosk/internal/platform/httpx"
)

// CartFlusher forces any pending cart push before an order is placed.
type CartFlusher interface {
	Flush(ctx context.Context) error
}

// OrderBackend is the backend surface the checkout flow drives.
type OrderBackend interface {
	CreateOrder(ctx context.Context, input backend.CreateOrderInput) (domain.Order, error)
	ClearCart(ctx context.Context) error
}

// PaymentWaiter blocks until a payment settles.
type PaymentWaiter interface {
	Wait(ctx context.Context, merchantPaymentID string) (payments.PaymentDetails, error)
}

// CheckoutDeps wires the checkout handlers.
type CheckoutDeps struct {
	Store   CartDispatcher
	Syncer  CartFlusher
	Session SessionService
	Backend OrderBackend
	// Provider and Waiter are nil when payment credentials are absent; orders
	// are then placed for at-register payment.
	Provider payments.Provider
	Waiter   PaymentWaiter
	Logger   *zap.Logger
	// NewPaymentID generates merchant payment ids; defaults to ULIDs.
	NewPaymentID func() string
}

// CheckoutHandlers turns the current cart into an order, optionally routed
// through PayPay.
type CheckoutHandlers struct {
	store        CartDispatcher
	syncer       CartFlusher
	session      SessionService
	backend      OrderBackend
	provider     payments.Provider
	waiter       PaymentWaiter
	logger       *zap.Logger
	newPaymentID func() string
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(deps CheckoutDeps) (*CheckoutHandlers, error) {
	if deps.Store == nil {
		return nil, errors.New("handlers: cart dispatcher is required")
	}
	if deps.Syncer == nil {
		return nil, errors.New("handlers: cart flusher is required")
	}
	if deps.Session == nil {
		return nil, errors.New("handlers: session service is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("handlers: order backend is required")
	}
	if deps.Provider != nil && deps.Waiter == nil {
		return nil, errors.New("handlers: payment waiter is required when a provider is set")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewPaymentID == nil {
		deps.NewPaymentID = func() string { return ulid.Make().String() }
	}
	return &CheckoutHandlers{
		store:        deps.Store,
		syncer:       deps.Syncer,
		session:      deps.Session,
		backend:      deps.Backend,
		provider:     deps.Provider,
		waiter:       deps.Waiter,
		logger:       deps.Logger,
		newPaymentID: deps.NewPaymentID,
	}, nil
}

// Routes registers the checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Post("/", h.checkout)
	r.Post("/payments/{merchantPaymentId}/confirm", h.confirmPayment)
	r.Delete("/payments/{merchantPaymentId}", h.cancelPayment)
}

func (h *CheckoutHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.session.User()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_authenticated", "sign in before checking out", http.StatusUnauthorized))
		return
	}

	var payload struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	// Push pending cart state so the server replica matches what is ordered.
	// A failed push does not block checkout; the order carries the items.
	if err := h.syncer.Flush(ctx); err != nil {
		h.logger.Warn("cart flush before checkout failed", zap.Error(err))
	}

	snap, err := h.store.Snapshot(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if len(snap.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cannot check out an empty cart", http.StatusConflict))
		return
	}

	var (
		paymentID string
		session   payments.PaymentSession
	)
	if h.provider != nil {
		paymentID = h.newPaymentID()
		session, err = h.provider.CreatePayment(ctx, payments.CreatePaymentRequest{
			MerchantPaymentID: paymentID,
			Amount:            snap.CartTotal,
			OrderDescription:  fmt.Sprintf("Table %s order", user.TableNumber),
			RedirectURL:       payload.RedirectURL,
			UserAgent:         r.UserAgent(),
		})
		if err != nil {
			h.logger.Error("payment creation failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("payment_create_failed", "payment could not be created", http.StatusBadGateway))
			return
		}
	}

	order, err := h.backend.CreateOrder(ctx, backend.CreateOrderInput{
		TableNumber: user.TableNumber,
		Items:       snap.Items,
		Total:       snap.CartTotal,
		PaymentID:   paymentID,
	})
	if err != nil {
		if h.provider != nil {
			if cancelErr := h.provider.CancelPayment(ctx, paymentID); cancelErr != nil {
				h.logger.Warn("orphaned payment cancel failed",
					zap.String("merchant_payment_id", paymentID),
					zap.Error(cancelErr))
			}
		}
		writeBackendError(ctx, w, err)
		return
	}

	resp := checkoutResponse{Order: orderResponseFrom(order)}
	if h.provider != nil {
		resp.Payment = &paymentSessionResponse{
			MerchantPaymentID: session.MerchantPaymentID,
			URL:               session.URL,
			Deeplink:          session.Deeplink,
			ExpiresAt:         session.ExpiresAt,
		}
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

// confirmPayment blocks until the payment settles, then reconciles the cart.
// Completion clears both the local cart and the server replica.
func (h *CheckoutHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.waiter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_disabled", "payments are not configured", http.StatusConflict))
		return
	}
	paymentID := chi.URLParam(r, "merchantPaymentId")

	details, err := h.waiter.Wait(ctx, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrPollTimeout):
			httpx.WriteError(ctx, w, httpx.NewError("payment_pending", "payment did not settle in time", http.StatusGatewayTimeout))
		case errors.Is(err, context.Canceled):
			httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "confirmation aborted", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("payment_status_unavailable", "payment status could not be determined", http.StatusBadGateway))
		}
		return
	}

	if details.Status == payments.StatusCompleted {
		if _, err := h.store.Dispatch(ctx, cart.Clear{}); err != nil {
			h.logger.Warn("clearing cart after payment failed", zap.Error(err))
		}
		if err := h.backend.ClearCart(ctx); err != nil {
			h.logger.Warn("clearing server cart after payment failed", zap.Error(err))
		}
	}

	writeJSONResponse(w, http.StatusOK, paymentDetailsResponse{
		MerchantPaymentID: details.MerchantPaymentID,
		Status:            string(details.Status),
		Amount:            details.Amount,
		AcceptedAt:        details.AcceptedAt,
	})
}

func (h *CheckoutHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.provider == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_disabled", "payments are not configured", http.StatusConflict))
		return
	}
	paymentID := chi.URLParam(r, "merchantPaymentId")

	if err := h.provider.CancelPayment(ctx, paymentID); err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "no payment with this id", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_cancel_failed", "payment could not be canceled", http.StatusBadGateway))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"merchantPaymentId": paymentID,
		"status":            "canceled",
	})
}

type checkoutResponse struct {
	Order   orderResponse           `json:"order"`
	Payment *paymentSessionResponse `json:"payment,omitempty"`
}

type paymentSessionResponse struct {
	MerchantPaymentID string    `json:"merchantPaymentId"`
	URL               string    `json:"url"`
	Deeplink          string    `json:"deeplink,omitempty"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type paymentDetailsResponse struct {
	MerchantPaymentID string    `json:"merchantPaymentId"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	AcceptedAt        time.Time `json:"acceptedAt,omitempty"`
}
