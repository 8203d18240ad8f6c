package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/domain"
	"github.com/chumon-app/kiosk/internal/platform/httpx"
	"github.com/chumon-app/kiosk/internal/reports"
)

const reportDateLayout = "2006-01-02"

// AdminBackend is the back-office surface proxied to staff.
type AdminBackend interface {
	Orders(ctx context.Context, q backend.ListOrdersQuery) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error)
	Tables(ctx context.Context) ([]domain.Table, error)
	UpdateTableState(ctx context.Context, id string, state domain.TableState) (domain.Table, error)
	CreateMenuItem(ctx context.Context, input backend.MenuItemInput) (domain.MenuItem, error)
	UpdateMenuItem(ctx context.Context, id string, input backend.MenuItemInput) (domain.MenuItem, error)
	DeleteMenuItem(ctx context.Context, id string) error
	CreateCategory(ctx context.Context, input backend.CategoryInput) (domain.Category, error)
	UpdateCategory(ctx context.Context, id string, input backend.CategoryInput) (domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

// ReportWriter renders a sales report for a date range.
type ReportWriter interface {
	WriteCSV(ctx context.Context, w io.Writer, from, to time.Time) error
}

// AdminHandlers exposes the back-office board: orders, tables, menu
// management, and sales exports. Staff access is enforced here; everything
// else is proxied to the backend.
type AdminHandlers struct {
	backend  AdminBackend
	session  SessionService
	exporter ReportWriter
	logger   *zap.Logger
}

// NewAdminHandlers constructs the back-office handlers.
func NewAdminHandlers(backend AdminBackend, session SessionService, exporter ReportWriter, logger *zap.Logger) (*AdminHandlers, error) {
	if backend == nil {
		return nil, errors.New("handlers: admin backend is required")
	}
	if session == nil {
		return nil, errors.New("handlers: session service is required")
	}
	if exporter == nil {
		return nil, errors.New("handlers: report exporter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandlers{backend: backend, session: session, exporter: exporter, logger: logger}, nil
}

// Routes registers the back-office endpoints behind the staff gate.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Use(h.requireStaff)

	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{orderId}/status", h.updateOrderStatus)

	r.Get("/tables", h.listTables)
	r.Patch("/tables/{tableId}", h.updateTableState)

	r.Post("/menu/items", h.createMenuItem)
	r.Put("/menu/items/{itemId}", h.updateMenuItem)
	r.Delete("/menu/items/{itemId}", h.deleteMenuItem)

	r.Post("/menu/categories", h.createCategory)
	r.Put("/menu/categories/{categoryId}", h.updateCategory)
	r.Delete("/menu/categories/{categoryId}", h.deleteCategory)

	r.Get("/reports/sales.csv", h.salesReport)
}

func (h *AdminHandlers) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.session.User()
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("not_authenticated", "sign in to access the back office", http.StatusUnauthorized))
			return
		}
		if user.Role != "admin" && user.Role != "staff" {
			httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "back office requires a staff account", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	query := backend.ListOrdersQuery{Status: r.URL.Query().Get("status")}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "from must be RFC 3339", http.StatusBadRequest))
			return
		}
		query.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "to must be RFC 3339", http.StatusBadRequest))
			return
		}
		query.To = t
	}

	orders, err := h.backend.Orders(r.Context(), query)
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

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	status := domain.OrderStatus(strings.TrimSpace(payload.Status))
	if !validOrderStatus(status) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", payload.Status), http.StatusBadRequest))
		return
	}

	order, err := h.backend.UpdateOrderStatus(r.Context(), chi.URLParam(r, "orderId"), status)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponseFrom(order))
}

func (h *AdminHandlers) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.backend.Tables(r.Context())
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	out := make([]tableResponse, 0, len(tables))
	for _, table := range tables {
		out = append(out, tableResponseFrom(table))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tables": out})
}

func (h *AdminHandlers) updateTableState(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		State string `json:"state"`
	}
	if err := decodeBody(r, defaultBodyLimit, &payload); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	state := domain.TableState(strings.TrimSpace(payload.State))
	if !validTableState(state) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("unknown table state %q", payload.State), http.StatusBadRequest))
		return
	}

	table, err := h.backend.UpdateTableState(r.Context(), chi.URLParam(r, "tableId"), state)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, tableResponseFrom(table))
}

func (h *AdminHandlers) createMenuItem(w http.ResponseWriter, r *http.Request) {
	var input backend.MenuItemInput
	if err := decodeBody(r, defaultBodyLimit, &input); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if err := validateMenuItemInput(input); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	item, err := h.backend.CreateMenuItem(r.Context(), input)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, menuItemResponseFrom(item))
}

func (h *AdminHandlers) updateMenuItem(w http.ResponseWriter, r *http.Request) {
	var input backend.MenuItemInput
	if err := decodeBody(r, defaultBodyLimit, &input); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if err := validateMenuItemInput(input); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	item, err := h.backend.UpdateMenuItem(r.Context(), chi.URLParam(r, "itemId"), input)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, menuItemResponseFrom(item))
}

func (h *AdminHandlers) deleteMenuItem(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteMenuItem(r.Context(), chi.URLParam(r, "itemId")); err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	var input backend.CategoryInput
	if err := decodeBody(r, defaultBodyLimit, &input); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if strings.TrimSpace(input.Name) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "name is required", http.StatusBadRequest))
		return
	}
	cat, err := h.backend.CreateCategory(r.Context(), input)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, categoryResponse{ID: cat.ID, Name: cat.Name, SortOrder: cat.SortOrder, Active: cat.Active})
}

func (h *AdminHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	var input backend.CategoryInput
	if err := decodeBody(r, defaultBodyLimit, &input); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if strings.TrimSpace(input.Name) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "name is required", http.StatusBadRequest))
		return
	}
	cat, err := h.backend.UpdateCategory(r.Context(), chi.URLParam(r, "categoryId"), input)
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, categoryResponse{ID: cat.ID, Name: cat.Name, SortOrder: cat.SortOrder, Active: cat.Active})
}

func (h *AdminHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteCategory(r.Context(), chi.URLParam(r, "categoryId")); err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// salesReport streams the aggregated sales CSV. The range defaults to the
// last 30 days when unspecified.
func (h *AdminHandlers) salesReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(reportDateLayout, v)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "from must be YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(reportDateLayout, v)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "to must be YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		to = t
	}
	if to.Before(from) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "to must not precede from", http.StatusBadRequest))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reports.Filename(from, to)))
	if err := h.exporter.WriteCSV(r.Context(), w, from, to); err != nil {
		// Headers may already be out; log instead of switching to the error
		// envelope mid-stream.
		h.logger.Error("sales report export failed", zap.Error(err))
	}
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusPreparing,
		domain.OrderStatusServed, domain.OrderStatusCompleted, domain.OrderStatusCanceled:
		return true
	}
	return false
}

func validTableState(state domain.TableState) bool {
	switch state {
	case domain.TableStateVacant, domain.TableStateOccupied, domain.TableStateBilling, domain.TableStateCleaning:
		return true
	}
	return false
}

func validateMenuItemInput(input backend.MenuItemInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return errors.New("name is required")
	}
	if input.Price < 0 {
		return errors.New("price must not be negative")
	}
	if strings.TrimSpace(input.Category) == "" {
		return errors.New("category is required")
	}
	return nil
}

type tableResponse struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Seats       int       `json:"seats"`
	State       string    `json:"state"`
	ActiveOrder string    `json:"activeOrder,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func tableResponseFrom(table domain.Table) tableResponse {
	return tableResponse{
		ID:          table.ID,
		Number:      table.Number,
		Seats:       table.Seats,
		State:       string(table.State),
		ActiveOrder: table.ActiveOrder,
		UpdatedAt:   table.UpdatedAt,
	}
}
