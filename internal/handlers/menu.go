package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chumon-app/kiosk/internal/domain"
)

// MenuBackend is the read-only menu surface proxied to customers.
type MenuBackend interface {
	MenuItems(ctx context.Context, category string) ([]domain.MenuItem, error)
	Categories(ctx context.Context) ([]domain.Category, error)
}

// MenuHandlers proxies menu browsing to the backend.
type MenuHandlers struct {
	backend MenuBackend
}

// NewMenuHandlers constructs the menu handlers.
func NewMenuHandlers(backend MenuBackend) (*MenuHandlers, error) {
	if backend == nil {
		return nil, errors.New("handlers: menu backend is required")
	}
	return &MenuHandlers{backend: backend}, nil
}

// Routes registers the menu endpoints.
func (h *MenuHandlers) Routes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/categories", h.listCategories)
}

func (h *MenuHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.backend.MenuItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	out := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, menuItemResponseFrom(item))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": out})
}

func (h *MenuHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.backend.Categories(r.Context())
	if err != nil {
		writeBackendError(r.Context(), w, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, cat := range categories {
		out = append(out, categoryResponse{
			ID:        cat.ID,
			Name:      cat.Name,
			SortOrder: cat.SortOrder,
			Active:    cat.Active,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"categories": out})
}

type menuItemResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Available   bool   `json:"available"`
	IsAddon     bool   `json:"isAddon"`
}

type categoryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
	Active    bool   `json:"active"`
}

func menuItemResponseFrom(item domain.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		Price:       item.Price,
		ImageURL:    item.ImageURL,
		Category:    item.Category,
		Subcategory: item.Subcategory,
		Available:   item.Available,
		IsAddon:     item.IsAddon,
	}
}
