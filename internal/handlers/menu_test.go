package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/domain"
)

type stubMenuBackend struct {
	items        []domain.MenuItem
	categories   []domain.Category
	lastCategory string
	err          error
}

func (b *stubMenuBackend) MenuItems(_ context.Context, category string) ([]domain.MenuItem, error) {
	b.lastCategory = category
	if b.err != nil {
		return nil, b.err
	}
	return b.items, nil
}

func (b *stubMenuBackend) Categories(context.Context) ([]domain.Category, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.categories, nil
}

func newMenuTestServer(t *testing.T, stub *stubMenuBackend) *httptest.Server {
	t.Helper()
	handlers, err := NewMenuHandlers(stub)
	if err != nil {
		t.Fatalf("NewMenuHandlers: %v", err)
	}
	server := httptest.NewServer(NewRouter(WithMenuRoutes(handlers.Routes)))
	t.Cleanup(server.Close)
	return server
}

func TestMenuItemsPassCategoryFilter(t *testing.T) {
	stub := &stubMenuBackend{items: []domain.MenuItem{
		{ID: "p-1", Name: "Ramen", Price: 900, Category: "noodles", Available: true},
	}}
	server := newMenuTestServer(t, stub)

	resp, data := doJSON(t, http.MethodGet, server.URL+"/api/v1/menu/items?category=noodles", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if stub.lastCategory != "noodles" {
		t.Errorf("category filter = %q", stub.lastCategory)
	}
	var body struct {
		Items []menuItemResponse `json:"items"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "Ramen" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestMenuCategoriesListed(t *testing.T) {
	stub := &stubMenuBackend{categories: []domain.Category{
		{ID: "c-1", Name: "Noodles", SortOrder: 1, Active: true},
		{ID: "c-2", Name: "Drinks", SortOrder: 2, Active: true},
	}}
	server := newMenuTestServer(t, stub)

	resp, data := doJSON(t, http.MethodGet, server.URL+"/api/v1/menu/categories", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var body struct {
		Categories []categoryResponse `json:"categories"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Categories) != 2 || body.Categories[1].Name != "Drinks" {
		t.Errorf("categories = %+v", body.Categories)
	}
}

func TestMenuBackendErrorPassesThrough(t *testing.T) {
	stub := &stubMenuBackend{
		err: &backend.APIError{Code: "menu_unavailable", Message: "menu offline", Status: http.StatusServiceUnavailable},
	}
	server := newMenuTestServer(t, stub)

	resp, data := doJSON(t, http.MethodGet, server.URL+"/api/v1/menu/items", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Code    string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Code != "menu_unavailable" || envelope.Message != "menu offline" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	server := newMenuTestServer(t, &stubMenuBackend{})

	resp, data := doJSON(t, http.MethodGet, server.URL+"/api/v1/menu/specials", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Code string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Code != "route_not_found" {
		t.Errorf("error code = %q", envelope.Code)
	}
}
