package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chumon-app/kiosk/internal/cart"
)

type memSnapshotWriter struct{}

func (memSnapshotWriter) Write(key, value string) error { return nil }

type cartStateBody struct {
	Items []struct {
		CartItemID string `json:"cartItemId"`
		ProductID  string `json:"productId"`
		Quantity   int64  `json:"quantity"`
		LineTotal  int64  `json:"lineTotal"`
		Addons     []struct {
			ProductID string `json:"productId"`
			Quantity  int64  `json:"quantity"`
			LineTotal int64  `json:"lineTotal"`
		} `json:"addons"`
	} `json:"items"`
	CartTotal int64 `json:"cartTotal"`
}

func newCartTestServer(t *testing.T) (*httptest.Server, *cart.Store) {
	t.Helper()
	var seq int
	store, err := cart.NewStore(cart.StoreDeps{
		Local: memSnapshotWriter{},
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("cart-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Start()
	t.Cleanup(store.Close)

	handlers, err := NewCartHandlers(store, nil)
	if err != nil {
		t.Fatalf("NewCartHandlers: %v", err)
	}
	server := httptest.NewServer(NewRouter(WithCartRoutes(handlers.Routes)))
	t.Cleanup(server.Close)
	return server, store
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return resp, data
}

func decodeCartState(t *testing.T, data []byte) cartStateBody {
	t.Helper()
	var body cartStateBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding cart state: %v\n%s", err, data)
	}
	return body
}

func TestCartAddItemComputesLineTotal(t *testing.T) {
	server, _ := newCartTestServer(t)

	resp, data := doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"productId":"p-ramen","name":"Ramen","unitPrice":900,"quantity":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if len(state.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(state.Items))
	}
	if state.Items[0].CartItemID == "" {
		t.Error("expected generated cart item id")
	}
	if state.Items[0].LineTotal != 1800 {
		t.Errorf("line total = %d, want 1800", state.Items[0].LineTotal)
	}
	if state.CartTotal != 1800 {
		t.Errorf("cart total = %d, want 1800", state.CartTotal)
	}
}

func TestCartReAddMergesQuantities(t *testing.T) {
	server, _ := newCartTestServer(t)

	payload := `{"cartItemId":"line-1","productId":"p-gyoza","unitPrice":400,"quantity":1}`
	doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items", payload)
	resp, data := doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if len(state.Items) != 1 {
		t.Fatalf("items = %d, want merged single entry", len(state.Items))
	}
	if state.Items[0].Quantity != 2 {
		t.Errorf("quantity = %d, want 2", state.Items[0].Quantity)
	}
	if state.CartTotal != 800 {
		t.Errorf("cart total = %d, want 800", state.CartTotal)
	}
}

func TestCartQuantityBelowOneRemovesItem(t *testing.T) {
	server, _ := newCartTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"cartItemId":"line-1","productId":"p-beer","unitPrice":600,"quantity":1}`)
	resp, data := doJSON(t, http.MethodPatch, server.URL+"/api/v1/cart/items/line-1",
		`{"quantity":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if len(state.Items) != 0 {
		t.Errorf("items = %d, want empty cart", len(state.Items))
	}
	if state.CartTotal != 0 {
		t.Errorf("cart total = %d, want 0", state.CartTotal)
	}
}

func TestCartAddonLifecycle(t *testing.T) {
	server, _ := newCartTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"cartItemId":"line-1","productId":"p-ramen","unitPrice":900,"quantity":1}`)
	resp, data := doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items/line-1/addons",
		`{"productId":"p-egg","name":"Egg","unitPrice":100,"quantity":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add addon status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if state.CartTotal != 1000 {
		t.Fatalf("cart total after addon = %d, want 1000", state.CartTotal)
	}

	_, data = doJSON(t, http.MethodPatch, server.URL+"/api/v1/cart/items/line-1/addons/p-egg",
		`{"quantity":3}`)
	state = decodeCartState(t, data)
	if len(state.Items[0].Addons) != 1 || state.Items[0].Addons[0].LineTotal != 300 {
		t.Fatalf("addon state after update = %+v", state.Items[0].Addons)
	}
	if state.CartTotal != 1200 {
		t.Errorf("cart total = %d, want 1200", state.CartTotal)
	}

	_, data = doJSON(t, http.MethodDelete, server.URL+"/api/v1/cart/items/line-1/addons/p-egg", "")
	state = decodeCartState(t, data)
	if len(state.Items[0].Addons) != 0 {
		t.Errorf("addons = %d, want removed", len(state.Items[0].Addons))
	}
	if state.CartTotal != 900 {
		t.Errorf("cart total = %d, want 900", state.CartTotal)
	}
}

func TestCartUnknownIDsAreNoOps(t *testing.T) {
	server, _ := newCartTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"cartItemId":"line-1","productId":"p-ramen","unitPrice":900,"quantity":1}`)
	resp, data := doJSON(t, http.MethodDelete, server.URL+"/api/v1/cart/items/no-such-line", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if len(state.Items) != 1 {
		t.Errorf("items = %d, unknown id must not change the cart", len(state.Items))
	}
}

func TestCartRejectsInvalidItem(t *testing.T) {
	server, _ := newCartTestServer(t)

	resp, data := doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"name":"nameless","unitPrice":100,"quantity":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Code string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Code != "invalid_request" {
		t.Errorf("error code = %q", envelope.Code)
	}
}

func TestCartClear(t *testing.T) {
	server, _ := newCartTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/cart/items",
		`{"productId":"p-ramen","unitPrice":900,"quantity":2}`)
	resp, data := doJSON(t, http.MethodDelete, server.URL+"/api/v1/cart", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	state := decodeCartState(t, data)
	if len(state.Items) != 0 || state.CartTotal != 0 {
		t.Errorf("cart not empty after clear: %+v", state)
	}
}

func TestCartClosedStoreReturnsServiceUnavailable(t *testing.T) {
	server, store := newCartTestServer(t)

	store.Close()
	resp, data := doJSON(t, http.MethodGet, server.URL+"/api/v1/cart", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Code string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Code != "cart_unavailable" {
		t.Errorf("error code = %q", envelope.Code)
	}
}
