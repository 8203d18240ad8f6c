package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chumon-app/kiosk/internal/domain"
)

type fixedToken string

func (t fixedToken) Token() string { return string(t) }

func newTestClient(t *testing.T, handler http.Handler, token string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client(), fixedToken(token))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClientAttachesBearerToken(t *testing.T) {
	var got string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	}), "tok-123")

	if _, err := client.FetchCart(context.Background()); err != nil {
		t.Fatalf("FetchCart: %v", err)
	}
	if got != "Bearer tok-123" {
		t.Fatalf("Authorization = %q, want bearer token", got)
	}
}

func TestClientOmitsAuthorizationWhenUnauthenticated(t *testing.T) {
	var got string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"items":[]}`))
	}), "")

	if _, err := client.MenuItems(context.Background(), ""); err != nil {
		t.Fatalf("MenuItems: %v", err)
	}
	if got != "" {
		t.Fatalf("Authorization = %q, want empty", got)
	}
}

func TestFetchCartMissingReadsAsEmpty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}), "tok")

	items, err := client.FetchCart(context.Background())
	if err != nil {
		t.Fatalf("FetchCart: %v", err)
	}
	if items != nil {
		t.Fatalf("items = %v, want nil", items)
	}
}

func TestFetchCartDecodesLines(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/me/cart" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"cartItemId":"ci-1","productId":"p-1","name":"Ramen","unitPrice":900,"quantity":2,"lineTotal":1800,"available":true,"addons":[]}]}`))
	}), "tok")

	items, err := client.FetchCart(context.Background())
	if err != nil {
		t.Fatalf("FetchCart: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].CartItemID != "ci-1" || items[0].LineTotal != 1800 {
		t.Fatalf("unexpected line %+v", items[0])
	}
}

func TestPushCartSendsFullSnapshot(t *testing.T) {
	var body struct {
		Items []struct {
			CartItemID string `json:"cartItemId"`
			Quantity   int64  `json:"quantity"`
		} `json:"items"`
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/me/cart" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}), "tok")

	err := client.PushCart(context.Background(), []domain.CartLine{
		{CartItemID: "ci-1", ProductID: "p-1", UnitPrice: 500, Quantity: 3, LineTotal: 1500},
	})
	if err != nil {
		t.Fatalf("PushCart: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].CartItemID != "ci-1" || body.Items[0].Quantity != 3 {
		t.Fatalf("unexpected push payload %+v", body.Items)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token","message":"session expired","status":401}`))
	}), "tok")

	_, err := client.OrderHistory(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != "invalid_token" || !IsUnauthorized(err) {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestErrorEnvelopeFallsBackOnGarbage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}), "tok")

	_, err := client.Tables(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != "unexpected_response" || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestMenuItemsSanitisesDescriptions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"p-1","name":"Gyoza","description":"<b>crispy</b><script>alert(1)</script>","price":450,"available":true}]}`))
	}), "")

	items, err := client.MenuItems(context.Background(), "")
	if err != nil {
		t.Fatalf("MenuItems: %v", err)
	}
	if items[0].Description != "<b>crispy</b>" {
		t.Fatalf("description = %q, want script stripped", items[0].Description)
	}
}

func TestMenuItemsFilterByCategory(t *testing.T) {
	var gotCategory string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCategory = r.URL.Query().Get("category")
		w.Write([]byte(`{"items":[]}`))
	}), "")

	if _, err := client.MenuItems(context.Background(), "noodles"); err != nil {
		t.Fatalf("MenuItems: %v", err)
	}
	if gotCategory != "noodles" {
		t.Fatalf("category = %q, want noodles", gotCategory)
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		if _, ok := body["paymentId"]; ok {
			t.Error("paymentId should be omitted when empty")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"o-1","orderNumber":"A-042","tableNumber":"7","status":"pending","items":[{"cartItemId":"ci-1","productId":"p-1","name":"Ramen","unitPrice":900,"quantity":1,"lineTotal":900,"available":true,"addons":[]}],"total":900,"createdAt":"2026-08-30T12:00:00Z","updatedAt":"2026-08-30T12:00:00Z"}`))
	}), "tok")

	order, err := client.CreateOrder(context.Background(), CreateOrderInput{
		TableNumber: "7",
		Items:       []domain.CartLine{{CartItemID: "ci-1", ProductID: "p-1", Name: "Ramen", UnitPrice: 900, Quantity: 1, LineTotal: 900, Available: true}},
		Total:       900,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "o-1" || order.Status != domain.OrderStatusPending || len(order.Items) != 1 {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestVerifyTokenInvalid(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":false}`))
	}), "")

	_, err := client.VerifyToken(context.Background(), "stale-token")
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestSalesReportParsesDates(t *testing.T) {
	var gotFrom, gotTo string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[{"date":"2026-08-29","orderCount":12,"itemCount":31,"grossSales":45800}]}`))
	}), "tok")

	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	rows, err := client.SalesReport(context.Background(), from, to)
	if err != nil {
		t.Fatalf("SalesReport: %v", err)
	}
	if gotFrom != "2026-08-29" || gotTo != "2026-08-30" {
		t.Fatalf("range = %q..%q, want date-only bounds", gotFrom, gotTo)
	}
	if len(rows) != 1 || rows[0].GrossSales != 45800 || !rows[0].Date.Equal(from) {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
