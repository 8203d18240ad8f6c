package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
)

type orderPayload struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	TableNumber string          `json:"tableNumber"`
	Status      string          `json:"status"`
	Items       json.RawMessage `json:"items"`
	Total       int64           `json:"total"`
	PaymentID   string          `json:"paymentId"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CreateOrderInput is the payload for placing an order from the cart.
type CreateOrderInput struct {
	TableNumber string
	Items       []domain.CartLine
	Total       int64
	PaymentID   string
}

// CreateOrder places an order for the authenticated user.
func (c *Client) CreateOrder(ctx context.Context, input CreateOrderInput) (domain.Order, error) {
	encoded, err := cart.EncodeItems(input.Items)
	if err != nil {
		return domain.Order{}, err
	}
	body := map[string]any{
		"tableNumber": input.TableNumber,
		"items":       json.RawMessage(encoded),
		"total":       input.Total,
	}
	if input.PaymentID != "" {
		body["paymentId"] = input.PaymentID
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return domain.Order{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return domain.Order{}, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return domain.Order{}, c.errorFromResponse(resp)
	}
	var payload orderPayload
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.Order{}, err
	}
	return orderFromPayload(payload)
}

// ListOrdersQuery filters the back-office order board.
type ListOrdersQuery struct {
	Status string
	From   time.Time
	To     time.Time
}

// Orders lists orders for the back office.
func (c *Client) Orders(ctx context.Context, q ListOrdersQuery) ([]domain.Order, error) {
	query := url.Values{}
	if s := strings.TrimSpace(q.Status); s != "" {
		query.Set("status", s)
	}
	if !q.From.IsZero() {
		query.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		query.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	return c.orderList(ctx, "/admin/orders", query)
}

// OrderHistory lists the authenticated user's past orders.
func (c *Client) OrderHistory(ctx context.Context) ([]domain.Order, error) {
	return c.orderList(ctx, "/me/orders", nil)
}

// UpdateOrderStatus transitions an order on the back-office board.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	body := map[string]string{"status": string(status)}
	req, err := c.newJSONRequest(ctx, http.MethodPatch, "/admin/orders/"+url.PathEscape(id)+"/status", body)
	if err != nil {
		return domain.Order{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return domain.Order{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Order{}, c.errorFromResponse(resp)
	}
	var payload orderPayload
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.Order{}, err
	}
	return orderFromPayload(payload)
}

func (c *Client) orderList(ctx context.Context, path string, query url.Values) ([]domain.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}
	var payload struct {
		Orders []orderPayload `json:"orders"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(payload.Orders))
	for _, p := range payload.Orders {
		order, err := orderFromPayload(p)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func orderFromPayload(p orderPayload) (domain.Order, error) {
	order := domain.Order{
		ID:          p.ID,
		OrderNumber: p.OrderNumber,
		UserID:      p.UserID,
		TableNumber: p.TableNumber,
		Status:      domain.OrderStatus(p.Status),
		Total:       p.Total,
		PaymentID:   p.PaymentID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if len(p.Items) > 0 {
		items, err := cart.DecodeItems(p.Items)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = items
	}
	return order, nil
}
