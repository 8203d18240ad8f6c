package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/domain"
)

type cartEnvelope struct {
	Items json.RawMessage `json:"items"`
}

// FetchCart retrieves the authenticated user's server-side cart snapshot. A
// missing cart reads as empty, not as an error.
func (c *Client) FetchCart(ctx context.Context) ([]domain.CartLine, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/me/cart", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drain(resp)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var envelope cartEnvelope
	if err := decodeJSON(resp, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Items) == 0 {
		return nil, nil
	}
	return cart.DecodeItems(envelope.Items)
}

// PushCart overwrites the server-side cart snapshot with the full item list.
func (c *Client) PushCart(ctx context.Context, items []domain.CartLine) error {
	encoded, err := cart.EncodeItems(items)
	if err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/me/cart", cartEnvelope{Items: encoded})
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	drain(resp)
	return nil
}

// ClearCart deletes the server-side cart snapshot, used after order
// completion.
func (c *Client) ClearCart(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/me/cart", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return c.errorFromResponse(resp)
	}
	drain(resp)
	return nil
}
