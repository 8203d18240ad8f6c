package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/chumon-app/kiosk/internal/domain"
)

type tablePayload struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Seats       int       `json:"seats"`
	State       string    `json:"state"`
	ActiveOrder string    `json:"activeOrder"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Tables fetches the table status board.
func (c *Client) Tables(ctx context.Context) ([]domain.Table, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/tables", nil)
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
		Tables []tablePayload `json:"tables"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	tables := make([]domain.Table, 0, len(payload.Tables))
	for _, p := range payload.Tables {
		tables = append(tables, tableFromPayload(p))
	}
	return tables, nil
}

// UpdateTableState transitions one table on the board.
func (c *Client) UpdateTableState(ctx context.Context, id string, state domain.TableState) (domain.Table, error) {
	body := map[string]string{"state": string(state)}
	req, err := c.newJSONRequest(ctx, http.MethodPatch, "/admin/tables/"+url.PathEscape(id), body)
	if err != nil {
		return domain.Table{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return domain.Table{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Table{}, c.errorFromResponse(resp)
	}
	var payload tablePayload
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.Table{}, err
	}
	return tableFromPayload(payload), nil
}

func tableFromPayload(p tablePayload) domain.Table {
	return domain.Table{
		ID:          p.ID,
		Number:      p.Number,
		Seats:       p.Seats,
		State:       domain.TableState(p.State),
		ActiveOrder: p.ActiveOrder,
		UpdatedAt:   p.UpdatedAt,
	}
}
