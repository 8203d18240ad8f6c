package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/chumon-app/kiosk/internal/domain"
)

const reportDateLayout = "2006-01-02"

type salesRowPayload struct {
	Date       string `json:"date"`
	OrderCount int    `json:"orderCount"`
	ItemCount  int    `json:"itemCount"`
	GrossSales int64  `json:"grossSales"`
}

// SalesReport fetches per-day sales aggregates for the given range. Both
// bounds are inclusive and interpreted by the backend in restaurant-local
// time.
func (c *Client) SalesReport(ctx context.Context, from, to time.Time) ([]domain.SalesRow, error) {
	query := url.Values{}
	if !from.IsZero() {
		query.Set("from", from.Format(reportDateLayout))
	}
	if !to.IsZero() {
		query.Set("to", to.Format(reportDateLayout))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/reports/sales", query)
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
		Rows []salesRowPayload `json:"rows"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	rows := make([]domain.SalesRow, 0, len(payload.Rows))
	for _, p := range payload.Rows {
		date, err := time.Parse(reportDateLayout, p.Date)
		if err != nil {
			return nil, &APIError{Code: "unexpected_response", Message: "bad report date " + p.Date, Status: resp.StatusCode}
		}
		rows = append(rows, domain.SalesRow{
			Date:       date,
			OrderCount: p.OrderCount,
			ItemCount:  p.ItemCount,
			GrossSales: p.GrossSales,
		})
	}
	return rows, nil
}
