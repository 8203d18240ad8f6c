// Package handlers exposes the kiosk's local HTTP gateway: cart mutations,
// menu browsing, login, checkout, and the back-office proxy endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/platform/httpx"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

const defaultBodyLimit = 16 * 1024

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func decodeBody(r *http.Request, limit int64, out any) error {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// writeBackendError maps an upstream failure onto the local error envelope.
// Backend envelopes pass through with their own code and status; transport
// failures surface as a bad gateway.
func writeBackendError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		httpx.WriteError(ctx, w, httpx.NewError(apiErr.Code, apiErr.Message, apiErr.Status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "backend request failed", http.StatusBadGateway))
}
