// Package backend is the typed HTTP client for the restaurant platform API.
// The kiosk is a pure consumer: menu, cart snapshot, orders, tables, and auth
// all live on the backend; this package only shapes requests and decodes the
// canonical error envelope.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/chumon-app/kiosk/internal/backend")

// HTTPClient matches the subset of http.Client the backend client uses.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies the current session token, or "" when the session is
// unauthenticated.
type TokenSource interface {
	Token() string
}

// APIError is the backend's JSON error envelope.
type APIError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("backend: status %d", e.Status)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is a backend 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Client talks to the platform backend.
type Client struct {
	base   *url.URL
	client HTTPClient
	tokens TokenSource
}

type staticToken string

func (t staticToken) Token() string { return string(t) }

// NewClient constructs a backend client. tokens may be nil for a client that
// only calls public endpoints.
func NewClient(baseURL string, client HTTPClient, tokens TokenSource) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("backend: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if tokens == nil {
		tokens = staticToken("")
	}
	return &Client{base: parsed, client: client, tokens: tokens}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	return c.newRequestWithToken(ctx, method, path, query, nil, c.tokens.Token())
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: encode request body: %w", err)
	}
	return c.newRequestWithToken(ctx, method, path, nil, payload, c.tokens.Token())
}

func (c *Client) newRequestWithToken(ctx context.Context, method, path string, query url.Values, body []byte, token string) (*http.Request, error) {
	target := *c.base
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx, span := tracer.Start(req.Context(), "backend."+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("backend: %s %s: %w", req.Method, req.URL.Path, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// errorFromResponse drains the body and decodes the error envelope, falling
// back to the bare status code when the body is not the canonical shape.
func (c *Client) errorFromResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))

	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unexpected_response"
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	return apiErr
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	resp.Body.Close()
}
