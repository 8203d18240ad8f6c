package backend

import (
	"context"
	"net/http"

	"github.com/chumon-app/kiosk/internal/domain"
)

type userPayload struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
	Role        string `json:"role"`
	LineUserID  string `json:"lineUserId"`
	TableNumber string `json:"tableNumber"`
}

// LoginResult is the session issued by the backend after authentication.
type LoginResult struct {
	Token string
	User  domain.User
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

// LiffLoginInput carries the LINE profile exchanged for a backend session.
type LiffLoginInput struct {
	LineUserID  string `json:"lineUserId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
	TableNumber string `json:"tableNumber,omitempty"`
}

// LiffLogin exchanges a verified LINE profile for a backend session token.
func (c *Client) LiffLogin(ctx context.Context, input LiffLoginInput) (LoginResult, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/liff-login", input)
	if err != nil {
		return LoginResult{}, err
	}
	return c.loginResponse(req)
}

// Login authenticates staff with user id and password.
func (c *Client) Login(ctx context.Context, userID, password string) (LoginResult, error) {
	body := map[string]string{"userId": userID, "password": password}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return LoginResult{}, err
	}
	return c.loginResponse(req)
}

// VerifyToken checks a persisted session token and returns the user it
// belongs to.
func (c *Client) VerifyToken(ctx context.Context, token string) (domain.User, error) {
	req, err := c.newRequestWithToken(ctx, http.MethodGet, "/auth/verify", nil, nil, token)
	if err != nil {
		return domain.User{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return domain.User{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.User{}, c.errorFromResponse(resp)
	}
	var payload struct {
		Valid bool        `json:"valid"`
		User  userPayload `json:"user"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.User{}, err
	}
	if !payload.Valid {
		return domain.User{}, &APIError{Code: "invalid_token", Message: "token is not valid", Status: http.StatusUnauthorized}
	}
	return userFromPayload(payload.User), nil
}

func (c *Client) loginResponse(req *http.Request) (LoginResult, error) {
	resp, err := c.do(req)
	if err != nil {
		return LoginResult{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return LoginResult{}, c.errorFromResponse(resp)
	}
	var payload loginResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: payload.Token, User: userFromPayload(payload.User)}, nil
}

func userFromPayload(p userPayload) domain.User {
	return domain.User{
		ID:          p.ID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		PictureURL:  p.PictureURL,
		Role:        p.Role,
		LineUserID:  p.LineUserID,
		TableNumber: p.TableNumber,
	}
}
