package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	lineIssuer     = "https://access.line.me"
	defaultJWKSURL = "https://api.line.me/oauth2/v2.1/certs"
	defaultJWKSTTL = 15 * time.Minute
	jwksFetchLimit = 10 * time.Second
)

var (
	// ErrIDTokenInvalid is returned when a LINE ID token fails verification.
	ErrIDTokenInvalid = errors.New("auth: id token invalid")
	// ErrJWKSUnavailable wraps transport or decoding failures while fetching
	// the LINE key set.
	ErrJWKSUnavailable = errors.New("auth: jwks unavailable")
	// ErrKeyNotFound is returned when the token's key id is absent from the
	// key set even after a refresh.
	ErrKeyNotFound = errors.New("auth: jwks key not found")
)

// LineProfile is the identity asserted by a verified LINE ID token.
type LineProfile struct {
	UserID      string
	DisplayName string
	PictureURL  string
}

// LineVerifier validates LINE Login ID tokens against the LINE JWKS endpoint.
// Verification happens locally; only key fetches hit the network.
type LineVerifier struct {
	channelID string
	jwks      *jwksCache
}

// LineOption customises the verifier.
type LineOption func(*LineVerifier)

// WithLineHTTPClient overrides the HTTP client used for JWKS fetches.
func WithLineHTTPClient(client *http.Client) LineOption {
	return func(v *LineVerifier) {
		if client != nil {
			v.jwks.client = client
		}
	}
}

// WithLineJWKSURL overrides the key set endpoint, mainly for tests.
func WithLineJWKSURL(url string) LineOption {
	return func(v *LineVerifier) {
		if url != "" {
			v.jwks.url = url
		}
	}
}

// WithLineClock injects a custom time source for key cache expiry.
func WithLineClock(now func() time.Time) LineOption {
	return func(v *LineVerifier) {
		if now != nil {
			v.jwks.now = now
		}
	}
}

// NewLineVerifier constructs a verifier for the given LINE channel.
func NewLineVerifier(channelID string, opts ...LineOption) (*LineVerifier, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, errors.New("auth: LINE channel id is required")
	}
	v := &LineVerifier{
		channelID: channelID,
		jwks: &jwksCache{
			url:    defaultJWKSURL,
			client: &http.Client{Timeout: jwksFetchLimit},
			ttl:    defaultJWKSTTL,
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the ID token signature, issuer, audience, and expiry, and
// returns the embedded profile.
func (v *LineVerifier) Verify(ctx context.Context, idToken string) (LineProfile, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg(), jwt.SigningMethodRS256.Alg()}),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(idToken, claims, v.keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSUnavailable) {
			return LineProfile{}, err
		}
		return LineProfile{}, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	if !claims.VerifyIssuer(lineIssuer, true) {
		return LineProfile{}, fmt.Errorf("%w: issuer mismatch", ErrIDTokenInvalid)
	}
	if !claims.VerifyAudience(v.channelID, true) {
		return LineProfile{}, fmt.Errorf("%w: audience mismatch", ErrIDTokenInvalid)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return LineProfile{}, fmt.Errorf("%w: missing subject", ErrIDTokenInvalid)
	}
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	return LineProfile{UserID: sub, DisplayName: name, PictureURL: picture}, nil
}

func (v *LineVerifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return v.jwks.key(ctx, kid)
	}
}

// jwksCache fetches and caches the LINE key set, refreshing on expiry or on a
// key miss so rotated keys are picked up without restarts.
type jwksCache struct {
	url    string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

func (c *jwksCache) key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (c *jwksCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *jwksCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode key set: %v", ErrJWKSUnavailable, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSUnavailable)
	}

	c.keys = keys
	c.expiry = c.now().Add(c.ttl)
	return nil
}
