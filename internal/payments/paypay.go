package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPayPayBaseURL = "https://api.paypay.ne.jp"
	paypayRequestTimeout = 15 * time.Second
	emptyContentMarker   = "empty"
)

// PayPayConfig configures the PayPay provider.
type PayPayConfig struct {
	APIKey     string
	APISecret  string
	MerchantID string
	// BaseURL overrides the production endpoint, for sandbox and tests.
	BaseURL string
	Client  *http.Client
	Logger  *zap.Logger
	Clock   func() time.Time
	// Nonce overrides nonce generation, for deterministic signing in tests.
	Nonce func() string
}

// PayPay implements Provider against the PayPay Open Payment API. Every
// request carries an HMAC-SHA256 signature over the method, path, and body
// hash, per the OPA authentication scheme.
type PayPay struct {
	apiKey     string
	secret     []byte
	merchantID string
	base       *url.URL
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
	nonce      func() string
}

// NewPayPay constructs the provider.
func NewPayPay(cfg PayPayConfig) (*PayPay, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("paypay: api key is required")
	}
	if strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("paypay: api secret is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultPayPayBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("paypay: parse base URL: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: paypayRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	nonce := cfg.Nonce
	if nonce == nil {
		nonce = randomNonce
	}
	return &PayPay{
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.APISecret),
		merchantID: strings.TrimSpace(cfg.MerchantID),
		base:       base,
		client:     client,
		logger:     logger,
		now:        now,
		nonce:      nonce,
	}, nil
}

type paypayMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type paypayResult struct {
	ResultInfo struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"resultInfo"`
	Data json.RawMessage `json:"data"`
}

// CreatePayment creates a Web Cashier payment and returns the page the
// customer is redirected to. The merchant payment id makes the call
// idempotent on the provider side.
func (p *PayPay) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentSession, error) {
	if strings.TrimSpace(req.MerchantPaymentID) == "" {
		return PaymentSession{}, errors.New("paypay: merchant payment id is required")
	}
	if req.Amount <= 0 {
		return PaymentSession{}, errors.New("paypay: amount must be positive")
	}

	body := map[string]any{
		"merchantPaymentId": req.MerchantPaymentID,
		"amount":            paypayMoney{Amount: req.Amount, Currency: "JPY"},
		"codeType":          "ORDER_QR",
		"orderDescription":  req.OrderDescription,
		"redirectType":      "WEB_LINK",
		"redirectUrl":       req.RedirectURL,
		"userAgent":         req.UserAgent,
	}
	var data struct {
		URL       string `json:"url"`
		Deeplink  string `json:"deeplink"`
		ExpiryUTC int64  `json:"expiryDate"`
	}
	if err := p.call(ctx, http.MethodPost, "/v2/codes", body, &data); err != nil {
		return PaymentSession{}, err
	}

	session := PaymentSession{
		MerchantPaymentID: req.MerchantPaymentID,
		URL:               data.URL,
		Deeplink:          data.Deeplink,
	}
	if data.ExpiryUTC > 0 {
		session.ExpiresAt = time.Unix(data.ExpiryUTC, 0).UTC()
	}
	p.logger.Info("paypay payment created",
		zap.String("merchant_payment_id", req.MerchantPaymentID),
		zap.Int64("amount", req.Amount))
	return session, nil
}

// PaymentDetails fetches the current state of a payment.
func (p *PayPay) PaymentDetails(ctx context.Context, merchantPaymentID string) (PaymentDetails, error) {
	var data struct {
		Status     string      `json:"status"`
		Amount     paypayMoney `json:"amount"`
		AcceptedAt int64       `json:"acceptedAt"`
	}
	path := "/v2/codes/payments/" + url.PathEscape(merchantPaymentID)
	if err := p.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return PaymentDetails{}, err
	}
	details := PaymentDetails{
		MerchantPaymentID: merchantPaymentID,
		Status:            statusFromPayPay(data.Status),
		Amount:            data.Amount.Amount,
	}
	if data.AcceptedAt > 0 {
		details.AcceptedAt = time.Unix(data.AcceptedAt, 0).UTC()
	}
	return details, nil
}

// CancelPayment cancels a pending payment. Canceling an already terminal
// payment reports an error from the provider.
func (p *PayPay) CancelPayment(ctx context.Context, merchantPaymentID string) error {
	path := "/v2/payments/" + url.PathEscape(merchantPaymentID)
	return p.call(ctx, http.MethodDelete, path, nil, nil)
}

func statusFromPayPay(status string) Status {
	switch status {
	case "CREATED":
		return StatusCreated
	case "AUTHORIZED":
		return StatusAuthorized
	case "COMPLETED":
		return StatusCompleted
	case "CANCELED":
		return StatusCanceled
	case "EXPIRED":
		return StatusExpired
	case "REFUNDED":
		return StatusRefunded
	default:
		return StatusFailed
	}
}

func (p *PayPay) call(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paypay: encode request: %w", err)
		}
	}

	target := *p.base
	target.Path = strings.TrimSuffix(target.Path, "/") + path

	var reader io.Reader
	contentType := emptyContentMarker
	if payload != nil {
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("paypay: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", p.authHeader(method, path, contentType, payload))
	if p.merchantID != "" {
		req.Header.Set("X-ASSUME-MERCHANT", p.merchantID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypay: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("paypay: read response: %w", err)
	}

	var result paypayResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("paypay: decode response (status %d): %w", resp.StatusCode, err)
	}
	if result.ResultInfo.Code != "SUCCESS" {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, result.ResultInfo.Code)
		}
		return fmt.Errorf("paypay: %s: %s", result.ResultInfo.Code, result.ResultInfo.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("paypay: decode payload: %w", err)
	}
	return nil
}

// authHeader builds the OPA-Auth HMAC header. The MAC covers the path,
// method, nonce, epoch, content type, and a hash of the body so a replayed or
// altered request fails verification.
func (p *PayPay) authHeader(method, path, contentType string, body []byte) string {
	nonce := p.nonce()
	epoch := strconv.FormatInt(p.now().Unix(), 10)

	bodyHash := emptyContentMarker
	if len(body) > 0 {
		sum := md5.Sum(append([]byte(contentType), body...))
		bodyHash = base64.StdEncoding.EncodeToString(sum[:])
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(strings.Join([]string{path, method, nonce, epoch, contentType, bodyHash}, "\n")))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return "hmac OPA-Auth:" + strings.Join([]string{p.apiKey, signature, nonce, epoch, bodyHash}, ":")
}

func randomNonce() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
