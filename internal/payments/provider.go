// Package payments integrates the kiosk checkout with PayPay's Open Payment
// API. Amounts are JPY minor units throughout (yen has no decimals).
package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the provider.
type Status string

const (
	// StatusCreated indicates the payment exists but the customer has not
	// acted yet.
	StatusCreated Status = "created"
	// StatusAuthorized indicates the customer approved the payment and
	// capture is pending.
	StatusAuthorized Status = "authorized"
	// StatusCompleted indicates the payment was captured.
	StatusCompleted Status = "completed"
	// StatusCanceled indicates the payment was canceled before completion.
	StatusCanceled Status = "canceled"
	// StatusExpired indicates the payment code expired unused.
	StatusExpired Status = "expired"
	// StatusFailed indicates the provider reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the captured payment was refunded.
	StatusRefunded Status = "refunded"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// ErrPaymentNotFound is returned when the provider has no record of the
// merchant payment id.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// CreatePaymentRequest describes the checkout to hand off to the provider.
type CreatePaymentRequest struct {
	// MerchantPaymentID is the caller-chosen idempotent payment id; retries
	// with the same id must not create a second payment.
	MerchantPaymentID string
	Amount            int64
	OrderDescription  string
	// RedirectURL is where the customer lands after approving or declining.
	RedirectURL string
	UserAgent   string
}

// PaymentSession is the provider-side handle for a created payment.
type PaymentSession struct {
	MerchantPaymentID string
	// URL is the Web Cashier page the customer is sent to.
	URL       string
	Deeplink  string
	ExpiresAt time.Time
}

// PaymentDetails is the normalised view of a payment's current state.
type PaymentDetails struct {
	MerchantPaymentID string
	Status            Status
	Amount            int64
	AcceptedAt        time.Time
}

// Provider is the payment provider contract the checkout flow depends on.
type Provider interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentSession, error)
	PaymentDetails(ctx context.Context, merchantPaymentID string) (PaymentDetails, error)
	CancelPayment(ctx context.Context, merchantPaymentID string) error
}
