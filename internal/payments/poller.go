package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// ErrPollTimeout is returned when a payment does not reach a terminal state
// within the poller's window.
var ErrPollTimeout = errors.New("payments: poll timed out")

// PollerDeps wires the status poller.
type PollerDeps struct {
	Provider Provider
	Logger   *zap.Logger
	// Interval between status checks; zero means 2s.
	Interval time.Duration
	// Timeout bounds the whole wait; zero means 5m.
	Timeout time.Duration
}

// Poller waits for a payment to settle by polling the provider. The checkout
// flow uses it after redirecting the customer, since the kiosk has no inbound
// webhook surface.
type Poller struct {
	provider Provider
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewPoller constructs a poller.
func NewPoller(deps PollerDeps) (*Poller, error) {
	if deps.Provider == nil {
		return nil, errors.New("payments: provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Interval <= 0 {
		deps.Interval = defaultPollInterval
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultPollTimeout
	}
	return &Poller{
		provider: deps.Provider,
		logger:   deps.Logger,
		interval: deps.Interval,
		timeout:  deps.Timeout,
	}, nil
}

// Wait polls until the payment reaches a terminal status, the timeout
// elapses, or ctx is done. Transient provider errors are logged and retried
// on the next tick.
func (p *Poller) Wait(ctx context.Context, merchantPaymentID string) (PaymentDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		details, err := p.provider.PaymentDetails(ctx, merchantPaymentID)
		switch {
		case err == nil && details.Status.Terminal():
			p.logger.Info("payment settled",
				zap.String("merchant_payment_id", merchantPaymentID),
				zap.String("status", string(details.Status)))
			return details, nil
		case err != nil && !errors.Is(err, ErrPaymentNotFound):
			p.logger.Warn("payment status check failed",
				zap.String("merchant_payment_id", merchantPaymentID),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPollTimeout, merchantPaymentID)
			}
			return PaymentDetails{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
