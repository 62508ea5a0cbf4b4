package statuspoll

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchantkit/payout-bridge/internal/payout"
)

const (
	defaultInterval    = time.Second
	defaultMaxAttempts = 8
)

// StatusFunc fetches the current recorded checkout status for an order. An
// empty status means no result has landed yet.
type StatusFunc func(ctx context.Context, orderID string) (string, error)

// Poller repeatedly probes for a payment result after the shopper returns
// from the hosted checkout. It gives up after MaxAttempts and redirects back
// to the payment page instead of leaving the shopper on a spinner.
type Poller struct {
	Status      StatusFunc
	Interval    time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

// Result is the outcome of a polling run.
type Result struct {
	// Done is set when a settled status arrived within the attempt budget.
	Done bool
	// Status is the last status observed, empty if none ever arrived.
	Status string
	// RedirectURL is set when the poller gave up and the shopper should be
	// sent back to the payment page.
	RedirectURL string
}

// Run polls until payment settles, attempts run out, or ctx is cancelled.
// Both succeeded and processing stop the loop: processing means the host
// order was already marked paid.
func (p *Poller) Run(ctx context.Context, orderID, paymentURL string) (Result, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var last string
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		status, err := p.Status(ctx, orderID)
		if err != nil {
			return Result{}, err
		}
		last = status

		switch status {
		case payout.StatusSucceeded, payout.StatusProcessing:
			return Result{Done: true, Status: status}, nil
		}

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Status: last}, ctx.Err()
		case <-ticker.C:
		}
	}

	p.Logger.Debug().
		Str("order_id", orderID).
		Str("last_status", last).
		Msg("status poll exhausted, redirecting to payment page")
	return Result{Status: last, RedirectURL: paymentURL}, nil
}
