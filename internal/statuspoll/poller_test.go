package statuspoll

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/merchantkit/payout-bridge/internal/order"
)

func TestPollerStopsOnSucceeded(t *testing.T) {
	calls := 0
	p := &Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 8,
		Logger:      zerolog.Nop(),
		Status: func(ctx context.Context, orderID string) (string, error) {
			calls++
			if calls < 3 {
				return "", nil
			}
			return "succeeded", nil
		},
	}

	res, err := p.Run(context.Background(), "ord-1", "https://shop.example/pay")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "succeeded", res.Status)
	require.Empty(t, res.RedirectURL)
	require.Equal(t, 3, calls)
}

func TestPollerStopsOnProcessing(t *testing.T) {
	p := &Poller{
		Interval: time.Millisecond,
		Logger:   zerolog.Nop(),
		Status: func(ctx context.Context, orderID string) (string, error) {
			return "processing", nil
		},
	}

	res, err := p.Run(context.Background(), "ord-1", "https://shop.example/pay")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "processing", res.Status)
}

func TestPollerExhaustsAndRedirects(t *testing.T) {
	calls := 0
	p := &Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 4,
		Logger:      zerolog.Nop(),
		Status: func(ctx context.Context, orderID string) (string, error) {
			calls++
			return "expired", nil
		},
	}

	res, err := p.Run(context.Background(), "ord-1", "https://shop.example/pay")
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, "expired", res.Status)
	require.Equal(t, "https://shop.example/pay", res.RedirectURL)
	require.Equal(t, 4, calls)
}

func TestPollerHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		Interval: 50 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Status: func(ctx context.Context, orderID string) (string, error) {
			cancel()
			return "", nil
		},
	}

	_, err := p.Run(ctx, "ord-1", "https://shop.example/pay")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPollerPropagatesStatusError(t *testing.T) {
	want := errors.New("probe down")
	p := &Poller{
		Interval: time.Millisecond,
		Logger:   zerolog.Nop(),
		Status: func(ctx context.Context, orderID string) (string, error) {
			return "", want
		},
	}

	_, err := p.Run(context.Background(), "ord-1", "https://shop.example/pay")
	require.ErrorIs(t, err, want)
}

func TestStatusHandlerReturnsRecordedStatus(t *testing.T) {
	store := order.NewMemStore(&order.Order{
		ID: "ord-1", Status: "pending", Total: 10, Currency: "EUR",
		Meta: map[string]string{order.MetaOrderStatus: "succeeded"},
	})
	h := &Handler{Orders: store, Logger: zerolog.Nop()}

	form := url.Values{"order_id": {"ord-1"}}
	req := httptest.NewRequest("POST", "/v1/payments/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "succeeded", rec.Body.String())
}

func TestStatusHandlerUnknownOrderIsEmpty200(t *testing.T) {
	h := &Handler{Orders: order.NewMemStore(), Logger: zerolog.Nop()}

	form := url.Values{"order_id": {"ghost"}}
	req := httptest.NewRequest("POST", "/v1/payments/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestStatusHandlerMissingOrderID(t *testing.T) {
	h := &Handler{Orders: order.NewMemStore(), Logger: zerolog.Nop()}

	req := httptest.NewRequest("POST", "/v1/payments/status", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, 400, rec.Code)
}
