package payout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/merchantkit/payout-bridge/internal/order"
)

type stubProcessor struct {
	checkout    *Checkout
	checkoutErr error
	refund      *Refund
	refundErr   error

	lastRaw    map[string]any
	lastRefund RefundRequest
	calls      int
}

func (p *stubProcessor) CreateCheckout(_ context.Context, raw map[string]any) (*Checkout, error) {
	p.calls++
	p.lastRaw = raw
	return p.checkout, p.checkoutErr
}

func (p *stubProcessor) GetCheckout(_ context.Context, _ string) (*Checkout, error) {
	return p.checkout, p.checkoutErr
}

func (p *stubProcessor) CreateRefund(_ context.Context, req RefundRequest) (*Refund, error) {
	p.lastRefund = req
	return p.refund, p.refundErr
}

type stubSweeper struct {
	scheduled []string
	err       error
}

func (s *stubSweeper) ScheduleSweep(_ context.Context, orderID string) error {
	s.scheduled = append(s.scheduled, orderID)
	return s.err
}

func testOrder() *order.Order {
	return &order.Order{
		ID:        "ord-1",
		Status:    "new",
		Total:     9.99,
		Currency:  "EUR",
		ReturnURL: "https://shop.example/return",
		Customer: order.Customer{
			FirstName: "Jana", LastName: "Novak", Email: "jana@example.com",
		},
		Billing: order.Address{Line1: "Main 1", City: "Bratislava", CountryCode: "SK", PostalCode: "81101"},
	}
}

func processingCheckout() *Checkout {
	return &Checkout{
		ID:          json.Number("814"),
		Status:      StatusProcessing,
		Amount:      json.Number("999"),
		Currency:    "EUR",
		ExternalID:  "ord-1",
		CheckoutURL: "https://pay.example/checkout/814",
	}
}

func TestStartPaymentCreatesCheckoutAndStoresMeta(t *testing.T) {
	store := order.NewMemStore(testOrder())
	proc := &stubProcessor{checkout: processingCheckout()}
	sweeper := &stubSweeper{}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop(), Sweeper: sweeper}

	redirect, err := svc.StartPayment(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/checkout/814", redirect)

	o, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "pending", o.Status)
	require.Equal(t, "814", o.MetaValue(order.MetaCheckoutID))
	require.Equal(t, redirect, o.MetaValue(order.MetaRedirectURL))
	require.Equal(t, []string{"ord-1"}, sweeper.scheduled)
}

func TestStartPaymentReusesStoredRedirect(t *testing.T) {
	o := testOrder()
	o.Meta = map[string]string{order.MetaRedirectURL: "https://pay.example/checkout/old"}
	store := order.NewMemStore(o)
	proc := &stubProcessor{checkout: processingCheckout()}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop()}

	redirect, err := svc.StartPayment(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/checkout/old", redirect)
	require.Zero(t, proc.calls)
}

func TestStartPaymentRejectsZeroTotal(t *testing.T) {
	o := testOrder()
	o.Total = 0
	store := order.NewMemStore(o)
	svc := &Service{Orders: store, Processor: &stubProcessor{}, Logger: zerolog.Nop()}

	_, err := svc.StartPayment(context.Background(), "ord-1")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "amount", verr.Field)
}

func TestStartPaymentUnknownOrder(t *testing.T) {
	svc := &Service{Orders: order.NewMemStore(), Processor: &stubProcessor{}, Logger: zerolog.Nop()}

	_, err := svc.StartPayment(context.Background(), "ghost")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestStartPaymentDecoratesRedirect(t *testing.T) {
	store := order.NewMemStore(testOrder())
	proc := &stubProcessor{checkout: processingCheckout()}
	svc := &Service{
		Orders: store, Processor: proc, Logger: zerolog.Nop(),
		PaymentMethodID: "card", Locale: "sk",
	}

	redirect, err := svc.StartPayment(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Contains(t, redirect, "payment_method=card")
	require.Contains(t, redirect, "locale=sk")
}

func TestStartPaymentProcessorErrorStoresNothing(t *testing.T) {
	store := order.NewMemStore(testOrder())
	proc := &stubProcessor{checkoutErr: &APIError{StatusCode: 500, Message: "boom"}}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop()}

	_, err := svc.StartPayment(context.Background(), "ord-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)

	o, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Empty(t, o.MetaValue(order.MetaRedirectURL))
	require.Empty(t, o.MetaValue(order.MetaCheckoutID))
}

func TestStartPaymentSendsIdempotencyKeyWhenEnabled(t *testing.T) {
	store := order.NewMemStore(testOrder())
	proc := &stubProcessor{checkout: processingCheckout()}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop(), UseIdempotencyKey: true}

	_, err := svc.StartPayment(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "ord-1", proc.lastRaw["idempotency_key"])
}

func TestRefundConvertsToMinorUnits(t *testing.T) {
	o := testOrder()
	o.Meta = map[string]string{order.MetaCheckoutID: "814"}
	store := order.NewMemStore(o)
	proc := &stubProcessor{refund: &Refund{ID: json.Number("9"), Status: "accepted"}}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop()}

	err := svc.Refund(context.Background(), "ord-1", 9.99, "SK3112000000198742637541", "order refund")
	require.NoError(t, err)
	require.Equal(t, int64(999), proc.lastRefund.Amount)
	require.Equal(t, "814", proc.lastRefund.CheckoutID)
	require.Equal(t, "814", proc.lastRefund.PayoutID)
	require.Equal(t, "EUR", proc.lastRefund.Currency)
}

func TestRefundWithoutCheckoutFails(t *testing.T) {
	store := order.NewMemStore(testOrder())
	svc := &Service{Orders: store, Processor: &stubProcessor{}, Logger: zerolog.Nop()}

	err := svc.Refund(context.Background(), "ord-1", 9.99, "SK3112000000198742637541", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRefundPropagatesProcessorError(t *testing.T) {
	o := testOrder()
	o.Meta = map[string]string{order.MetaCheckoutID: "814"}
	store := order.NewMemStore(o)
	proc := &stubProcessor{refundErr: &APIError{StatusCode: 422, Message: "iban invalid"}}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop()}

	err := svc.Refund(context.Background(), "ord-1", 9.99, "bad-iban", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 422, apiErr.StatusCode)
}

func TestStartPaymentSweepFailureIsNonFatal(t *testing.T) {
	store := order.NewMemStore(testOrder())
	proc := &stubProcessor{checkout: processingCheckout()}
	sweeper := &stubSweeper{err: errors.New("queue down")}
	svc := &Service{Orders: store, Processor: proc, Logger: zerolog.Nop(), Sweeper: sweeper}

	redirect, err := svc.StartPayment(context.Background(), "ord-1")
	require.NoError(t, err)
	require.NotEmpty(t, redirect)
}
