package payout

import (
	"context"
	"errors"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/merchantkit/payout-bridge/internal/obs"
	"github.com/merchantkit/payout-bridge/internal/order"
)

// Processor is the subset of the API session consumed by the service. It
// exists so tests can substitute the HTTP client.
type Processor interface {
	CreateCheckout(ctx context.Context, raw map[string]any) (*Checkout, error)
	GetCheckout(ctx context.Context, id string) (*Checkout, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// Sweeper schedules a delayed follow-up check for a checkout, covering
// webhooks that never arrive.
type Sweeper interface {
	ScheduleSweep(ctx context.Context, orderID string) error
}

// Service orchestrates checkout creation and refunds against host orders.
type Service struct {
	Orders    order.Store
	Processor Processor
	Logger    zerolog.Logger

	// PaymentMethodID and Locale, when set, are appended to the hosted
	// checkout URL as query parameters.
	PaymentMethodID string
	Locale          string
	// UseIdempotencyKey sends the order id as checkout idempotency key. When
	// the host later changes the order total under the same id the processor
	// keeps the original amount, so this is opt-in.
	UseIdempotencyKey bool
	Sweeper           Sweeper
}

// StartPayment creates (or reuses) a hosted checkout for the order and
// returns the redirect URL. One checkout per order: a previously stored
// redirect URL short-circuits without contacting the processor.
func (s *Service) StartPayment(ctx context.Context, orderID string) (string, error) {
	result := "error"
	defer func() {
		if obs.CheckoutTotal != nil {
			obs.CheckoutTotal.WithLabelValues(result).Inc()
		}
	}()

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.Total == 0 {
		return "", &ValidationError{Field: "amount", Message: "order value must be greater than 0"}
	}
	if stored := o.MetaValue(order.MetaRedirectURL); stored != "" {
		result = "reused"
		return stored, nil
	}

	resp, err := s.Processor.CreateCheckout(ctx, s.checkoutData(o))
	if err != nil {
		return "", err
	}

	s.Logger.Debug().
		Str("external_id", resp.ExternalID).
		Str("checkout_id", resp.ID.String()).
		Str("status", resp.Status).
		Msg("checkout created")

	if resp.Status == StatusProcessing {
		if err := s.Orders.SetStatus(ctx, orderID, "pending", "awaiting payment"); err != nil {
			return "", err
		}
	}

	redirect := s.decorateRedirect(resp.CheckoutURL)

	// The checkout id is recorded first; the redirect URL write is the
	// durable commit point. If it fails the next attempt creates a fresh
	// checkout rather than leaving a half-written record.
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaCheckoutID, resp.ID.String()); err != nil {
		return "", err
	}
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaRedirectURL, redirect); err != nil {
		return "", err
	}

	if s.Sweeper != nil {
		if err := s.Sweeper.ScheduleSweep(ctx, orderID); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("schedule checkout sweep")
		}
	}

	result = "created"
	return redirect, nil
}

func (s *Service) checkoutData(o *order.Order) map[string]any {
	fullName := o.Customer.FirstName + " " + o.Customer.LastName
	data := map[string]any{
		"amount":       o.Total,
		"currency":     o.Currency,
		"external_id":  o.ID,
		"redirect_url": o.ReturnURL,
		"customer": map[string]any{
			"first_name": o.Customer.FirstName,
			"last_name":  o.Customer.LastName,
			"email":      o.Customer.Email,
			"phone":      o.Customer.Phone,
		},
		"billing_address": map[string]any{
			"address_line_1": o.Billing.Line1,
			"address_line_2": o.Billing.Line2,
			"city":           o.Billing.City,
			"country_code":   o.Billing.CountryCode,
			"name":           fullName,
			"postal_code":    o.Billing.PostalCode,
		},
	}
	if o.Shipping != nil && o.Shipping.Line1 != "" {
		data["shipping_address"] = map[string]any{
			"address_line_1": o.Shipping.Line1,
			"address_line_2": o.Shipping.Line2,
			"city":           o.Shipping.City,
			"country_code":   o.Shipping.CountryCode,
			"name":           o.Shipping.Name,
			"postal_code":    o.Shipping.PostalCode,
		}
	}
	if len(o.Items) > 0 {
		products := make([]any, 0, len(o.Items))
		for _, item := range o.Items {
			products = append(products, map[string]any{
				"name":       item.Name,
				"quantity":   item.Quantity,
				"unit_price": item.UnitPrice,
			})
		}
		data["products"] = products
	}
	if s.UseIdempotencyKey {
		data["idempotency_key"] = o.ID
	}
	return data
}

func (s *Service) decorateRedirect(checkoutURL string) string {
	if s.PaymentMethodID == "" && s.Locale == "" {
		return checkoutURL
	}
	parsed, err := url.Parse(checkoutURL)
	if err != nil {
		return checkoutURL
	}
	query := parsed.Query()
	if s.PaymentMethodID != "" {
		query.Set("payment_method", s.PaymentMethodID)
	}
	if s.Locale != "" {
		query.Set("locale", s.Locale)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// Refund sends a refund for the order. The amount is in major units and is
// converted here, at the single call site gathering the raw amount; the API
// session does not re-apply the conversion.
func (s *Service) Refund(ctx context.Context, orderID string, amount float64, iban, statement string) error {
	result := "error"
	defer func() {
		if obs.RefundTotal != nil {
			obs.RefundTotal.WithLabelValues(result).Inc()
		}
	}()

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	checkoutID := o.MetaValue(order.MetaCheckoutID)
	if checkoutID == "" {
		return &ValidationError{Field: "checkout_id", Message: "order has no processor checkout"}
	}
	refund, err := s.Processor.CreateRefund(ctx, RefundRequest{
		Amount:              MinorUnits(amount),
		Currency:            o.Currency,
		ExternalID:          o.ID,
		CheckoutID:          checkoutID,
		PayoutID:            checkoutID,
		IBAN:                iban,
		StatementDescriptor: statement,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			s.Logger.Error().
				Str("order_id", orderID).
				Int("status", apiErr.StatusCode).
				Str("provider_message", apiErr.Message).
				Msg("refund rejected by processor")
		}
		return err
	}

	s.Logger.Info().
		Str("order_id", orderID).
		Str("refund_id", refund.ID.String()).
		Str("status", refund.Status).
		Msg("refund created")
	result = "created"
	return nil
}
