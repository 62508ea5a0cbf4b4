package payout

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CheckoutRequest is the wire payload for POST /checkouts. Amount and product
// unit prices are expressed in minor currency units.
type CheckoutRequest struct {
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	Customer        Customer       `json:"customer"`
	Products        []Product      `json:"products,omitempty"`
	ExternalID      string         `json:"external_id"`
	Nonce           string         `json:"nonce"`
	RedirectURL     string         `json:"redirect_url"`
	Signature       string         `json:"signature"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Customer identifies the payer on a checkout.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// Address is a checkout billing or shipping address block.
type Address struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	City         string `json:"city"`
	CountryCode  string `json:"country_code"`
	Name         string `json:"name"`
	PostalCode   string `json:"postal_code"`
}

// Product is a single checkout line item.
type Product struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Checkout is the processor response for checkout create/get calls. Fields
// must not be trusted until the signature has been verified.
type Checkout struct {
	ID          json.Number `json:"id"`
	Status      string      `json:"status"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	ExternalID  string      `json:"external_id"`
	Nonce       string      `json:"nonce"`
	CheckoutURL string      `json:"checkout_url"`
	Signature   string      `json:"signature"`
}

// Checkout statuses with dedicated handling. Any other value is passed
// through untouched.
const (
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusExpired    = "expired"
)

// MinorUnits converts a major-unit amount to minor units, rounding half away
// from zero. The same conversion is applied on the checkout and refund paths
// so signatures stay reproducible.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

var checkoutRequired = []string{"amount", "currency", "customer", "external_id", "redirect_url"}

var customerRequired = []string{"first_name", "last_name", "email"}

// BuildCheckout validates raw checkout input and normalises it into the wire
// shape. It owns the major→minor unit conversion for the checkout amount;
// product unit prices are converted here as well. A zero amount is accepted,
// the zero-amount business rule belongs to the caller. Nonce and signature
// are left empty for the session to fill in.
func BuildCheckout(raw map[string]any) (CheckoutRequest, error) {
	var req CheckoutRequest
	if raw == nil {
		return req, &ValidationError{Message: "checkout parameters must be a map"}
	}
	for _, key := range checkoutRequired {
		if _, ok := raw[key]; !ok {
			return req, missingParam(key)
		}
	}
	customer, ok := raw["customer"].(map[string]any)
	if !ok {
		return req, &ValidationError{Field: "customer", Message: "must be a map"}
	}
	for _, key := range customerRequired {
		if _, ok := customer[key]; !ok {
			return req, missingParam(key)
		}
	}

	amount, err := toFloat(raw["amount"])
	if err != nil {
		return req, &ValidationError{Field: "amount", Message: err.Error()}
	}

	req = CheckoutRequest{
		Amount:   MinorUnits(amount),
		Currency: asString(raw["currency"]),
		Customer: Customer{
			FirstName: asString(customer["first_name"]),
			LastName:  asString(customer["last_name"]),
			Email:     asString(customer["email"]),
			Phone:     asString(customer["phone"]),
		},
		ExternalID:  asString(raw["external_id"]),
		RedirectURL: asString(raw["redirect_url"]),
	}

	if meta, ok := raw["metadata"].(map[string]any); ok {
		req.Metadata = meta
	}
	if addr, ok := raw["billing_address"].(map[string]any); ok {
		req.BillingAddress = buildAddress(addr)
	}
	if addr, ok := raw["shipping_address"].(map[string]any); ok {
		req.ShippingAddress = buildAddress(addr)
	}
	if key := asString(raw["idempotency_key"]); key != "" {
		req.IdempotencyKey = key
	}
	if products, ok := raw["products"].([]any); ok {
		for _, entry := range products {
			p, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			qty, _ := toFloat(p["quantity"])
			unit, err := toFloat(p["unit_price"])
			if err != nil {
				return req, &ValidationError{Field: "products", Message: err.Error()}
			}
			req.Products = append(req.Products, Product{
				Name:      asString(p["name"]),
				Quantity:  int(qty),
				UnitPrice: MinorUnits(unit),
			})
		}
	}
	return req, nil
}

func buildAddress(raw map[string]any) *Address {
	return &Address{
		AddressLine1: asString(raw["address_line_1"]),
		AddressLine2: asString(raw["address_line_2"]),
		City:         asString(raw["city"]),
		CountryCode:  asString(raw["country_code"]),
		Name:         asString(raw["name"]),
		PostalCode:   asString(raw["postal_code"]),
	}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
