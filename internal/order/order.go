// Package order defines the narrow interface through which the payment
// bridge reads and writes host order state. The host order-management system
// owns the data; the bridge only consumes the operations below.
package order

import (
	"context"
	"errors"
)

// Meta keys written by the bridge onto an order. They form the durable
// linkage between a host order and its processor checkout.
const (
	MetaCheckoutID  = "payout_checkout_id"
	MetaOrderStatus = "payout_order_status"
	MetaRedirectURL = "payout_redirect_url"
)

// ErrNotFound is returned when no order exists for the requested id.
var ErrNotFound = errors.New("order: not found")

// Address is a billing or shipping address block.
type Address struct {
	Line1       string
	Line2       string
	City        string
	CountryCode string
	Name        string
	PostalCode  string
}

// Customer carries the purchaser identity attached to an order.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Item is a single order line.
type Item struct {
	Name      string
	Quantity  int
	UnitPrice float64
}

// Order is a read snapshot of a host order. Meta reflects the key-value
// metadata stored on the order at read time; writes go through the Store so
// concurrent webhook deliveries observe current state rather than a cached
// view.
type Order struct {
	ID        string
	Status    string
	Total     float64
	Currency  string
	ReturnURL string
	Customer  Customer
	Billing   Address
	Shipping  *Address
	Items     []Item
	Meta      map[string]string
}

// MetaValue returns the stored metadata value for key, or "".
func (o *Order) MetaValue(key string) string {
	if o == nil || o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// Store is the host collaborator interface consumed by the bridge.
//
// SetMeta is last-write-wins: the processor is the single source of truth per
// order, so concurrent deliveries overwriting each other is acceptable.
// MarkPaid must be idempotent on the host side; repeated calls for the same
// order complete payment exactly once.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	SetMeta(ctx context.Context, id, key, value string) error
	MarkPaid(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status, note string) error
}
