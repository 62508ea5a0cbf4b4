package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists orders in Postgres. It is the reference Store adapter used
// when the bridge owns its own copy of the order linkage; hosts with an
// existing order system supply their own Store instead.
type PGStore struct {
	Pool *pgxpool.Pool
}

// StatusPaid is the host status applied when payment completes.
const StatusPaid = "processing"

// Get loads an order with its items and metadata.
func (s PGStore) Get(ctx context.Context, id string) (*Order, error) {
	if s.Pool == nil {
		return nil, errors.New("order: pool not configured")
	}
	const q = `
		SELECT id, status, total, currency, return_url,
		       first_name, last_name, email, COALESCE(phone, ''),
		       billing_line1, COALESCE(billing_line2, ''), billing_city, billing_country, billing_name, billing_postal,
		       COALESCE(shipping_line1, ''), COALESCE(shipping_line2, ''), COALESCE(shipping_city, ''),
		       COALESCE(shipping_country, ''), COALESCE(shipping_name, ''), COALESCE(shipping_postal, ''),
		       meta
		FROM orders WHERE id = $1`
	var (
		o        Order
		shipping Address
		rawMeta  []byte
	)
	row := s.Pool.QueryRow(ctx, q, id)
	err := row.Scan(
		&o.ID, &o.Status, &o.Total, &o.Currency, &o.ReturnURL,
		&o.Customer.FirstName, &o.Customer.LastName, &o.Customer.Email, &o.Customer.Phone,
		&o.Billing.Line1, &o.Billing.Line2, &o.Billing.City, &o.Billing.CountryCode, &o.Billing.Name, &o.Billing.PostalCode,
		&shipping.Line1, &shipping.Line2, &shipping.City, &shipping.CountryCode, &shipping.Name, &shipping.PostalCode,
		&rawMeta,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("order: get %s: %w", id, err)
	}
	if shipping.Line1 != "" {
		o.Shipping = &shipping
	}
	o.Meta = map[string]string{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &o.Meta); err != nil {
			return nil, fmt.Errorf("order: decode meta for %s: %w", id, err)
		}
	}
	items, err := s.items(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s PGStore) items(ctx context.Context, id string) ([]Item, error) {
	const q = `SELECT name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY position`
	rows, err := s.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("order: items for %s: %w", id, err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetMeta upserts a single metadata key. The jsonb merge keeps the write
// atomic so concurrent deliveries degrade to last-write-wins.
func (s PGStore) SetMeta(ctx context.Context, id, key, value string) error {
	const q = `UPDATE orders SET meta = meta || jsonb_build_object($2::text, $3::text), updated_at = now() WHERE id = $1`
	tag, err := s.Pool.Exec(ctx, q, id, key, value)
	if err != nil {
		return fmt.Errorf("order: set meta %s on %s: %w", key, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid completes payment exactly once. The paid_at guard makes replays
// no-ops.
func (s PGStore) MarkPaid(ctx context.Context, id string) error {
	const q = `UPDATE orders SET status = $2, paid_at = now(), updated_at = now() WHERE id = $1 AND paid_at IS NULL`
	tag, err := s.Pool.Exec(ctx, q, id, StatusPaid)
	if err != nil {
		return fmt.Errorf("order: mark paid %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either already paid (fine) or missing.
		var exists bool
		if err := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// SetStatus transitions the host order status and records the note.
func (s PGStore) SetStatus(ctx context.Context, id, status, note string) error {
	const q = `UPDATE orders SET status = $2, status_note = $3, updated_at = now() WHERE id = $1`
	tag, err := s.Pool.Exec(ctx, q, id, status, note)
	if err != nil {
		return fmt.Errorf("order: set status %s on %s: %w", status, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
