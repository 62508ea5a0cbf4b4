// Package reconcile maps inbound processor notifications onto idempotent
// host order state transitions.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/merchantkit/payout-bridge/internal/common"
	"github.com/merchantkit/payout-bridge/internal/obs"
	"github.com/merchantkit/payout-bridge/internal/order"
	"github.com/merchantkit/payout-bridge/internal/payout"
	"github.com/merchantkit/payout-bridge/internal/signature"
)

// Notification is the wire shape of a processor webhook.
type Notification struct {
	Type       string            `json:"type"`
	Nonce      string            `json:"nonce"`
	Signature  string            `json:"signature"`
	ExternalID string            `json:"external_id"`
	Data       *NotificationData `json:"data"`
}

// NotificationData is the checkout payload nested inside a notification.
type NotificationData struct {
	Object string      `json:"object"`
	Status string      `json:"status"`
	ID     json.Number `json:"id"`
}

// complete reports whether every field the reconciler depends on is present.
func (n *Notification) complete() bool {
	return n != nil &&
		n.Data != nil &&
		n.Data.Object == "checkout" &&
		n.Data.Status != "" &&
		n.Data.ID.String() != "" &&
		n.ExternalID != "" &&
		n.Type != "" &&
		n.Nonce != "" &&
		n.Signature != ""
}

// terminalStatuses are host order states that an expired checkout must not
// knock back to failed.
var terminalStatuses = map[string]struct{}{
	"processing":       {},
	"packing":          {},
	"completed":        {},
	"shipping":         {},
	"ready-for-pickup": {},
	"picked-up":        {},
	"cancelled":        {},
	"refunded":         {},
	"failed":           {},
}

// Reconciler validates, authenticates and applies processor notifications.
// Transitions are evaluated against current host order status at delivery
// time, so out-of-order and duplicated deliveries stay safe; last-write-wins
// on the status metadata is intentional since the processor is the single
// source of truth per order.
type Reconciler struct {
	Orders order.Store
	Secret string
	Logger zerolog.Logger

	// Replay, when configured, deduplicates identical deliveries within
	// ReplayTTL. Reconciliation is idempotent without it; the guard only
	// saves work.
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle is the webhook HTTP endpoint. Invalid or unauthenticated
// notifications receive 401 with a bad-signature body; everything else gets
// 200 so the processor does not build retry storms.
func (rc *Reconciler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rc.count("read_error")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil || !n.complete() {
		rc.count("invalid")
		writeBadSignature(w)
		return
	}

	if !signature.Verify([]string{n.ExternalID, n.Type, n.Nonce}, rc.Secret, n.Signature) {
		rc.count("bad_signature")
		rc.Logger.Error().
			Str("external_id", n.ExternalID).
			Str("type", n.Type).
			Msg("webhook signature verification failed")
		writeBadSignature(w)
		return
	}

	ctx := r.Context()
	if dup, err := rc.seenBefore(ctx, body); err != nil {
		rc.Logger.Warn().Err(err).Msg("webhook replay guard unavailable")
	} else if dup {
		rc.count("replay")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := rc.Apply(ctx, n.ExternalID, n.Data.Status, n.Data.ID.String()); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// Deleted or test orders: acknowledge so the sender stops
			// retrying.
			rc.count("unknown_order")
			w.WriteHeader(http.StatusOK)
			return
		}
		rc.count("error")
		rc.Logger.Error().Err(err).Str("external_id", n.ExternalID).Msg("webhook reconciliation failed")
		common.JSONError(w, http.StatusInternalServerError, "RECONCILE_FAILED", "unable to apply notification", nil)
		return
	}

	rc.count("applied")
	rc.Logger.Info().
		Str("external_id", n.ExternalID).
		Str("checkout_status", n.Data.Status).
		Msg("webhook applied")
	w.WriteHeader(http.StatusOK)
}

// Apply records the notification on the order and runs the transition rules.
// Replaying the same status is a no-op beyond the metadata write. Also used
// by the sweep worker to fold polled checkout state into the same rules.
func (rc *Reconciler) Apply(ctx context.Context, orderID, checkoutStatus, checkoutID string) error {
	o, err := rc.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	// Audit trail: always recorded, whatever the status value.
	if err := rc.Orders.SetMeta(ctx, orderID, order.MetaOrderStatus, checkoutStatus); err != nil {
		return err
	}
	if err := rc.Orders.SetMeta(ctx, orderID, order.MetaCheckoutID, checkoutID); err != nil {
		return err
	}

	switch checkoutStatus {
	case payout.StatusSucceeded:
		return rc.Orders.MarkPaid(ctx, orderID)
	case payout.StatusExpired:
		if _, terminal := terminalStatuses[o.Status]; terminal {
			return nil
		}
		return rc.Orders.SetStatus(ctx, orderID, "failed", "payout: checkout expired")
	default:
		// Unknown statuses are recorded but trigger no transition.
		return nil
	}
}

func (rc *Reconciler) seenBefore(ctx context.Context, body []byte) (bool, error) {
	if rc.Replay == nil || rc.ReplayTTL <= 0 {
		return false, nil
	}
	key := fmt.Sprintf("wh:payout:%s", common.Sha256Hex(string(body)))
	ok, err := rc.Replay.SetNX(ctx, key, "1", rc.ReplayTTL).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (rc *Reconciler) count(result string) {
	if obs.WebhookTotal != nil {
		obs.WebhookTotal.WithLabelValues(result).Inc()
	}
}

func writeBadSignature(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error": "Bad signature"}`))
}
