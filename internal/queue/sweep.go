// Package queue holds the background task plumbing for delayed checkout
// sweeps.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/merchantkit/payout-bridge/internal/order"
	"github.com/merchantkit/payout-bridge/internal/payout"
	"github.com/merchantkit/payout-bridge/internal/reconcile"
)

// TaskTypeCheckoutSweep re-checks a checkout whose webhook may never arrive.
const TaskTypeCheckoutSweep = "payout:checkout:sweep"

const defaultSweepDelay = 30 * time.Minute

// SweepPayload is the task body for a checkout sweep.
type SweepPayload struct {
	OrderID string `json:"order_id"`
}

// Sweeper enqueues delayed sweep tasks. One sweep per order: the task id is
// derived from the order id so re-enqueueing is a no-op.
type Sweeper struct {
	Client *asynq.Client
	Delay  time.Duration
}

// ScheduleSweep enqueues a sweep to run after the checkout's expected
// lifetime.
func (s *Sweeper) ScheduleSweep(ctx context.Context, orderID string) error {
	delay := s.Delay
	if delay <= 0 {
		delay = defaultSweepDelay
	}
	payload, err := json.Marshal(SweepPayload{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("marshal sweep payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeCheckoutSweep, payload)
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.ProcessIn(delay),
		asynq.TaskID("sweep:"+orderID),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// CheckoutFetcher is the processor read path the sweep needs.
type CheckoutFetcher interface {
	GetCheckout(ctx context.Context, id string) (*payout.Checkout, error)
}

// SweepHandler processes sweep tasks by polling the processor for the
// checkout's final state and folding it through the same transition rules as
// the webhook path.
type SweepHandler struct {
	Orders     order.Store
	Processor  CheckoutFetcher
	Reconciler *reconcile.Reconciler
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal sweep payload: %w", err)
	}

	o, err := h.Orders.Get(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			h.Logger.Debug().Str("order_id", payload.OrderID).Msg("sweep skipped, order gone")
			return nil
		}
		return err
	}

	checkoutID := o.MetaValue(order.MetaCheckoutID)
	if checkoutID == "" {
		h.Logger.Debug().Str("order_id", payload.OrderID).Msg("sweep skipped, no checkout recorded")
		return nil
	}
	if o.MetaValue(order.MetaOrderStatus) == payout.StatusSucceeded {
		// Webhook already landed.
		return nil
	}

	checkout, err := h.Processor.GetCheckout(ctx, checkoutID)
	if err != nil {
		return fmt.Errorf("fetch checkout %s: %w", checkoutID, err)
	}

	h.Logger.Info().
		Str("order_id", payload.OrderID).
		Str("checkout_id", checkoutID).
		Str("status", checkout.Status).
		Msg("checkout swept")
	return h.Reconciler.Apply(ctx, payload.OrderID, checkout.Status, checkoutID)
}
