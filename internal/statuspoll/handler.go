// Package statuspoll bridges the gap between the shopper returning from the
// hosted checkout page and the webhook that confirms payment.
package statuspoll

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/merchantkit/payout-bridge/internal/order"
)

// Handler answers the browser-side status probe. The response is the raw
// recorded checkout status as plain text; the polling client string-matches
// it.
type Handler struct {
	Orders order.Store
	Logger zerolog.Logger
}

// Status returns the last recorded processor status for the order, or an
// empty 200 when the order is unknown or no webhook has landed yet. An empty
// body tells the poller to keep trying.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	orderID := r.PostFormValue("order_id")
	if orderID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	o, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			h.Logger.Error().Err(err).Str("order_id", orderID).Msg("status probe lookup failed")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(o.MetaValue(order.MetaOrderStatus)))
}
