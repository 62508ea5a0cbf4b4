package payout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/merchantkit/payout-bridge/internal/common"
	"github.com/merchantkit/payout-bridge/internal/order"
)

// Handler exposes HTTP endpoints for starting payments and issuing refunds.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type startPaymentReq struct {
	OrderID string `json:"orderId" validate:"required"`
}

type startPaymentResp struct {
	RedirectURL string `json:"redirectUrl"`
}

// StartPayment creates or reuses a hosted checkout and returns the redirect
// URL the shopper should be sent to.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req startPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	redirect, err := h.Svc.StartPayment(r.Context(), req.OrderID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, startPaymentResp{RedirectURL: redirect})
}

type refundReq struct {
	OrderID             string  `json:"orderId" validate:"required"`
	Amount              float64 `json:"amount" validate:"required,gt=0"`
	IBAN                string  `json:"iban" validate:"required"`
	StatementDescriptor string  `json:"statementDescriptor"`
}

// Refund issues a refund against the order's processor checkout.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.Svc.Refund(r.Context(), req.OrderID, req.Amount, req.IBAN, req.StatementDescriptor); err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

// renderError maps the error taxonomy onto HTTP responses. Processor-side
// failures surface a generic message; the provider detail stays in the logs.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	var (
		validationErr *ValidationError
		authErr       *AuthError
		transportErr  *TransportError
		apiErr        *APIError
		sigErr        *SignatureError
	)
	switch {
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.As(err, &validationErr):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", validationErr.Error(), nil)
	case errors.As(err, &authErr):
		common.JSONError(w, http.StatusBadGateway, "PROCESSOR_AUTH_FAILED", "there is a problem, contact support", nil)
	case errors.As(err, &sigErr):
		common.JSONError(w, http.StatusBadGateway, "PROCESSOR_SIGNATURE_INVALID", "there is a problem, contact support", nil)
	case errors.As(err, &transportErr), errors.As(err, &apiErr):
		common.JSONError(w, http.StatusBadGateway, "PROCESSOR_UNAVAILABLE", "there is a problem, contact support", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "there is a problem, contact support", nil)
	}
}
