package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/billing"
)

// maxWebhookBytes is the largest webhook payload read. Stripe events are
// well under this.
const maxWebhookBytes = 64 << 10

// Payments is what BillingHandler needs from *billing.Service.
type Payments interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// BillingHandler starts Stripe Checkout and receives Stripe webhooks.
type BillingHandler struct {
	payments Payments
	debug    bool
	logger   *slog.Logger
}

func NewBillingHandler(payments Payments, debug bool, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{payments: payments, debug: debug, logger: logger}
}

type checkoutRequest struct {
	Plan     string `json:"plan" validate:"required"`
	Amount   int64  `json:"amount" validate:"gte=0"`
	PlanName string `json:"planName"`
	UserID   string `json:"userId"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// HandleCheckout creates a Checkout Session and returns its URL.
//
// HTTP: POST /checkout {"plan": "credits"|"pro", "amount": 999, "planName": "..."}
//
// amount is in cents. The user is the session's user; internal callers
// name one with userId.
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}
	userID, _, err := targetUser(r, req.UserID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	email := ""
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		email = s.User.Email
	}

	url, err := h.payments.CreateCheckout(r.Context(), billing.CheckoutRequest{
		UserID:      userID,
		Email:       email,
		Plan:        req.Plan,
		AmountCents: req.Amount,
		PlanName:    req.PlanName,
	})
	if err != nil {
		h.logger.Error("checkout failed",
			slog.String("user_id", userID),
			slog.String("plan", req.Plan),
			slog.String("error", err.Error()),
		)
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: url})
}

// HandleWebhook verifies and applies a Stripe event.
//
// HTTP: POST /webhooks/stripe (Stripe-Signature header)
//
// Any non-2xx answer makes Stripe redeliver later, which is what we want
// when applying the event failed.
func (h *BillingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "unreadable webhook body"), h.debug)
		return
	}

	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Warn("webhook not applied", slog.String("error", err.Error()))
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
