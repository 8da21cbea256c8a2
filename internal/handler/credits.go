package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/service"
)

// Ledger is what the credits and subscription handlers need from
// *service.LedgerService.
type Ledger interface {
	ApplyCreditMutation(ctx context.Context, userID string, action model.CreditAction, amount int, description string) (*service.CreditMutationResult, error)
	ApplySubscriptionUpdate(ctx context.Context, userID string, upd model.SubscriptionUpdate) (*model.Profile, error)
	GetCredits(ctx context.Context, userID string) (*model.CreditBalance, error)
	ListLedger(ctx context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error)
}

// LedgerHandler serves credits and subscription state.
//
// WHO MAY DO WHAT:
//
//	                     internal   user (own account)
//	GET  /credits           ✓            ✓
//	GET  /credits/history   ✓            ✓
//	POST /credits deduct    ✓            ✓
//	POST /credits add|set   ✓            ✗ 403
//	GET  /subscription      ✓            ✓
//	POST /subscription      ✓            ✗ 403
//
// Granting credits or a plan is the payment webhook's job (or an operator
// holding the internal key); a browser can only spend.
type LedgerHandler struct {
	ledger   Ledger
	profiles ProfileService
	debug    bool
	logger   *slog.Logger
}

func NewLedgerHandler(ledger Ledger, profiles ProfileService, debug bool, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, profiles: profiles, debug: debug, logger: logger}
}

type creditRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Amount      *int   `json:"amount" validate:"required,gte=0,lte=2147483647"`
	Description string `json:"description"`
}

type creditResponse struct {
	Message     string             `json:"message"`
	Profile     *model.Profile     `json:"profile"`
	LedgerEntry *model.LedgerEntry `json:"ledgerEntry"`
}

// HandleMutateCredits applies add, deduct or set to a user's credits.
//
// HTTP: POST /credits {"userId": "...", "action": "deduct", "amount": 1}
//
// ledgerEntry is null when the audit write failed; the balance change
// itself is committed either way.
func (h *LedgerHandler) HandleMutateCredits(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}
	userID, caller, err := targetUser(r, req.UserID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	action := model.CreditAction(req.Action)
	if (action == model.ActionAdd || action == model.ActionSet) && !caller.Internal {
		writeError(w, apperror.Forbidden("only internal callers may "+req.Action+" credits"), h.debug)
		return
	}

	res, err := h.ledger.ApplyCreditMutation(r.Context(), userID, action, *req.Amount, req.Description)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse{
		Message:     "Credits updated successfully",
		Profile:     res.Profile,
		LedgerEntry: res.Entry,
	})
}

// HandleGetCredits returns the credit counters.
//
// HTTP: GET /credits[?userId=...]
func (h *LedgerHandler) HandleGetCredits(w http.ResponseWriter, r *http.Request) {
	userID, _, err := targetUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	balance, err := h.ledger.GetCredits(r.Context(), userID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type historyResponse struct {
	Entries []model.LedgerEntry `json:"entries"`
}

// HandleHistory returns ledger entries, newest first.
//
// HTTP: GET /credits/history[?userId=...&limit=20&offset=0]
func (h *LedgerHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _, err := targetUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	entries, err := h.ledger.ListLedger(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

type subscriptionRequest struct {
	UserID                string     `json:"userId" validate:"required"`
	StripeCustomerID      *string    `json:"stripeCustomerId"`
	SubscriptionStatus    *string    `json:"subscriptionStatus" validate:"omitempty,oneof=free active cancelled past_due"`
	SubscriptionTier      *string    `json:"subscriptionTier" validate:"omitempty,oneof=basic pro premium"`
	SubscriptionStartDate *time.Time `json:"subscriptionStartDate"`
	SubscriptionEndDate   *time.Time `json:"subscriptionEndDate"`
}

func (req subscriptionRequest) update() model.SubscriptionUpdate {
	upd := model.SubscriptionUpdate{
		StripeCustomerID: req.StripeCustomerID,
		StartDate:        req.SubscriptionStartDate,
		EndDate:          req.SubscriptionEndDate,
	}
	if req.SubscriptionStatus != nil {
		s := model.SubscriptionStatus(*req.SubscriptionStatus)
		upd.Status = &s
	}
	if req.SubscriptionTier != nil {
		t := model.SubscriptionTier(*req.SubscriptionTier)
		upd.Tier = &t
	}
	return upd
}

type subscriptionUpdatedResponse struct {
	Message string         `json:"message"`
	Profile *model.Profile `json:"profile"`
}

// HandleUpdateSubscription overwrites the given subscription fields.
//
// HTTP: POST /subscription (internal callers only)
func (h *LedgerHandler) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}
	userID, caller, err := targetUser(r, req.UserID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	if !caller.Internal {
		writeError(w, apperror.Forbidden("only internal callers may update subscriptions"), h.debug)
		return
	}

	p, err := h.ledger.ApplySubscriptionUpdate(r.Context(), userID, req.update())
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	h.logger.Info("subscription updated", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, subscriptionUpdatedResponse{
		Message: "Subscription updated successfully",
		Profile: p,
	})
}

// HandleGetSubscription returns the profile, which carries the
// subscription fields.
//
// HTTP: GET /subscription[?userId=...]
func (h *LedgerHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, _, err := targetUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	p, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p})
}
