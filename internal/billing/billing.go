// Package billing connects the ledger to Stripe.
//
// PAYMENT FLOW:
//  1. The signed-in user picks a plan; POST /checkout creates a Stripe
//     Checkout Session and returns its URL. The browser goes there.
//  2. The user pays on Stripe's hosted page and is sent back to
//     /dashboard/Payment/success?plan=<plan>. That page is cosmetic: it
//     grants nothing, because anyone can open the URL.
//  3. Stripe calls POST /webhooks/stripe with checkout.session.completed.
//     The signature is verified with the webhook secret, the event id is
//     claimed once, and only then are credits added or the plan activated.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
	"github.com/sakif/reroom-bff/internal/service"
)

// Plan is something a user can buy.
type Plan struct {
	ID          string
	Name        string
	Description string
	AmountCents int64
	Credits     int // credits granted on payment; 0 for subscription plans
	Tier        model.SubscriptionTier
}

// Plans available at checkout, keyed by plan id.
var Plans = map[string]Plan{
	"credits": {
		ID:          "credits",
		Name:        "Extra Credits Package",
		Description: "100 additional credits for ReRoom AI",
		AmountCents: 999,
		Credits:     100,
	},
	"pro": {
		ID:          "pro",
		Name:        "ReRoom AI Pro Plan",
		Description: "Unlimited generations and premium features",
		AmountCents: 1999,
		Tier:        model.TierPro,
	},
}

// CheckoutCreator creates Checkout Sessions. *session.Client from
// stripe-go implements it; tests use a fake.
type CheckoutCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Ledger is the part of the ledger service a payment needs.
type Ledger interface {
	ApplyCreditMutation(ctx context.Context, userID string, action model.CreditAction, amount int, description string) (*service.CreditMutationResult, error)
	ApplySubscriptionUpdate(ctx context.Context, userID string, upd model.SubscriptionUpdate) (*model.Profile, error)
}

// WebhookObserver is notified of every processed webhook.
type WebhookObserver interface {
	ObserveWebhook(eventType, outcome string)
}

// Config holds the Stripe settings.
type Config struct {
	WebhookSecret string
	PublicURL     string // where the browser app lives, e.g. https://reroom.ai
}

// Service creates checkouts and applies completed payments.
type Service struct {
	checkout CheckoutCreator
	ledger   Ledger
	events   repository.PaymentEventRepository
	observer WebhookObserver // optional
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a billing Service. observer may be nil.
func NewService(checkout CheckoutCreator, ledger Ledger, events repository.PaymentEventRepository, observer WebhookObserver, cfg Config, logger *slog.Logger) *Service {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		checkout: checkout,
		ledger:   ledger,
		events:   events,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckoutRequest is a request to pay for a plan.
type CheckoutRequest struct {
	UserID      string
	Email       string
	Plan        string
	AmountCents int64  // optional; may raise the price, never lower it
	PlanName    string // optional display name override
}

// CreateCheckout creates a one-time payment Checkout Session and returns
// the URL to send the browser to.
func (s *Service) CreateCheckout(_ context.Context, req CheckoutRequest) (string, error) {
	plan, ok := Plans[req.Plan]
	if !ok {
		return "", apperror.ValidationFailed("plan", "Invalid plan")
	}
	if req.UserID == "" {
		return "", apperror.ValidationFailed("userId", "userId is required")
	}

	amount := plan.AmountCents
	if req.AmountCents != 0 {
		if req.AmountCents < plan.AmountCents {
			return "", apperror.ValidationFailed("amount", fmt.Sprintf("amount must be at least %d", plan.AmountCents))
		}
		amount = req.AmountCents
	}
	planName := plan.Name
	if n := strings.TrimSpace(req.PlanName); n != "" {
		planName = n
	}

	q := url.Values{"plan": {plan.ID}}.Encode()
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(planName),
					Description: stripe.String(plan.Description),
				},
				UnitAmount: stripe.Int64(amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(s.cfg.PublicURL + "/dashboard/Payment/success?" + q),
		CancelURL:         stripe.String(s.cfg.PublicURL + "/dashboard/Payment/reject?" + q),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("plan", plan.ID)
	params.AddMetadata("planName", planName)
	params.AddMetadata("user_id", req.UserID)

	cs, err := s.checkout.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
			return "", apperror.ValidationFailed("plan", se.Msg)
		}
		return "", apperror.Upstream("payment processor", err)
	}

	s.logger.Info("checkout session created",
		slog.String("user_id", req.UserID),
		slog.String("plan", plan.ID),
		slog.String("session_id", cs.ID),
	)
	return cs.URL, nil
}

// HandleWebhook verifies and applies a Stripe webhook delivery.
//
// IDEMPOTENCY:
// Stripe delivers at least once. The event id is claimed in
// payment_events before anything is granted; a redelivery finds the claim
// and is acknowledged without effect.
//
// FAILURES:
// A transient failure (store down) releases the claim and returns an error,
// so Stripe retries later. A permanent one (unknown plan, no user, missing
// profile) would fail the same way on every retry: it is logged, the claim
// is kept and the delivery acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.observe("unknown", "rejected")
		return apperror.ValidationFailed("signature", "invalid webhook signature")
	}
	eventType := string(event.Type)

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.observe(eventType, "ignored")
		return nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		s.logger.Error("dropping webhook with malformed checkout session",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		s.observe(eventType, "dropped")
		return nil
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.observe(eventType, "ignored")
		return nil
	}

	first, err := s.events.ClaimEvent(ctx, event.ID, eventType)
	if err != nil {
		s.observe(eventType, "failed")
		return fmt.Errorf("billing: claiming event %s: %w", event.ID, err)
	}
	if !first {
		s.logger.Info("duplicate webhook delivery", slog.String("event_id", event.ID))
		s.observe(eventType, "duplicate")
		return nil
	}

	if err := s.fulfil(ctx, &cs); err != nil {
		if permanent(err) {
			s.logger.Error("dropping unfulfillable webhook",
				slog.String("event_id", event.ID),
				slog.String("checkout_session", cs.ID),
				slog.String("error", err.Error()),
			)
			s.observe(eventType, "dropped")
			return nil
		}
		if relErr := s.events.ReleaseEvent(ctx, event.ID); relErr != nil {
			s.logger.Error("failed to release payment event",
				slog.String("event_id", event.ID),
				slog.String("error", relErr.Error()),
			)
		}
		s.observe(eventType, "failed")
		return fmt.Errorf("billing: fulfilling event %s: %w", event.ID, err)
	}

	s.observe(eventType, "applied")
	return nil
}

// fulfil grants what a paid checkout session bought.
func (s *Service) fulfil(ctx context.Context, cs *stripe.CheckoutSession) error {
	userID := cs.ClientReferenceID
	if userID == "" {
		userID = cs.Metadata["user_id"]
	}
	if userID == "" {
		return apperror.ValidationFailed("client_reference_id", "checkout session has no user")
	}

	plan, ok := Plans[cs.Metadata["plan"]]
	if !ok {
		return apperror.ValidationFailed("plan", fmt.Sprintf("unknown plan %q", cs.Metadata["plan"]))
	}

	if plan.Credits > 0 {
		_, err := s.ledger.ApplyCreditMutation(ctx, userID, model.ActionAdd, plan.Credits,
			"Purchased "+plan.Name)
		return err
	}

	active := model.StatusActive
	tier := plan.Tier
	start := s.now().UTC()
	upd := model.SubscriptionUpdate{Status: &active, Tier: &tier, StartDate: &start}
	if cs.Customer != nil && cs.Customer.ID != "" {
		upd.StripeCustomerID = &cs.Customer.ID
	}
	_, err := s.ledger.ApplySubscriptionUpdate(ctx, userID, upd)
	return err
}

// permanent reports whether retrying the delivery could never succeed.
func permanent(err error) bool {
	return errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrNotFound) ||
		errors.Is(err, apperror.ErrInvalidAction)
}

func (s *Service) observe(eventType, outcome string) {
	if s.observer != nil {
		s.observer.ObserveWebhook(eventType, outcome)
	}
}

// NewStripeCheckout returns the stripe-go Checkout Sessions client for key.
func NewStripeCheckout(secretKey string) CheckoutCreator {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}
