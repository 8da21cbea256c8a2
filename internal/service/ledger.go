package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

// Pagination limits for ListLedger.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// CreditObserver is notified of every applied credit mutation.
type CreditObserver interface {
	ObserveCreditMutation(action string)
}

// LedgerService applies credit and subscription mutations to profiles.
type LedgerService struct {
	profiles repository.ProfileRepository
	ledger   repository.LedgerRepository
	observer CreditObserver // optional
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService. observer may be nil.
func NewLedgerService(profiles repository.ProfileRepository, ledger repository.LedgerRepository, observer CreditObserver, logger *slog.Logger) *LedgerService {
	return &LedgerService{profiles: profiles, ledger: ledger, observer: observer, logger: logger}
}

// CreditMutationResult is the updated profile plus the audit entry written
// for it. Entry is nil when the audit write failed.
type CreditMutationResult struct {
	Profile *model.Profile
	Entry   *model.LedgerEntry
}

// ApplyCreditMutation changes a profile's credits.
//
// ACTIONS:
//
//	add    remaining += amount, total purchased += amount
//	deduct remaining -= amount, clamped at 0
//	set    remaining  = amount (purchased unchanged)
//
// No counter may exceed model.MaxCredits; an add that would overflow one
// is a ValidationError and leaves the profile untouched.
//
// The read-modify-write runs under the store's row lock, so concurrent
// mutations of one profile never lose updates. The audit entry is written
// afterwards; if that fails the mutation still stands and the failure is
// logged.
func (s *LedgerService) ApplyCreditMutation(ctx context.Context, userID string, action model.CreditAction, amount int, description string) (*CreditMutationResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	if !action.Valid() {
		return nil, apperror.InvalidAction(string(action))
	}
	if amount < 0 {
		return nil, apperror.ValidationFailed("amount", "amount must not be negative")
	}
	if amount > model.MaxCredits {
		return nil, apperror.ValidationFailed("amount", fmt.Sprintf("amount must not exceed %d", model.MaxCredits))
	}

	before, after, err := s.profiles.MutateCredits(ctx, userID, func(remaining, purchased int) (int, int, error) {
		switch action {
		case model.ActionAdd:
			if remaining > model.MaxCredits-amount || purchased > model.MaxCredits-amount {
				return 0, 0, apperror.ValidationFailed("amount", "credit balance would exceed the maximum")
			}
			return remaining + amount, purchased + amount, nil
		case model.ActionDeduct:
			return max(remaining-amount, 0), purchased, nil
		default: // set
			return amount, purchased, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("service/ledger: %s %d credits for %s: %w", action, amount, userID, err)
	}

	if s.observer != nil {
		s.observer.ObserveCreditMutation(string(action))
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = action.DefaultDescription()
	}
	entry := &model.LedgerEntry{
		UserID:        userID,
		Action:        action,
		Amount:        amount,
		Description:   description,
		CreditsBefore: before.CreditsRemaining,
		CreditsAfter:  after.CreditsRemaining,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to write credits log entry",
			slog.String("user_id", userID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		entry = nil
	}

	s.logger.Info("credits updated",
		slog.String("user_id", userID),
		slog.String("action", string(action)),
		slog.Int("amount", amount),
		slog.Int("credits_before", before.CreditsRemaining),
		slog.Int("credits_after", after.CreditsRemaining),
	)
	return &CreditMutationResult{Profile: after, Entry: entry}, nil
}

// ApplySubscriptionUpdate overwrites the supplied subscription fields.
// Status and tier values are not checked here; the HTTP layer validates them.
func (s *LedgerService) ApplySubscriptionUpdate(ctx context.Context, userID string, upd model.SubscriptionUpdate) (*model.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}

	if upd.IsEmpty() {
		p, err := s.profiles.GetByAuthUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("service/ledger: fetching profile %s: %w", userID, err)
		}
		return p, nil
	}

	p, err := s.profiles.UpdateSubscription(ctx, userID, upd)
	if err != nil {
		return nil, fmt.Errorf("service/ledger: updating subscription for %s: %w", userID, err)
	}
	s.logger.Info("subscription updated",
		slog.String("user_id", userID),
		slog.String("status", string(p.SubscriptionStatus)),
		slog.String("tier", string(p.SubscriptionTier)),
	)
	return p, nil
}

// GetCredits returns the credit counters of a profile.
func (s *LedgerService) GetCredits(ctx context.Context, userID string) (*model.CreditBalance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	p, err := s.profiles.GetByAuthUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/ledger: fetching credits for %s: %w", userID, err)
	}
	return &model.CreditBalance{
		CreditsRemaining:      p.CreditsRemaining,
		TotalCreditsPurchased: p.TotalCreditsPurchased,
	}, nil
}

// ListLedger returns a user's credits_log entries, newest first.
func (s *LedgerService) ListLedger(ctx context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	entries, err := s.ledger.ListByUser(ctx, userID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/ledger: listing entries for %s: %w", userID, err)
	}
	return entries, nil
}
