// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the profile store
//
// Two services live here:
//
//   - ProfileService / ProfileSyncer: the Profile Reconciler. After every
//     sign-in it makes sure exactly one business profile exists for the
//     identity and keeps its display fields fresh.
//   - LedgerService: the Credit/Subscription Ledger. Bounded credit
//     mutations with an audit trail, plus subscription field updates.
//
// DEPENDENCY INJECTION:
// Services take repository interfaces, not *sqlite.DB or *postgres.DB, so
// tests pass in-memory fakes and main.go picks the backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

// ProfileService reconciles identities with business profiles.
type ProfileService struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

// NewProfileService creates a ProfileService.
func NewProfileService(profiles repository.ProfileRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, logger: logger}
}

// Reconcile ensures exactly one profile exists for identity and returns it.
//
// RECONCILIATION RULES:
//  1. Profile exists → refresh name and avatar_url only. Credits,
//     subscription, email and provider are never touched here.
//  2. No profile → insert the default profile (free, basic, 5 credits).
//     The store's insert-or-fetch makes this atomic: if a concurrent sign-in
//     created the row first, that row is returned untouched.
//
// name, when non-empty, wins over anything in the identity's metadata (the
// sign-up form sends it before the provider has stored it).
//
// The identity itself is never modified.
func (s *ProfileService) Reconcile(ctx context.Context, identity model.Identity, name string) (*model.Profile, error) {
	if identity.ID == "" {
		return nil, apperror.ValidationFailed("id", "identity id is required")
	}
	if identity.Email == "" {
		return nil, apperror.ValidationFailed("email", "identity email is required")
	}

	displayName := strings.TrimSpace(name)
	if displayName == "" {
		displayName = identity.DisplayName()
	}
	avatar := identity.AvatarURL()

	_, err := s.profiles.GetByAuthUserID(ctx, identity.ID)
	switch {
	case err == nil:
		updated, err := s.profiles.UpdateDisplay(ctx, identity.ID, displayName, avatar)
		if err != nil {
			return nil, fmt.Errorf("service/profile: updating profile for %s: %w", identity.ID, err)
		}
		return updated, nil

	case errors.Is(err, apperror.ErrNotFound):
		// fall through to creation

	default:
		return nil, fmt.Errorf("service/profile: looking up profile for %s: %w", identity.ID, err)
	}

	stored, created, err := s.profiles.InsertOrFetch(ctx, &model.Profile{
		AuthUserID:            identity.ID,
		Email:                 identity.Email,
		Name:                  displayName,
		AvatarURL:             avatar,
		Provider:              identity.Provider(),
		SubscriptionStatus:    model.StatusFree,
		SubscriptionTier:      model.TierBasic,
		CreditsRemaining:      model.DefaultCredits,
		TotalCreditsPurchased: model.DefaultCreditsPurchased,
	})
	if err != nil {
		return nil, fmt.Errorf("service/profile: creating profile for %s: %w", identity.ID, err)
	}

	if created {
		s.logger.Info("profile created",
			slog.String("user_id", identity.ID),
			slog.String("provider", stored.Provider),
		)
	} else {
		s.logger.Debug("profile created concurrently, using existing row",
			slog.String("user_id", identity.ID))
	}
	return stored, nil
}

// GetProfile returns the profile of the given auth user id.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	p, err := s.profiles.GetByAuthUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching profile %s: %w", userID, err)
	}
	return p, nil
}
