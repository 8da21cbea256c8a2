// Package repository declares the storage contracts used by the services.
//
// Two implementations live in sub-packages:
//   - repository/sqlite   → embedded, single-file database (dev, tests, small deployments)
//   - repository/postgres → pgx connection pool (production)
//
// Services depend only on these interfaces, so either backend can be wired
// in server.New without touching business logic.
package repository

import (
	"context"

	"github.com/sakif/reroom-bff/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// CreditMutation computes new credit counters from the current ones.
// It runs while the profile row is locked, so it must not block on I/O.
type CreditMutation func(remaining, purchased int) (newRemaining, newPurchased int, err error)

// ProfileRepository is the Profile Store Adapter over user_profiles.
// Every method is keyed by the identity's auth user id.
type ProfileRepository interface {
	// GetByAuthUserID returns apperror.ErrNotFound when no profile exists.
	GetByAuthUserID(ctx context.Context, authUserID string) (*model.Profile, error)

	// InsertOrFetch inserts p unless a row with the same auth_user_id exists,
	// and returns the stored row either way. created is false when another
	// writer got there first; the existing row is returned untouched.
	InsertOrFetch(ctx context.Context, p *model.Profile) (stored *model.Profile, created bool, err error)

	// UpdateDisplay refreshes the display-derived fields and updated_at.
	UpdateDisplay(ctx context.Context, authUserID, name, avatarURL string) (*model.Profile, error)

	// MutateCredits applies fn to the credit counters under a row lock and
	// returns the profile as it was before and after the change.
	MutateCredits(ctx context.Context, authUserID string, fn CreditMutation) (before, after *model.Profile, err error)

	// UpdateSubscription overwrites the non-nil fields of upd.
	UpdateSubscription(ctx context.Context, authUserID string, upd model.SubscriptionUpdate) (*model.Profile, error)
}

// LedgerRepository stores credits_log entries.
type LedgerRepository interface {
	Append(ctx context.Context, entry *model.LedgerEntry) error
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]model.LedgerEntry, error)
}

// PaymentEventRepository makes payment webhooks idempotent.
type PaymentEventRepository interface {
	// ClaimEvent records eventID and reports whether this call was the first.
	ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error)
	// ReleaseEvent forgets a claim so a failed event can be delivered again.
	ReleaseEvent(ctx context.Context, eventID string) error
}
