// Package model defines the data structures used throughout the application.
package model

import "time"

// SubscriptionStatus is the billing state of a profile.
type SubscriptionStatus string

const (
	StatusFree      SubscriptionStatus = "free"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// SubscriptionTier is the plan a profile is entitled to.
type SubscriptionTier string

const (
	TierBasic   SubscriptionTier = "basic"
	TierPro     SubscriptionTier = "pro"
	TierPremium SubscriptionTier = "premium"
)

// Entitlements granted to a profile the first time its identity is seen.
const (
	DefaultCredits          = 5
	DefaultCreditsPurchased = 0
)

// Profile is this system's own business record for an identity.
//
// ONE-TO-ONE WITH AN IDENTITY:
// AuthUserID is the identity provider's user id. It is UNIQUE in the store
// and is set once at creation, never changed. Every lookup from the HTTP
// surface ("userId") refers to this column, not to ID.
//
// WHO WRITES WHAT:
//   - reconciliation writes Name, AvatarURL (and everything at creation)
//   - the ledger writes the credit and subscription fields
//
// JSON uses snake_case because the browser client reads these column names
// directly (credits_remaining, subscription_status, ...).
type Profile struct {
	ID                    string             `json:"id"`
	AuthUserID            string             `json:"auth_user_id"`
	Email                 string             `json:"email"`
	Name                  string             `json:"name"`
	AvatarURL             string             `json:"avatar_url"`
	Provider              string             `json:"provider"`
	StripeCustomerID      *string            `json:"stripe_customer_id"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier      SubscriptionTier   `json:"subscription_tier"`
	SubscriptionStartDate *time.Time         `json:"subscription_start_date"`
	SubscriptionEndDate   *time.Time         `json:"subscription_end_date"`
	CreditsRemaining      int                `json:"credits_remaining"`
	TotalCreditsPurchased int                `json:"total_credits_purchased"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// SubscriptionUpdate carries the subscription fields a caller wants to
// overwrite. A nil pointer means "leave unchanged".
type SubscriptionUpdate struct {
	StripeCustomerID *string
	Status           *SubscriptionStatus
	Tier             *SubscriptionTier
	StartDate        *time.Time
	EndDate          *time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u SubscriptionUpdate) IsEmpty() bool {
	return u.StripeCustomerID == nil && u.Status == nil && u.Tier == nil &&
		u.StartDate == nil && u.EndDate == nil
}

// CreditBalance is the subset of a profile exposed by GET /credits.
type CreditBalance struct {
	CreditsRemaining      int `json:"credits_remaining"`
	TotalCreditsPurchased int `json:"total_credits_purchased"`
}
