package model

import (
	"math"
	"time"
)

// MaxCredits bounds every credit counter and mutation amount. Balances are
// stored in 32-bit INTEGER columns.
const MaxCredits = math.MaxInt32

// CreditAction is the kind of credit mutation recorded in the ledger.
type CreditAction string

const (
	ActionAdd    CreditAction = "add"
	ActionDeduct CreditAction = "deduct"
	ActionSet    CreditAction = "set"
)

// Valid reports whether a is one of the supported actions.
func (a CreditAction) Valid() bool {
	switch a {
	case ActionAdd, ActionDeduct, ActionSet:
		return true
	}
	return false
}

// DefaultDescription is used when the caller does not describe a mutation.
func (a CreditAction) DefaultDescription() string {
	switch a {
	case ActionAdd:
		return "Credits added"
	case ActionDeduct:
		return "Credits deducted"
	case ActionSet:
		return "Credits set"
	}
	return "Credits " + string(a)
}

// LedgerEntry is an append-only audit record of a single credit mutation
// (table credits_log). UserID is the identity's auth user id.
type LedgerEntry struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Action        CreditAction `json:"action"`
	Amount        int          `json:"amount"`
	Description   string       `json:"description"`
	CreditsBefore int          `json:"credits_before"`
	CreditsAfter  int          `json:"credits_after"`
	CreatedAt     time.Time    `json:"created_at"`
}
