package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
)

type countingCredits struct {
	mu      sync.Mutex
	actions []string
}

func (c *countingCredits) ObserveCreditMutation(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action)
}

func newTestLedger() (*LedgerService, *mockProfileRepo, *mockLedgerRepo) {
	profiles := newMockProfileRepo()
	ledger := &mockLedgerRepo{}
	return NewLedgerService(profiles, ledger, nil, newTestLogger()), profiles, ledger
}

// =========================================================================
// ApplyCreditMutation TESTS
// =========================================================================

func TestApplyCreditMutation_Actions(t *testing.T) {
	cases := []struct {
		name          string
		start         int
		purchased     int
		action        model.CreditAction
		amount        int
		wantRemaining int
		wantPurchased int
	}{
		{"add", 5, 0, model.ActionAdd, 100, 105, 100},
		{"add to purchased", 5, 30, model.ActionAdd, 20, 25, 50},
		{"deduct", 5, 0, model.ActionDeduct, 2, 3, 0},
		{"deduct keeps purchased", 40, 30, model.ActionDeduct, 15, 25, 30},
		{"deduct clamps at zero", 5, 30, model.ActionDeduct, 10, 0, 30},
		{"deduct zero", 5, 0, model.ActionDeduct, 0, 5, 0},
		{"set", 5, 30, model.ActionSet, 50, 50, 30},
		{"set zero", 5, 30, model.ActionSet, 0, 0, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, profiles, ledger := newTestLedger()
			profiles.seedWith("u1", tc.start, tc.purchased)

			res, err := svc.ApplyCreditMutation(context.Background(), "u1", tc.action, tc.amount, "")
			if err != nil {
				t.Fatalf("ApplyCreditMutation() error = %v", err)
			}
			if res.Profile.CreditsRemaining != tc.wantRemaining || res.Profile.TotalCreditsPurchased != tc.wantPurchased {
				t.Errorf("credits = %d/%d, want %d/%d",
					res.Profile.CreditsRemaining, res.Profile.TotalCreditsPurchased, tc.wantRemaining, tc.wantPurchased)
			}

			if len(ledger.entries) != 1 {
				t.Fatalf("ledger entries = %d, want 1", len(ledger.entries))
			}
			e := ledger.entries[0]
			if e.CreditsBefore != tc.start || e.CreditsAfter != tc.wantRemaining || e.Amount != tc.amount {
				t.Errorf("entry = %+v", e)
			}
			if e.Description != tc.action.DefaultDescription() {
				t.Errorf("Description = %q", e.Description)
			}
			if res.Entry == nil || res.Entry.ID == "" {
				t.Errorf("result entry = %+v", res.Entry)
			}
		})
	}
}

func TestApplyCreditMutation_AddThenDeduct(t *testing.T) {
	svc, profiles, ledger := newTestLedger()
	profiles.seedWith("u1", 5, 0)
	ctx := context.Background()

	if _, err := svc.ApplyCreditMutation(ctx, "u1", model.ActionAdd, 50, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := svc.ApplyCreditMutation(ctx, "u1", model.ActionDeduct, 20, "")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}

	if res.Profile.CreditsRemaining != 35 || res.Profile.TotalCreditsPurchased != 50 {
		t.Errorf("credits = %d/%d, want 35/50", res.Profile.CreditsRemaining, res.Profile.TotalCreditsPurchased)
	}
	if len(ledger.entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(ledger.entries))
	}
	if e := ledger.entries[1]; e.CreditsBefore != 55 || e.CreditsAfter != 35 {
		t.Errorf("deduct entry = %d -> %d, want 55 -> 35", e.CreditsBefore, e.CreditsAfter)
	}
}

func TestApplyCreditMutation_Overflow(t *testing.T) {
	cases := []struct {
		name      string
		credits   int
		purchased int
		amount    int
	}{
		{"amount above maximum", 5, 0, model.MaxCredits + 1},
		{"remaining would overflow", model.MaxCredits - 10, 0, 11},
		{"purchased would overflow", 0, model.MaxCredits, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, profiles, ledger := newTestLedger()
			profiles.seedWith("u1", tc.credits, tc.purchased)

			_, err := svc.ApplyCreditMutation(context.Background(), "u1", model.ActionAdd, tc.amount, "")
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want validation error", err)
			}
			p, _ := profiles.GetByAuthUserID(context.Background(), "u1")
			if p.CreditsRemaining != tc.credits || p.TotalCreditsPurchased != tc.purchased {
				t.Errorf("profile changed to %d/%d", p.CreditsRemaining, p.TotalCreditsPurchased)
			}
			if len(ledger.entries) != 0 {
				t.Errorf("ledger entries = %d, want 0", len(ledger.entries))
			}
		})
	}
}

func TestApplyCreditMutation_CustomDescription(t *testing.T) {
	svc, profiles, ledger := newTestLedger()
	profiles.seed("u1", 5)

	if _, err := svc.ApplyCreditMutation(context.Background(), "u1", model.ActionAdd, 100, "Stripe purchase"); err != nil {
		t.Fatalf("ApplyCreditMutation() error = %v", err)
	}
	if ledger.entries[0].Description != "Stripe purchase" {
		t.Errorf("Description = %q", ledger.entries[0].Description)
	}
}

func TestApplyCreditMutation_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		user   string
		action model.CreditAction
		amount int
		want   error
	}{
		{"invalid action", "u1", "multiply", 5, apperror.ErrInvalidAction},
		{"negative set", "u1", model.ActionSet, -1, apperror.ErrValidation},
		{"negative add", "u1", model.ActionAdd, -1, apperror.ErrValidation},
		{"missing user id", "", model.ActionAdd, 1, apperror.ErrValidation},
		{"unknown user", "ghost", model.ActionAdd, 1, apperror.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, profiles, ledger := newTestLedger()
			profiles.seed("u1", 5)

			_, err := svc.ApplyCreditMutation(context.Background(), tc.user, tc.action, tc.amount, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			p, _ := profiles.GetByAuthUserID(context.Background(), "u1")
			if p.CreditsRemaining != 5 {
				t.Errorf("profile changed to %d credits", p.CreditsRemaining)
			}
			if len(ledger.entries) != 0 {
				t.Errorf("ledger entries = %d, want 0", len(ledger.entries))
			}
		})
	}
}

func TestApplyCreditMutation_LedgerFailureDoesNotFailMutation(t *testing.T) {
	svc, profiles, ledger := newTestLedger()
	profiles.seed("u1", 5)
	ledger.fail = true

	res, err := svc.ApplyCreditMutation(context.Background(), "u1", model.ActionAdd, 10, "")
	if err != nil {
		t.Fatalf("ApplyCreditMutation() error = %v", err)
	}
	if res.Profile.CreditsRemaining != 15 {
		t.Errorf("CreditsRemaining = %d, want 15", res.Profile.CreditsRemaining)
	}
	if res.Entry != nil {
		t.Errorf("Entry = %+v, want nil", res.Entry)
	}
}

func TestApplyCreditMutation_ConcurrentDeductsNeverGoNegative(t *testing.T) {
	profiles := newMockProfileRepo()
	obs := &countingCredits{}
	svc := NewLedgerService(profiles, &mockLedgerRepo{}, obs, newTestLogger())
	profiles.seed("u1", 10)

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.ApplyCreditMutation(context.Background(), "u1", model.ActionDeduct, 1, "")
		}()
	}
	wg.Wait()

	p, _ := profiles.GetByAuthUserID(context.Background(), "u1")
	if p.CreditsRemaining != 0 {
		t.Errorf("CreditsRemaining = %d, want 0", p.CreditsRemaining)
	}
	if len(obs.actions) != 25 {
		t.Errorf("observed mutations = %d, want 25", len(obs.actions))
	}
}

// =========================================================================
// SUBSCRIPTION / READ TESTS
// =========================================================================

func TestApplySubscriptionUpdate_PartialOverwrite(t *testing.T) {
	svc, profiles, _ := newTestLedger()
	profiles.seed("u1", 5)

	cus := "cus_123"
	active := model.StatusActive
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := svc.ApplySubscriptionUpdate(context.Background(), "u1", model.SubscriptionUpdate{
		StripeCustomerID: &cus, Status: &active, StartDate: &start,
	})
	if err != nil {
		t.Fatalf("ApplySubscriptionUpdate() error = %v", err)
	}
	if p.SubscriptionStatus != model.StatusActive || p.SubscriptionTier != model.TierBasic {
		t.Errorf("subscription = %s/%s, want active/basic", p.SubscriptionStatus, p.SubscriptionTier)
	}
	if p.StripeCustomerID == nil || *p.StripeCustomerID != cus || p.SubscriptionEndDate != nil {
		t.Errorf("profile = %+v", p)
	}

	// An unvalidated enum value is stored as given.
	odd := model.SubscriptionTier("enterprise")
	p, err = svc.ApplySubscriptionUpdate(context.Background(), "u1", model.SubscriptionUpdate{Tier: &odd})
	if err != nil || p.SubscriptionTier != odd || p.SubscriptionStatus != model.StatusActive {
		t.Errorf("second update = %+v, %v", p, err)
	}
}

func TestApplySubscriptionUpdate_EmptyAndUnknown(t *testing.T) {
	svc, profiles, _ := newTestLedger()
	profiles.seed("u1", 5)

	p, err := svc.ApplySubscriptionUpdate(context.Background(), "u1", model.SubscriptionUpdate{})
	if err != nil || p.AuthUserID != "u1" {
		t.Errorf("empty update = %+v, %v", p, err)
	}

	active := model.StatusActive
	if _, err := svc.ApplySubscriptionUpdate(context.Background(), "ghost", model.SubscriptionUpdate{Status: &active}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestGetCredits(t *testing.T) {
	svc, profiles, _ := newTestLedger()
	profiles.seed("u1", 7)

	bal, err := svc.GetCredits(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetCredits() error = %v", err)
	}
	if bal.CreditsRemaining != 7 || bal.TotalCreditsPurchased != 0 {
		t.Errorf("balance = %+v", bal)
	}
	if _, err := svc.GetCredits(context.Background(), "ghost"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetCredits(ghost) error = %v", err)
	}
}

func TestListLedger_ClampsPaging(t *testing.T) {
	svc, profiles, ledger := newTestLedger()
	profiles.seed("u1", 5)
	for range 3 {
		_, _ = svc.ApplyCreditMutation(context.Background(), "u1", model.ActionAdd, 1, "")
	}

	entries, err := svc.ListLedger(context.Background(), "u1", 500, -3)
	if err != nil {
		t.Fatalf("ListLedger() error = %v", err)
	}
	if len(entries) != 3 || entries[0].CreditsAfter != 8 {
		t.Errorf("entries = %+v", entries)
	}
	if ledger.lastOpt.Limit != MaxListLimit || ledger.lastOpt.Offset != 0 {
		t.Errorf("options = %+v", ledger.lastOpt)
	}

	_, _ = svc.ListLedger(context.Background(), "u1", 0, 0)
	if ledger.lastOpt.Limit != DefaultListLimit {
		t.Errorf("default limit = %d", ledger.lastOpt.Limit)
	}
}
