package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
)

// =========================================================================
// Reconcile TESTS
// =========================================================================

func TestReconcile_CreatesDefaultProfile(t *testing.T) {
	repo := newMockProfileRepo()
	svc := NewProfileService(repo, newTestLogger())

	p, err := svc.Reconcile(context.Background(), testIdentity("u1"), "")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if p.AuthUserID != "u1" || p.Email != "u1@example.com" {
		t.Errorf("identity fields = %q, %q", p.AuthUserID, p.Email)
	}
	if p.Name != "Ada Lovelace" || p.AvatarURL != "https://img.example.com/ada.png" || p.Provider != "google" {
		t.Errorf("display fields = %q, %q, %q", p.Name, p.AvatarURL, p.Provider)
	}
	if p.SubscriptionStatus != model.StatusFree || p.SubscriptionTier != model.TierBasic {
		t.Errorf("subscription = %s/%s, want free/basic", p.SubscriptionStatus, p.SubscriptionTier)
	}
	if p.CreditsRemaining != 5 || p.TotalCreditsPurchased != 0 {
		t.Errorf("credits = %d/%d, want 5/0", p.CreditsRemaining, p.TotalCreditsPurchased)
	}
}

func TestReconcile_ExistingProfileOnlyDisplayFieldsChange(t *testing.T) {
	repo := newMockProfileRepo()
	repo.seed("u1", 42)
	active := model.StatusActive
	_, _ = repo.UpdateSubscription(context.Background(), "u1", model.SubscriptionUpdate{Status: &active})
	svc := NewProfileService(repo, newTestLogger())

	id := testIdentity("u1")
	id.Email = "changed@example.com"
	id.AppMetadata = map[string]any{"provider": "github"}

	p, err := svc.Reconcile(context.Background(), id, "")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if p.Name != "Ada Lovelace" || p.AvatarURL != "https://img.example.com/ada.png" {
		t.Errorf("display fields not refreshed: %+v", p)
	}
	if p.CreditsRemaining != 42 || p.SubscriptionStatus != model.StatusActive {
		t.Errorf("ledger fields changed: credits=%d status=%s", p.CreditsRemaining, p.SubscriptionStatus)
	}
	if p.Email != "u1@example.com" || p.Provider != "email" {
		t.Errorf("immutable fields changed: email=%q provider=%q", p.Email, p.Provider)
	}
	if repo.inserts != 0 {
		t.Errorf("inserts = %d, want 0", repo.inserts)
	}
}

func TestReconcile_NamePrecedence(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		meta     map[string]any
		want     string
	}{
		{"explicit wins", "Given", map[string]any{"full_name": "Full", "name": "Short"}, "Given"},
		{"full_name", "", map[string]any{"full_name": "Full", "name": "Short"}, "Full"},
		{"name", "", map[string]any{"name": "Short"}, "Short"},
		{"email local part", "", nil, "u1"},
		{"blank explicit ignored", "   ", map[string]any{"name": "Short"}, "Short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewProfileService(newMockProfileRepo(), newTestLogger())
			id := model.Identity{ID: "u1", Email: "u1@example.com", UserMetadata: tc.meta}

			p, err := svc.Reconcile(context.Background(), id, tc.explicit)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if p.Name != tc.want {
				t.Errorf("Name = %q, want %q", p.Name, tc.want)
			}
		})
	}
}

func TestReconcile_AvatarFallsBackToPicture(t *testing.T) {
	svc := NewProfileService(newMockProfileRepo(), newTestLogger())
	id := model.Identity{ID: "u1", Email: "u1@example.com", UserMetadata: map[string]any{"picture": "https://pic"}}

	p, err := svc.Reconcile(context.Background(), id, "")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if p.AvatarURL != "https://pic" || p.Provider != "email" {
		t.Errorf("avatar=%q provider=%q", p.AvatarURL, p.Provider)
	}
}

func TestReconcile_DoesNotMutateIdentity(t *testing.T) {
	svc := NewProfileService(newMockProfileRepo(), newTestLogger())
	id := testIdentity("u1")
	before := id.UserMeta("full_name")

	_, _ = svc.Reconcile(context.Background(), id, "Other Name")
	if id.UserMeta("full_name") != before || len(id.UserMetadata) != 2 {
		t.Errorf("identity metadata changed: %v", id.UserMetadata)
	}
}

func TestReconcile_ConcurrentCallsCreateOneProfile(t *testing.T) {
	repo := newMockProfileRepo()
	svc := NewProfileService(repo, newTestLogger())

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.Reconcile(context.Background(), testIdentity("u1"), "")
			if err != nil {
				t.Errorf("Reconcile() error = %v", err)
				return
			}
			ids[i] = p.ID
		}()
	}
	wg.Wait()

	if repo.inserts != 1 {
		t.Errorf("inserts = %d, want 1", repo.inserts)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers saw different profiles: %v", ids)
		}
	}
}

func TestReconcile_Errors(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*mockProfileRepo)
		id    model.Identity
		isVal bool
	}{
		{"missing id", nil, model.Identity{Email: "a@b.c"}, true},
		{"missing email", nil, model.Identity{ID: "u1"}, true},
		{"lookup fails", func(r *mockProfileRepo) { r.failGet = true }, testIdentity("u1"), false},
		{"insert fails", func(r *mockProfileRepo) { r.failInsert = true }, testIdentity("u1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockProfileRepo()
			if tc.setup != nil {
				tc.setup(repo)
			}
			_, err := NewProfileService(repo, newTestLogger()).Reconcile(context.Background(), tc.id, "")
			if err == nil {
				t.Fatal("Reconcile() should fail")
			}
			if got := errors.Is(err, apperror.ErrValidation); got != tc.isVal {
				t.Errorf("errors.Is(ErrValidation) = %v, want %v (err = %v)", got, tc.isVal, err)
			}
			if !tc.isVal && !errors.Is(err, errStoreDown) {
				t.Errorf("store error not wrapped: %v", err)
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	repo := newMockProfileRepo()
	repo.seed("u1", 5)
	svc := NewProfileService(repo, newTestLogger())

	if _, err := svc.GetProfile(context.Background(), "u1"); err != nil {
		t.Errorf("GetProfile() error = %v", err)
	}
	if _, err := svc.GetProfile(context.Background(), "nobody"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetProfile(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetProfile(context.Background(), ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("GetProfile(\"\") error = %v, want ErrValidation", err)
	}
}
