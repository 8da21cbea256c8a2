package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

// =========================================================================
// MOCK REPOSITORIES
// =========================================================================
//
// Hand-written in-memory implementations of the repository interfaces.
// They follow the same contracts as the SQL stores (NotFound errors,
// insert-or-fetch, locked mutation) so the services can be tested without
// a database.

var errStoreDown = errors.New("store unavailable")

type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile // auth user id → profile
	nextID   int

	failGet    bool
	failInsert bool
	getCalls   int
	inserts    int
	updates    int
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[string]*model.Profile)}
}

func (m *mockProfileRepo) GetByAuthUserID(_ context.Context, authUserID string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.failGet {
		return nil, errStoreDown
	}
	p, ok := m.profiles[authUserID]
	if !ok {
		return nil, apperror.NotFound("profile", authUserID)
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) InsertOrFetch(_ context.Context, p *model.Profile) (*model.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert {
		return nil, false, errStoreDown
	}
	if existing, ok := m.profiles[p.AuthUserID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	m.inserts++
	m.nextID++
	stored := *p
	stored.ID = fmt.Sprintf("mock-%d", m.nextID)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.profiles[p.AuthUserID] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *mockProfileRepo) UpdateDisplay(_ context.Context, authUserID, name, avatarURL string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[authUserID]
	if !ok {
		return nil, apperror.NotFound("profile", authUserID)
	}
	m.updates++
	p.Name = name
	p.AvatarURL = avatarURL
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) MutateCredits(_ context.Context, authUserID string, fn repository.CreditMutation) (*model.Profile, *model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[authUserID]
	if !ok {
		return nil, nil, apperror.NotFound("profile", authUserID)
	}
	before := *p
	remaining, purchased, err := fn(p.CreditsRemaining, p.TotalCreditsPurchased)
	if err != nil {
		return nil, nil, err
	}
	p.CreditsRemaining = remaining
	p.TotalCreditsPurchased = purchased
	after := *p
	return &before, &after, nil
}

func (m *mockProfileRepo) UpdateSubscription(_ context.Context, authUserID string, upd model.SubscriptionUpdate) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[authUserID]
	if !ok {
		return nil, apperror.NotFound("profile", authUserID)
	}
	if upd.StripeCustomerID != nil {
		p.StripeCustomerID = upd.StripeCustomerID
	}
	if upd.Status != nil {
		p.SubscriptionStatus = *upd.Status
	}
	if upd.Tier != nil {
		p.SubscriptionTier = *upd.Tier
	}
	if upd.StartDate != nil {
		p.SubscriptionStartDate = upd.StartDate
	}
	if upd.EndDate != nil {
		p.SubscriptionEndDate = upd.EndDate
	}
	cp := *p
	return &cp, nil
}

// seed stores a default profile for userID.
func (m *mockProfileRepo) seed(userID string, credits int) {
	m.seedWith(userID, credits, 0)
}

// seedWith stores a profile with the given remaining and purchased credits.
func (m *mockProfileRepo) seedWith(userID string, credits, purchased int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = &model.Profile{
		ID: "seed-" + userID, AuthUserID: userID, Email: userID + "@example.com",
		Name: "Seed", Provider: "email",
		SubscriptionStatus: model.StatusFree, SubscriptionTier: model.TierBasic,
		CreditsRemaining: credits, TotalCreditsPurchased: purchased,
	}
}

type mockLedgerRepo struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
	fail    bool
	lastOpt repository.ListOptions
}

func (m *mockLedgerRepo) Append(_ context.Context, e *model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	e.ID = fmt.Sprintf("entry-%d", len(m.entries)+1)
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockLedgerRepo) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpt = opts
	var out []model.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testIdentity(id string) model.Identity {
	return model.Identity{
		ID:    id,
		Email: id + "@example.com",
		UserMetadata: map[string]any{
			"full_name":  "Ada Lovelace",
			"avatar_url": "https://img.example.com/ada.png",
		},
		AppMetadata: map[string]any{"provider": "google"},
	}
}
