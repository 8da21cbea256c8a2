package handler_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/billing"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/service"
	"github.com/stretchr/testify/require"
)

const testInternalKey = "internal-test-key"

var (
	hasher       = auth.NewKeyHasherForTest(4)
	keyHashOnce  sync.Once
	internalHash string
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// internalKeyHash hashes testInternalKey once; bcrypt is slow even at cost 4.
func internalKeyHash(t *testing.T) string {
	t.Helper()
	keyHashOnce.Do(func() {
		h, err := hasher.Hash(testInternalKey)
		if err != nil {
			panic(err)
		}
		internalHash = h
	})
	return internalHash
}

func testSession(userID string) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
		SessionID:    "sess-" + userID,
		User:         model.Identity{ID: userID, Email: userID + "@example.com"},
	}
}

func testProfile(userID string) *model.Profile {
	return &model.Profile{
		ID:                 "p-" + userID,
		AuthUserID:         userID,
		Email:              userID + "@example.com",
		Name:               userID,
		Provider:           "email",
		SubscriptionStatus: model.StatusFree,
		SubscriptionTier:   model.TierBasic,
		CreditsRemaining:   model.DefaultCredits,
	}
}

// =========================================================================
// REQUEST HELPERS
// =========================================================================

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asInternal(req *http.Request) *http.Request {
	req.Header.Set(auth.InternalKeyHeader, testInternalKey)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), "body: %s", rec.Body.String())
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Detail  string `json:"detail"`
}

func cookieValues(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// =========================================================================
// FAKES
// =========================================================================

// fakeSessions answers SessionFromRequest with a fixed session.
type fakeSessions struct {
	session *auth.Session
	err     error
}

func (f *fakeSessions) SessionFromRequest(*http.Request) (*auth.Session, error) {
	return f.session, f.err
}

// withCaller wraps h in auth.RequireCaller, with the given session standing
// in for the browser's cookies.
func withCaller(t *testing.T, s *auth.Session, h http.HandlerFunc) http.Handler {
	t.Helper()
	mw := auth.RequireCaller(&fakeSessions{session: s}, auth.Cookies{MaxAge: time.Hour},
		hasher, internalKeyHash(t), newTestLogger())
	return mw(h)
}

type fakeAuthenticator struct {
	session    *auth.Session
	signUp     *auth.SignUpResult
	err        error
	oauthState string
	signOutErr error

	gotEmail, gotPassword, gotName string
	gotExpected, gotReturned       string
	gotCode                        string
	signOutCalls                   int
}

func (f *fakeAuthenticator) SignInWithPassword(_ context.Context, email, password string) (*auth.Session, error) {
	f.gotEmail, f.gotPassword = email, password
	return f.session, f.err
}

func (f *fakeAuthenticator) SignUpWithPassword(_ context.Context, email, password, name string) (*auth.SignUpResult, error) {
	f.gotEmail, f.gotPassword, f.gotName = email, password, name
	return f.signUp, f.err
}

func (f *fakeAuthenticator) BeginOAuth(provider string) (*auth.OAuthStart, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.OAuthStart{URL: "https://accounts.example.com/auth?state=" + f.oauthState, State: f.oauthState}, nil
}

func (f *fakeAuthenticator) CompleteOAuth(_ context.Context, _, expected, returned, code string) (*auth.Session, error) {
	f.gotExpected, f.gotReturned, f.gotCode = expected, returned, code
	if expected == "" || expected != returned {
		return nil, apperror.CSRFMismatch()
	}
	return f.session, f.err
}

func (f *fakeAuthenticator) SessionFromRequest(*http.Request) (*auth.Session, error) {
	return f.session, f.err
}

func (f *fakeAuthenticator) SignOut(context.Context, *auth.Session) error {
	f.signOutCalls++
	return f.signOutErr
}

type fakeSyncer struct {
	calls []string // user ids
	names []string
}

func (f *fakeSyncer) Sync(_ context.Context, s *auth.Session, name string) service.SyncResult {
	f.calls = append(f.calls, s.User.ID)
	f.names = append(f.names, name)
	return service.SyncResult{Outcome: service.SyncReconciled}
}

type fakeProfiles struct {
	profile    *model.Profile
	err        error
	reconciled []model.Identity
	names      []string
	gets       []string
}

func (f *fakeProfiles) Reconcile(_ context.Context, identity model.Identity, name string) (*model.Profile, error) {
	f.reconciled = append(f.reconciled, identity)
	f.names = append(f.names, name)
	if f.err != nil {
		return nil, f.err
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return testProfile(identity.ID), nil
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	f.gets = append(f.gets, userID)
	if f.err != nil {
		return nil, f.err
	}
	return testProfile(userID), nil
}

type creditCall struct {
	userID      string
	action      model.CreditAction
	amount      int
	description string
}

type fakeLedger struct {
	err      error
	credits  []creditCall
	subs     []model.SubscriptionUpdate
	listArgs [3]any
	entries  []model.LedgerEntry
}

func (f *fakeLedger) ApplyCreditMutation(_ context.Context, userID string, action model.CreditAction, amount int, description string) (*service.CreditMutationResult, error) {
	f.credits = append(f.credits, creditCall{userID, action, amount, description})
	if f.err != nil {
		return nil, f.err
	}
	if !action.Valid() {
		return nil, apperror.InvalidAction(string(action))
	}
	p := testProfile(userID)
	p.CreditsRemaining = 4
	return &service.CreditMutationResult{
		Profile: p,
		Entry:   &model.LedgerEntry{ID: "e1", UserID: userID, Action: action, Amount: amount},
	}, nil
}

func (f *fakeLedger) ApplySubscriptionUpdate(_ context.Context, userID string, upd model.SubscriptionUpdate) (*model.Profile, error) {
	f.subs = append(f.subs, upd)
	if f.err != nil {
		return nil, f.err
	}
	p := testProfile(userID)
	if upd.Status != nil {
		p.SubscriptionStatus = *upd.Status
	}
	if upd.Tier != nil {
		p.SubscriptionTier = *upd.Tier
	}
	return p, nil
}

func (f *fakeLedger) GetCredits(_ context.Context, userID string) (*model.CreditBalance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.CreditBalance{CreditsRemaining: 5, TotalCreditsPurchased: 100}, nil
}

func (f *fakeLedger) ListLedger(_ context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error) {
	f.listArgs = [3]any{userID, limit, offset}
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

type fakePayments struct {
	url        string
	err        error
	checkouts  []billing.CheckoutRequest
	payloads   [][]byte
	signatures []string
}

func (f *fakePayments) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (string, error) {
	f.checkouts = append(f.checkouts, req)
	return f.url, f.err
}

func (f *fakePayments) HandleWebhook(_ context.Context, payload []byte, sig string) error {
	f.payloads = append(f.payloads, payload)
	f.signatures = append(f.signatures, sig)
	return f.err
}
