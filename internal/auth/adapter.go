package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
)

// SignUpResult is the outcome of a registration. Session is nil when the
// project requires email confirmation before the first sign-in.
type SignUpResult struct {
	User    model.Identity
	Session *Session
}

// VerificationRequired reports whether the user must confirm their email.
func (r *SignUpResult) VerificationRequired() bool {
	return r.Session == nil
}

// OAuthStart is what the caller needs to begin an OAuth redirect: the URL
// to send the browser to and the state to store in the oauth_state cookie.
type OAuthStart struct {
	URL   string
	State string
}

// Adapter is the single entry point for everything identity related.
//
// Both contexts of the application go through it: the API handlers (sign-in,
// sign-up, OAuth) and the page guard (session from cookies). It owns no
// state besides injected clients; every session lives in the caller's cookies.
type Adapter struct {
	gotrue   *GoTrueClient
	verifier *TokenVerifier // nil → validate tokens with GoTrue GET /user
	google   OAuthProvider  // nil → Google sign-in disabled
	notifier *Notifier
	logger   *slog.Logger
}

// NewAdapter creates an Adapter. verifier and google may be nil.
func NewAdapter(gotrue *GoTrueClient, verifier *TokenVerifier, google OAuthProvider, notifier *Notifier, logger *slog.Logger) *Adapter {
	return &Adapter{
		gotrue:   gotrue,
		verifier: verifier,
		google:   google,
		notifier: notifier,
		logger:   logger,
	}
}

// SignInWithPassword authenticates with email and password.
func (a *Adapter) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	s, err := a.gotrue.PasswordGrant(ctx, email, password)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, apperror.Unauthorized("invalid login credentials")
		}
		return nil, err
	}

	a.publishSignedIn(s)
	return s, nil
}

// SignUpWithPassword registers a new account. The display name is stored
// in user_metadata.full_name, where reconciliation picks it up.
func (a *Adapter) SignUpWithPassword(ctx context.Context, email, password, displayName string) (*SignUpResult, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)
	switch {
	case displayName == "":
		return nil, apperror.ValidationFailed("name", "name is required")
	case email == "":
		return nil, apperror.ValidationFailed("email", "email is required")
	case password == "":
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, s, err := a.gotrue.SignUp(ctx, email, password, map[string]any{"full_name": displayName})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			msg := pe.Message
			if pe.Code == "user_already_exists" || pe.Code == "email_exists" || pe.Status == http.StatusUnprocessableEntity {
				msg = "Email already registered"
			}
			return nil, apperror.ValidationFailed("email", msg)
		}
		return nil, err
	}

	if s != nil {
		a.publishSignedIn(s)
	}
	return &SignUpResult{User: *user, Session: s}, nil
}

// BeginOAuth starts a Google sign-in. The state is a random UUIDv4 that the
// caller must store and hand back to CompleteOAuth.
func (a *Adapter) BeginOAuth(provider string) (*OAuthStart, error) {
	p, err := a.provider(provider)
	if err != nil {
		return nil, err
	}
	state := uuid.NewString()
	return &OAuthStart{URL: p.AuthURL(state), State: state}, nil
}

// CompleteOAuth finishes the OAuth callback.
//
// CSRF CHECK FIRST:
// The state we stored before redirecting must come back unchanged. If it is
// missing or different, someone else started this flow, and the code is
// never exchanged.
func (a *Adapter) CompleteOAuth(ctx context.Context, provider, expectedState, returnedState, code string) (*Session, error) {
	if expectedState == "" || returnedState == "" || expectedState != returnedState {
		return nil, apperror.CSRFMismatch()
	}
	return a.ExchangeOAuthCode(ctx, provider, code)
}

// ExchangeOAuthCode trades an authorization code for a provider session:
// code → Google ID token → GoTrue session.
func (a *Adapter) ExchangeOAuthCode(ctx context.Context, provider, code string) (*Session, error) {
	p, err := a.provider(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperror.ExchangeFailed(errors.New("missing authorization code"))
	}

	idToken, err := p.ExchangeIDToken(ctx, code)
	if err != nil {
		return nil, apperror.ExchangeFailed(err)
	}

	s, err := a.gotrue.IDTokenGrant(ctx, p.Name(), idToken)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, apperror.ExchangeFailed(pe)
		}
		return nil, err
	}

	a.publishSignedIn(s)
	return s, nil
}

// SessionFromRequest returns the session carried by r, or (nil, nil) when
// there is none or it is no longer valid. Errors mean the answer is unknown
// (provider down), not that the user is signed out.
//
// TOKEN LIFECYCLE:
//
//	valid access token        → session
//	expired + refresh token   → refresh at GoTrue, session with Rotated=true
//	expired, no refresh token → no session
//	invalid / revoked         → no session
func (a *Adapter) SessionFromRequest(r *http.Request) (*Session, error) {
	access, refresh := credentialsFromRequest(r)
	if access == "" && refresh == "" {
		return nil, nil
	}

	if access != "" {
		s, expired, err := a.validateAccess(r.Context(), access)
		if err != nil {
			return nil, err
		}
		if s != nil {
			s.RefreshToken = refresh
			return s, nil
		}
		if !expired && a.verifier != nil {
			return nil, nil // forged or foreign token: never refresh on its behalf
		}
	}

	if refresh == "" {
		return nil, nil
	}
	return a.refresh(r.Context(), refresh)
}

// validateAccess checks an access token. It returns expired=true when the
// token is genuine but past its exp.
func (a *Adapter) validateAccess(ctx context.Context, access string) (s *Session, expired bool, err error) {
	if a.verifier != nil {
		claims, err := a.verifier.Verify(access)
		if errors.Is(err, ErrTokenExpired) {
			return nil, true, nil
		}
		if err != nil {
			a.logger.Debug("rejected access token", slog.String("error", err.Error()))
			return nil, false, nil
		}
		return sessionFromClaims(access, claims), false, nil
	}

	// No secret: skip the round trip for tokens that are visibly expired,
	// then let GoTrue decide.
	claims, err := peekClaims(access)
	if err != nil {
		return nil, false, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return nil, true, nil
	}

	user, err := a.gotrue.GetUser(ctx, access)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, true, nil
		}
		return nil, false, err
	}
	s = sessionFromClaims(access, claims)
	s.User = *user
	return s, false, nil
}

func (a *Adapter) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	s, err := a.gotrue.RefreshGrant(ctx, refreshToken)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			// Revoked or already rotated by a concurrent request.
			return nil, nil
		}
		return nil, err
	}
	s.Rotated = true
	return s, nil
}

// SignOut revokes the session at GoTrue and emits a sign-out event.
// Revocation is best-effort: the caller clears cookies regardless.
func (a *Adapter) SignOut(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	err := a.gotrue.Logout(ctx, s.AccessToken)
	if err != nil {
		a.logger.Warn("session revocation failed",
			slog.String("user_id", s.User.ID),
			slog.String("error", err.Error()),
		)
	}
	a.notifier.Publish(Event{Type: EventSignedOut, UserID: s.User.ID})
	return err
}

// Subscribe returns the stream of sign-in and sign-out events.
func (a *Adapter) Subscribe(buffer int) (<-chan Event, func()) {
	return a.notifier.Subscribe(buffer)
}

func (a *Adapter) publishSignedIn(s *Session) {
	a.notifier.Publish(Event{Type: EventSignedIn, UserID: s.User.ID, Session: s})
}

func (a *Adapter) provider(name string) (OAuthProvider, error) {
	if a.google == nil || name != a.google.Name() {
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("unsupported sign-in provider %q", name))
	}
	return a.google, nil
}

func sessionFromClaims(access string, c *SessionClaims) *Session {
	s := &Session{
		AccessToken: access,
		SessionID:   c.SessionID,
		User:        c.Identity(),
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}
