package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/service"
)

// Authenticator is the part of *auth.Adapter the HTTP layer uses.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignUpWithPassword(ctx context.Context, email, password, displayName string) (*auth.SignUpResult, error)
	BeginOAuth(provider string) (*auth.OAuthStart, error)
	CompleteOAuth(ctx context.Context, provider, expectedState, returnedState, code string) (*auth.Session, error)
	SessionFromRequest(r *http.Request) (*auth.Session, error)
	SignOut(ctx context.Context, s *auth.Session) error
}

// Reconciler creates or refreshes the profile of an identity.
type Reconciler interface {
	Reconcile(ctx context.Context, identity model.Identity, name string) (*model.Profile, error)
}

// Syncer reconciles a freshly signed-in session at most once.
type Syncer interface {
	Sync(ctx context.Context, s *auth.Session, name string) service.SyncResult
}

const (
	defaultAfterSignIn = "/dashboard"
	authErrorPage      = "/auth/auth-code-error"
)

// AuthHandler manages password sign-in, sign-up, the Google OAuth flow and
// the session cookies.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignIn         → password grant, set cookies, reconcile profile
//   - HandleSignUp         → create the identity, reconcile profile
//   - HandleGoogleLogin    → redirect the browser to Google with a state cookie
//   - HandleGoogleCallback → check state, exchange the code, set cookies
//   - HandleSignOut        → revoke the session and clear cookies
//   - HandleSession        → return the signed-in identity
//
// Profile reconciliation after sign-in is best-effort: a failure is logged
// and the user is still signed in. The next sign-in event retries.
type AuthHandler struct {
	auth     Authenticator
	profiles Reconciler
	syncer   Syncer
	cookies  auth.Cookies
	debug    bool
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. debug adds error details to
// responses and must be false in production.
func NewAuthHandler(
	authn Authenticator,
	profiles Reconciler,
	syncer Syncer,
	cookies auth.Cookies,
	debug bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     authn,
		profiles: profiles,
		syncer:   syncer,
		cookies:  cookies,
		debug:    debug,
		logger:   logger,
	}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userResponse struct {
	User model.Identity `json:"user"`
}

type signUpResponse struct {
	User                 model.Identity `json:"user"`
	VerificationRequired bool           `json:"verificationRequired"`
}

// HandleSignIn signs a user in with email and password.
//
// HTTP: POST /auth/signin {"email": "...", "password": "..."}
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}

	s, err := h.auth.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("sign-in rejected", slog.String("error", err.Error()))
		writeError(w, err, h.debug)
		return
	}

	h.cookies.WriteSession(w, s)
	h.syncer.Sync(r.Context(), s, "")
	writeJSON(w, http.StatusOK, userResponse{User: s.User})
}

// HandleSignUp registers a new identity.
//
// HTTP: POST /auth/signup {"name": "...", "email": "...", "password": "..."}
//
// When the identity provider requires email confirmation there is no
// session yet; the profile is still created so the new account starts with
// its default credits.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}

	res, err := h.auth.SignUpWithPassword(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	if res.Session != nil {
		h.cookies.WriteSession(w, res.Session)
		h.syncer.Sync(r.Context(), res.Session, req.Name)
	} else if _, err := h.profiles.Reconcile(r.Context(), res.User, req.Name); err != nil {
		h.logger.Error("profile creation after sign-up failed",
			slog.String("user_id", res.User.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusCreated, signUpResponse{
		User:                 res.User,
		VerificationRequired: res.VerificationRequired(),
	})
}

// HandleGoogleLogin redirects the user to Google's authorization page.
//
// HTTP: GET /auth/google[?redirect=/dashboard/settings]
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When Google calls back, HandleGoogleCallback verifies the state matches.
// This proves the callback was initiated by this server, not a CSRF attacker.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.auth.BeginOAuth("google")
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	h.cookies.WriteState(w, auth.StateCookie, start.State)
	if target := safeRedirect(r.URL.Query().Get("redirect")); target != "" {
		h.cookies.WriteState(w, auth.RedirectCookie, target)
	}

	http.Redirect(w, r, start.URL, http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth login flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Google reported an error (user denied) → error page
//  2. State mismatch                         → 400 csrf_mismatch
//  3. Code exchange failed                   → error page
//  4. Set session cookies, reconcile the profile, redirect to the target
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expected := h.cookies.ConsumeState(w, r, auth.StateCookie)
	target := safeRedirect(h.cookies.ConsumeState(w, r, auth.RedirectCookie))

	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Info("oauth callback: provider returned an error", slog.String("error", providerErr))
		redirectAuthError(w, r, providerErr)
		return
	}

	s, err := h.auth.CompleteOAuth(r.Context(), "google", expected, q.Get("state"), q.Get("code"))
	if err != nil {
		if errors.Is(err, apperror.ErrCSRFMismatch) {
			h.logger.Warn("oauth callback: state mismatch")
			writeError(w, err, h.debug)
			return
		}
		h.logger.Warn("oauth callback: exchange failed", slog.String("error", err.Error()))
		redirectAuthError(w, r, "exchange_failed")
		return
	}

	h.cookies.WriteSession(w, s)
	h.syncer.Sync(r.Context(), s, "")

	if target == "" {
		target = defaultAfterSignIn
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleSignOut revokes the session (best-effort) and clears the cookies.
//
// HTTP: POST /auth/signout
//
// The cookies are cleared even when the provider call fails: from the
// browser's point of view the user is signed out either way.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	s, err := h.auth.SessionFromRequest(r)
	if err != nil {
		h.logger.Warn("sign-out: session lookup failed", slog.String("error", err.Error()))
	}
	h.cookies.ClearSession(w)

	if s != nil {
		if err := h.auth.SignOut(r.Context(), s); err != nil {
			h.logger.Warn("sign-out: revoke failed",
				slog.String("user_id", s.User.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession returns the signed-in identity.
//
// HTTP: GET /auth/session
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.auth.SessionFromRequest(r)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	if s == nil {
		writeError(w, apperror.Unauthorized("valid authentication required"), h.debug)
		return
	}
	if s.Rotated {
		h.cookies.WriteSession(w, s)
	}
	writeJSON(w, http.StatusOK, userResponse{User: s.User})
}

// safeRedirect returns target when it is a local path, or "".
// "//evil.com" and "/\evil.com" are protocol-relative in browsers and
// would leave the site.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") ||
		strings.HasPrefix(target, "/\\") {
		return ""
	}
	return target
}

func redirectAuthError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, authErrorPage+"?error="+url.QueryEscape(reason), http.StatusSeeOther)
}
