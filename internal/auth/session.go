package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/sakif/reroom-bff/internal/model"
)

// Cookie names. The sb- prefix matches what the Supabase browser SDK uses,
// so a session established by either side is readable by the other.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	StateCookie        = "oauth_state"
	RedirectCookie     = "oauth_redirect"
)

// stateMaxAge bounds how long a user may take on the provider's consent screen.
const stateMaxAge = 10 * time.Minute

// Session is an authenticated identity-provider session.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    string
	User         model.Identity

	// Rotated is set when the tokens were refreshed while serving this
	// request. The caller must write them back as cookies.
	Rotated bool
}

// Key identifies the session for deduplication of sign-in side effects.
// A refresh keeps the provider's session_id, so the key is stable across
// token rotation.
func (s *Session) Key() string {
	if s.SessionID != "" {
		return s.User.ID + ":" + s.SessionID
	}
	return s.User.ID + ":" + s.RefreshToken
}

// Cookies writes and reads the session and OAuth cookies.
//
// COOKIE ATTRIBUTES:
//   - HttpOnly: JavaScript can't read the tokens (XSS can't steal them)
//   - SameSite=Lax: sent on top-level navigations (the OAuth redirect back
//     to us) but not on cross-site POSTs
//   - Secure: HTTPS only, enabled in production
type Cookies struct {
	Secure bool
	MaxAge time.Duration // session cookie lifetime, ~7 days
}

// WriteSession sets both token cookies.
func (c Cookies) WriteSession(w http.ResponseWriter, s *Session) {
	c.set(w, AccessTokenCookie, s.AccessToken, c.MaxAge)
	if s.RefreshToken != "" {
		c.set(w, RefreshTokenCookie, s.RefreshToken, c.MaxAge)
	}
}

// ClearSession deletes both token cookies.
func (c Cookies) ClearSession(w http.ResponseWriter) {
	c.set(w, AccessTokenCookie, "", -1)
	c.set(w, RefreshTokenCookie, "", -1)
}

// WriteState stores a short-lived, single-use value (OAuth state or the
// post-login redirect target).
func (c Cookies) WriteState(w http.ResponseWriter, name, value string) {
	c.set(w, name, value, stateMaxAge)
}

// ConsumeState returns the value of a state cookie and deletes it, so it
// can never be replayed. Returns "" when the cookie is absent.
func (c Cookies) ConsumeState(w http.ResponseWriter, r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	c.set(w, name, "", -1)
	return cookie.Value
}

func (c Cookies) set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	seconds := int(maxAge.Seconds())
	if maxAge < 0 {
		seconds = -1 // delete now
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// credentialsFromRequest reads the access and refresh tokens a request
// carries. An Authorization: Bearer header wins over the cookie.
func credentialsFromRequest(r *http.Request) (access, refresh string) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			access = strings.TrimSpace(token)
		}
	}
	if access == "" {
		if c, err := r.Cookie(AccessTokenCookie); err == nil {
			access = c.Value
		}
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refresh = c.Value
	}
	return access, refresh
}
