package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/sakif/reroom-bff/internal/auth"
)

// Decision is how the route guard treats a request path.
type Decision int

const (
	// Bypass: static assets and API paths. No session lookup, no headers.
	Bypass Decision = iota
	// Public: pages anyone may see. Security headers, no session lookup.
	Public
	// Protected: pages that need a valid session.
	Protected
)

func (d Decision) String() string {
	switch d {
	case Bypass:
		return "bypass"
	case Public:
		return "public"
	case Protected:
		return "protected"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

var staticAsset = regexp.MustCompile(`\.(png|jpg|jpeg|gif|svg|css|js|ico|woff|woff2|ttf|map|webp|avif)$`)

var bypassPrefixes = []string{"/api", "/_next", "/_vercel", "/favicon.ico"}

var publicPaths = []string{
	"/",
	"/home",
	"/pricing",
	"/signin",
	"/signup",
	"/about",
	"/legal/privacy-policy",
	"/legal/terms-of-service",
}

var publicPrefixes = []string{"/auth/callback", "/auth/callback-handler", "/auth/auth-code-error"}

// Classify maps a request path to a guard decision. It is pure: same path,
// same answer.
func Classify(path string) Decision {
	if staticAsset.MatchString(path) {
		return Bypass
	}
	for _, p := range bypassPrefixes {
		if strings.HasPrefix(path, p) {
			return Bypass
		}
	}
	if slices.Contains(publicPaths, path) {
		return Public
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return Public
		}
	}
	return Protected
}

// GuardObserver receives one observation per guarded request.
type GuardObserver interface {
	ObserveGuard(decision string)
}

// Guard is the route guard for page navigations.
//
// STATE MACHINE (per request, no state kept between requests):
//
//	Bypass    → pass through untouched
//	Public    → security headers, pass through
//	Protected → look up the session with the request's own cookies
//	              valid   → security headers (+ rotated cookies), pass through
//	              missing → 307 /signin?redirect=<path>
//	              error   → 307 /signin?redirect=<path>
//	              panic   → 307 /signin?redirect=<path>
//
// It fails closed: anything but a positively confirmed session denies.
// It never reads or writes the profile store.
type Guard struct {
	sessions auth.SessionReader
	cookies  auth.Cookies
	observer GuardObserver // optional
	logger   *slog.Logger
}

// NewGuard creates a Guard. observer may be nil.
func NewGuard(sessions auth.SessionReader, cookies auth.Cookies, observer GuardObserver, logger *slog.Logger) *Guard {
	return &Guard{sessions: sessions, cookies: cookies, observer: observer, logger: logger}
}

// Middleware wraps the page handler.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch Classify(r.URL.Path) {
		case Bypass:
			g.observe("bypass")
			next.ServeHTTP(w, r)
			return
		case Public:
			g.observe("public")
			SetSecurityHeaders(w.Header())
			next.ServeHTTP(w, r)
			return
		}

		s, err := g.lookup(r)
		if err != nil || s == nil {
			if err != nil {
				g.logger.Warn("guard denied request after session error",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			g.observe("deny")
			http.Redirect(w, r, "/signin?redirect="+url.QueryEscape(r.URL.Path), http.StatusTemporaryRedirect)
			return
		}

		g.observe("allow")
		if s.Rotated {
			g.cookies.WriteSession(w, s)
		}
		SetSecurityHeaders(w.Header())
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), s)))
	})
}

// lookup calls the session reader and turns a panic into an error.
func (g *Guard) lookup(r *http.Request) (s *auth.Session, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s, err = nil, fmt.Errorf("session lookup panicked: %v", rec)
		}
	}()
	return g.sessions.SessionFromRequest(r)
}

func (g *Guard) observe(decision string) {
	if g.observer != nil {
		g.observer.ObserveGuard(decision)
	}
}
