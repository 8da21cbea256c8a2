package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. With a plain string key, ANY
// package that knows the string can read or shadow the value. Only this
// package can create a contextKey, so only this package can set these values.
type contextKey string

const (
	sessionKey contextKey = "session"
	callerKey  contextKey = "caller"
)

// InternalKeyHeader carries the shared key of server-to-server callers.
const InternalKeyHeader = "X-Internal-Key"

// SessionReader resolves the session a request carries. *Adapter implements
// it; tests use fakes.
type SessionReader interface {
	SessionFromRequest(r *http.Request) (*Session, error)
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by RequireSession or
// RequireCaller, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// Caller is whoever is making an API request.
type Caller struct {
	Internal bool   // authenticated with X-Internal-Key
	UserID   string // set for session callers
}

// CanActOn reports whether the caller may read or change userID's data.
// Internal callers act on anyone; users only on themselves.
func (c Caller) CanActOn(userID string) bool {
	return c.Internal || (c.UserID != "" && c.UserID == userID)
}

// CallerFromContext returns the caller stored by RequireCaller.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// RequireSession is a middleware that rejects requests without a valid
// session with 401 and stores the session in the request context.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... before ...
//	        next.ServeHTTP(w, r)
//	        // ... after ...
//	    })
//	}
//
// When the session was refreshed on the way in, the rotated tokens are
// written back as cookies before the handler runs, so they ride on
// whatever response the handler produces.
func RequireSession(sessions SessionReader, cookies Cookies, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := resolveSession(w, r, sessions, cookies, logger)
			if !ok {
				return
			}
			if s == nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// RequireCaller is a middleware for the API routes. A request passes when
// it carries a valid X-Internal-Key (checked against keyHash) or a valid
// user session. keyHash may be empty, which disables internal callers.
//
// A present but wrong internal key is rejected outright rather than falling
// back to the session, so a misconfigured service fails loudly.
func RequireCaller(sessions SessionReader, cookies Cookies, hasher *KeyHasher, keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(InternalKeyHeader); key != "" {
				if keyHash == "" || hasher.Verify(keyHash, key) != nil {
					logger.Warn("invalid internal API key", slog.String("path", r.URL.Path))
					writeUnauthorized(w)
					return
				}
				ctx := context.WithValue(r.Context(), callerKey, Caller{Internal: true})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			s, ok := resolveSession(w, r, sessions, cookies, logger)
			if !ok {
				return
			}
			if s == nil {
				writeUnauthorized(w)
				return
			}
			ctx := WithSession(r.Context(), s)
			ctx = context.WithValue(ctx, callerKey, Caller{UserID: s.User.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveSession looks up the session and re-attaches rotated cookies.
// ok=false means a response was already written.
func resolveSession(w http.ResponseWriter, r *http.Request, sessions SessionReader, cookies Cookies, logger *slog.Logger) (*Session, bool) {
	s, err := sessions.SessionFromRequest(r)
	if err != nil {
		logger.Error("session lookup failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream_failure","message":"identity provider is unavailable"}`))
		return nil, false
	}
	if s != nil && s.Rotated {
		cookies.WriteSession(w, s)
	}
	return s, true
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}
