// Package auth is the Identity Session Adapter: it talks to the hosted
// identity provider (Supabase GoTrue) and turns its tokens into sessions
// this backend can trust.
//
// SESSION FLOW OVERVIEW:
//  1. Sign-in (password, sign-up, or Google OAuth) returns an access token
//     (short-lived JWT) and a refresh token from GoTrue.
//  2. Both are stored in HttpOnly cookies (sb-access-token, sb-refresh-token).
//  3. On every protected request the access token is verified. Locally when
//     the project's JWT secret is configured, otherwise by asking GoTrue.
//  4. An expired access token is exchanged for a new pair using the refresh
//     token, and the caller re-attaches the rotated cookies to the response.
//
// SUPABASE ACCESS TOKENS:
// GoTrue signs access tokens with HS256 using the project's JWT secret.
// The payload carries the user id in "sub" plus a few Supabase claims:
//
//	{"sub":"8d5f...","email":"a@b.c","role":"authenticated","session_id":"...",
//	 "user_metadata":{"full_name":"..."},"app_metadata":{"provider":"google"},
//	 "iss":"https://<project>.supabase.co/auth/v1","exp":1700000000}
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sakif/reroom-bff/internal/model"
)

// ErrTokenExpired is returned by Verify for a well-formed, correctly signed
// token whose exp is in the past. Callers use it to decide to refresh.
var ErrTokenExpired = errors.New("auth: token expired")

// SessionClaims is the payload of a Supabase access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Identity converts the claims into the provider's user record.
func (c *SessionClaims) Identity() model.Identity {
	return model.Identity{
		ID:           c.Subject,
		Email:        c.Email,
		UserMetadata: c.UserMetadata,
		AppMetadata:  c.AppMetadata,
	}
}

// TokenVerifier validates access tokens issued by GoTrue.
//
// It holds the project's HMAC secret and the expected issuer
// (<SUPABASE_URL>/auth/v1). Sign exists so tests and local tooling can mint
// tokens the verifier accepts.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a TokenVerifier.
// The secret must be at least 16 characters (Supabase secrets are 32+).
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Sign mints an HS256 token for the given claims, valid for ttl.
// A negative ttl produces an already-expired token.
func (v *TokenVerifier) Sign(c SessionClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	c.Issuer = v.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and verifies an access token.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid HS256 with our secret
//   - exp is present and in the future
//   - iss matches the project's auth URL
//
// Restricting the methods to HS256 blocks the "alg":"none" and RS/HS
// confusion attacks.
func (v *TokenVerifier) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	return c, nil
}

// peekClaims decodes a token WITHOUT checking its signature.
//
// Only used on tokens we just received from GoTrue over TLS, or to read
// exp/session_id before asking GoTrue to validate the token. Never base an
// authorization decision on its result alone.
func peekClaims(tokenStr string) (*SessionClaims, error) {
	var c SessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &c); err != nil {
		return nil, fmt.Errorf("auth: decoding token: %w", err)
	}
	return &c, nil
}
