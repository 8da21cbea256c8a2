package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
)

const identityProvider = "identity provider"

// ProviderError is a 4xx answer from GoTrue: the request reached the
// provider and was rejected (bad password, used code, duplicate email...).
// 5xx answers and transport failures become apperror.ErrUpstream instead.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
}

// GoTrueConfig holds everything the client needs. It is built once from
// configuration and injected; nothing reads the environment at call time.
type GoTrueConfig struct {
	URL        string // project URL, e.g. https://abc.supabase.co
	AnonKey    string // public "anon" API key, sent as the apikey header
	Timeout    time.Duration
	HTTPClient *http.Client // optional, for tests
}

// GoTrueClient is a small REST client for the Supabase auth API.
//
// CIRCUIT BREAKER:
// Every call goes through a gobreaker circuit breaker. Five consecutive
// server-side failures open the circuit for 30s; while open, calls fail
// immediately with ErrUpstream instead of piling up on a dead provider.
// 4xx answers are the provider working correctly and never trip it.
type GoTrueClient struct {
	baseURL string
	anonKey string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// NewGoTrueClient creates a client for <cfg.URL>/auth/v1.
func NewGoTrueClient(cfg GoTrueConfig, logger *slog.Logger) *GoTrueClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &GoTrueClient{
		baseURL: strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey: cfg.AnonKey,
		http:    httpClient,
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "gotrue",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var pe *ProviderError
			return err == nil || errors.As(err, &pe) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return c
}

// Issuer is the iss claim GoTrue puts in its access tokens.
func (c *GoTrueClient) Issuer() string {
	return c.baseURL
}

// tokenResponse is the body of every /token grant.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	RefreshToken string         `json:"refresh_token"`
	User         model.Identity `json:"user"`
}

func (t *tokenResponse) session() *Session {
	s := &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if c, err := peekClaims(t.AccessToken); err == nil {
		s.SessionID = c.SessionID
	}
	return s
}

// PasswordGrant signs in with email and password.
func (c *GoTrueClient) PasswordGrant(ctx context.Context, email, password string) (*Session, error) {
	return c.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

// RefreshGrant exchanges a refresh token for a new token pair.
// GoTrue rotates refresh tokens: the old one is revoked.
func (c *GoTrueClient) RefreshGrant(ctx context.Context, refreshToken string) (*Session, error) {
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// IDTokenGrant exchanges an OpenID Connect ID token from an external
// provider (Google) for a GoTrue session, creating the user on first use.
func (c *GoTrueClient) IDTokenGrant(ctx context.Context, provider, idToken string) (*Session, error) {
	return c.grant(ctx, "id_token", map[string]string{"provider": provider, "id_token": idToken})
}

func (c *GoTrueClient) grant(ctx context.Context, grantType string, body any) (*Session, error) {
	var out tokenResponse
	query := url.Values{"grant_type": {grantType}}
	if err := c.do(ctx, http.MethodPost, "/token", query, "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, apperror.Upstream(identityProvider, fmt.Errorf("gotrue: %s grant returned no access token", grantType))
	}
	return out.session(), nil
}

// SignUp registers a user. When the project requires email confirmation
// GoTrue answers with the bare user and no tokens, so the session is nil.
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string, data map[string]any) (*model.Identity, *Session, error) {
	body := map[string]any{"email": email, "password": password}
	if len(data) > 0 {
		body["data"] = data
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", body, &raw); err != nil {
		return nil, nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, nil, apperror.Upstream(identityProvider, fmt.Errorf("gotrue: decoding signup response: %w", err))
	}
	if tok.AccessToken != "" {
		s := tok.session()
		return &s.User, s, nil
	}

	var user model.Identity
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, apperror.Upstream(identityProvider, fmt.Errorf("gotrue: decoding signup user: %w", err))
	}
	return &user, nil, nil
}

// GetUser returns the user owning accessToken. GoTrue answers 401/403 for
// expired or revoked tokens.
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var user model.Identity
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout revokes the session behind accessToken (all its refresh tokens).
func (c *GoTrueClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
}

// errorBody covers both error shapes GoTrue has used over time.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseProviderError(status int, body []byte) *ProviderError {
	pe := &ProviderError{Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		pe.Code = eb.ErrorCode
		if pe.Code == "" {
			pe.Code = eb.Error
		}
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription} {
			if m != "" {
				pe.Message = m
				break
			}
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

// do performs one API call through the circuit breaker and decodes the
// response into out (when non-nil).
//
// Returned errors are either *ProviderError (4xx) or apperror.ErrUpstream
// (5xx, network failure, open circuit).
func (c *GoTrueClient) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("gotrue: encoding request: %w", err)
		}
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", c.anonKey)
		if bearer == "" {
			bearer = c.anonKey
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("gotrue: %s %s: status %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, parseProviderError(resp.StatusCode, respBody)
		}
		return respBody, nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		c.logger.Error("identity provider call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apperror.Upstream(identityProvider, err)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.Upstream(identityProvider, fmt.Errorf("gotrue: decoding %s response: %w", path, err))
	}
	return nil
}
