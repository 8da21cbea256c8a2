package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// OAuthProvider is an external sign-in provider using the Authorization Code
// flow and returning an OpenID Connect ID token. The ID token is handed to
// GoTrue (id_token grant), which verifies it and creates or finds the user.
type OAuthProvider interface {
	// Name is the GoTrue provider tag, e.g. "google".
	Name() string
	// AuthURL returns the consent-screen URL carrying state.
	AuthURL(state string) string
	// ExchangeIDToken trades an authorization code for the ID token.
	ExchangeIDToken(ctx context.Context, code string) (string, error)
}

// GoogleProvider wraps golang.org/x/oauth2 for Google sign-in.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the user to Google's consent screen with our ClientID,
//     the requested scopes, and a random state stored in a cookie.
//  2. The user approves on Google.
//  3. Google redirects back to our callback with a short-lived "code" and
//     the same state.
//  4. We check the state against the cookie, then exchange the code for
//     tokens server-to-server using our ClientSecret.
//  5. The "openid" scope makes Google include an id_token, which GoTrue
//     turns into a session.
//
// The code exchange never happens in the browser, so the ClientSecret and
// tokens never touch it.
type GoogleProvider struct {
	config *oauth2.Config
}

// NewGoogleProvider creates a GoogleProvider.
//
// callbackURL must match an "Authorized redirect URI" registered in the
// Google Cloud console exactly, e.g. "http://localhost:3000/auth/callback".
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

// AuthURL returns the consent-screen URL.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeIDToken exchanges the authorization code and returns Google's
// id_token. A used, expired or forged code fails here.
func (p *GoogleProvider) ExchangeIDToken(ctx context.Context, code string) (string, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", errors.New("auth: token response has no id_token")
	}
	return idToken, nil
}
