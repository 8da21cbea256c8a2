package model

import "strings"

// Identity is the user record as known to the hosted identity provider.
//
// It is read-only from this system's point of view: reconciliation derives
// profile fields from it but never writes it back. The metadata maps are
// free-form JSON objects owned by the provider, e.g.
//
//	user_metadata: {"full_name": "Ada Lovelace", "avatar_url": "https://..."}
//	app_metadata:  {"provider": "google", "providers": ["google"]}
type Identity struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// UserMeta returns a string value from user_metadata, or "" when the key is
// missing or not a string.
func (i Identity) UserMeta(key string) string {
	return metaString(i.UserMetadata, key)
}

// Provider returns the sign-in provider tag, defaulting to "email".
func (i Identity) Provider() string {
	if p := metaString(i.AppMetadata, "provider"); p != "" {
		return p
	}
	return "email"
}

// DisplayName picks the best available name:
// full_name, then name, then the local part of the email address.
func (i Identity) DisplayName() string {
	if n := i.UserMeta("full_name"); n != "" {
		return n
	}
	if n := i.UserMeta("name"); n != "" {
		return n
	}
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}

// AvatarURL prefers avatar_url and falls back to picture (Google's key).
func (i Identity) AvatarURL() string {
	if a := i.UserMeta("avatar_url"); a != "" {
		return a
	}
	return i.UserMeta("picture")
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
