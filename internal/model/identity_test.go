package model

import "testing"

func TestIdentityDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		want     string
	}{
		{
			name: "full_name wins over name",
			identity: Identity{
				Email:        "ada@example.com",
				UserMetadata: map[string]any{"full_name": "Ada Lovelace", "name": "ada"},
			},
			want: "Ada Lovelace",
		},
		{
			name: "name used when full_name missing",
			identity: Identity{
				Email:        "ada@example.com",
				UserMetadata: map[string]any{"name": "Countess"},
			},
			want: "Countess",
		},
		{
			name:     "email local part as last resort",
			identity: Identity{Email: "grace.hopper@navy.mil"},
			want:     "grace.hopper",
		},
		{
			name: "blank and non-string values are ignored",
			identity: Identity{
				Email:        "linus@example.com",
				UserMetadata: map[string]any{"full_name": "   ", "name": 42},
			},
			want: "linus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentityAvatarAndProvider(t *testing.T) {
	google := Identity{
		UserMetadata: map[string]any{"picture": "https://lh3.example/p.png"},
		AppMetadata:  map[string]any{"provider": "google"},
	}
	if got := google.AvatarURL(); got != "https://lh3.example/p.png" {
		t.Errorf("AvatarURL() = %q, want picture fallback", got)
	}
	if got := google.Provider(); got != "google" {
		t.Errorf("Provider() = %q, want google", got)
	}

	both := Identity{UserMetadata: map[string]any{
		"avatar_url": "https://cdn.example/a.png",
		"picture":    "https://lh3.example/p.png",
	}}
	if got := both.AvatarURL(); got != "https://cdn.example/a.png" {
		t.Errorf("AvatarURL() = %q, want avatar_url", got)
	}

	if got := (Identity{}).Provider(); got != "email" {
		t.Errorf("Provider() on empty identity = %q, want email", got)
	}
}

func TestCreditAction(t *testing.T) {
	for _, a := range []CreditAction{ActionAdd, ActionDeduct, ActionSet} {
		if !a.Valid() {
			t.Errorf("%q.Valid() = false", a)
		}
	}
	if CreditAction("bogus").Valid() {
		t.Error(`"bogus".Valid() = true`)
	}
	if got := ActionDeduct.DefaultDescription(); got != "Credits deducted" {
		t.Errorf("DefaultDescription() = %q", got)
	}
}
