package icloud

import (
	"testing"
	"time"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "user@example.com", want: "user@example.com"},
		{in: "first.last-01_x@icloud.com", want: "first.last-01_x@icloud.com"},
		{in: "weird/..\\id", want: "weird_.._id"},
		{in: "spaces here", want: "spaces_here"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := &sessionState{
		AppleID:    "user@example.com",
		TrustToken: "token",
		Cookies: []sessionCookie{
			{Name: "live", Value: "v", Domain: "example.com", Expires: time.Now().Add(time.Hour)},
			{Name: "forever", Value: "v", Domain: "example.com"},
			{Name: "expired", Value: "v", Domain: "example.com", Expires: time.Now().Add(-time.Hour)},
		},
	}
	if err := s.save(dir); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	loaded, err := loadSession(dir, "user@example.com")
	if err != nil {
		t.Fatalf("loadSession() error = %v", err)
	}
	if loaded.TrustToken != "token" {
		t.Errorf("trust token = %q, want %q", loaded.TrustToken, "token")
	}

	// Expired cookies are dropped when handed back to the jar; cookies
	// without an expiry survive.
	cookies := loaded.cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}
	for _, c := range cookies {
		if c.Name == "expired" {
			t.Error("expired cookie survived the round trip")
		}
	}
}

func TestLoadSessionMissing(t *testing.T) {
	s, err := loadSession(t.TempDir(), "nobody@example.com")
	if err != nil {
		t.Fatalf("loadSession() error = %v", err)
	}
	if s.AppleID != "nobody@example.com" || s.TrustToken != "" {
		t.Errorf("fresh state = %+v", s)
	}
}
