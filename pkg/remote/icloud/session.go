package icloud

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sessionState is what survives between runs: the trust token that lets
// a future login skip the 2FA challenge, and the web session cookies.
type sessionState struct {
	AppleID    string          `json:"apple_id"`
	TrustToken string          `json:"trust_token,omitempty"`
	Cookies    []sessionCookie `json:"cookies,omitempty"`
}

type sessionCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// cookies converts the persisted form back for the jar.
func (s *sessionState) cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

// setCookies records the jar's current cookies for u.
func (s *sessionState) setCookies(cookies []*http.Cookie, u *url.URL) {
	s.Cookies = s.Cookies[:0]
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		s.Cookies = append(s.Cookies, sessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
}

func sessionPath(dir, appleID string) string {
	return filepath.Join(dir, sanitizeID(appleID)+".session.json")
}

// sanitizeID makes an Apple ID safe to use as a filename.
func sanitizeID(appleID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_' || r == '@':
			return r
		default:
			return '_'
		}
	}, appleID)
}

// loadSession reads the cached session, returning an empty state when no
// cache exists yet.
func loadSession(dir, appleID string) (*sessionState, error) {
	if dir == "" {
		return &sessionState{AppleID: appleID}, nil
	}
	data, err := os.ReadFile(sessionPath(dir, appleID))
	if os.IsNotExist(err) {
		return &sessionState{AppleID: appleID}, nil
	}
	if err != nil {
		return nil, err
	}
	var s sessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session cache: %w", err)
	}
	return &s, nil
}

func (s *sessionState) save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return os.WriteFile(sessionPath(dir, s.AppleID), data, 0600)
}
