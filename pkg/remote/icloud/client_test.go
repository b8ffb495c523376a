package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// newSetupServer fakes the account setup service. Responses are driven by
// the mutable fields so one server covers the login, verify, and trust
// flows.
type setupServer struct {
	*httptest.Server

	hsaVersion     int
	trustedBrowser bool
	rejectLogin    bool
	rejectCode     bool
	trustToken     string

	lastLogin loginRequest
}

func newSetupServer(t *testing.T) *setupServer {
	t.Helper()
	s := &setupServer{hsaVersion: 2}
	mux := http.NewServeMux()

	mux.HandleFunc("/accountLogin", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&s.lastLogin); err != nil {
			t.Errorf("decode login request: %v", err)
		}
		if s.rejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"reason":"Invalid account or password"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "X-APPLE-WEBAUTH-TOKEN", Value: "session-token"})
		fmt.Fprintf(w, `{
			"dsInfo": {"dsid": "12345", "hsaVersion": %d},
			"hsaChallengeRequired": false,
			"hsaTrustedBrowser": %v,
			"webservices": {
				"drivews": {"url": "https://drive.example", "status": "active"},
				"docws": {"url": "https://docs.example", "status": "active"},
				"ckdatabasews": {"url": "https://ck.example", "status": "active"}
			}
		}`, s.hsaVersion, s.trustedBrowser)
	})

	mux.HandleFunc("/validateVerificationCode", func(w http.ResponseWriter, r *http.Request) {
		if s.rejectCode {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"success": false}`)
			return
		}
		fmt.Fprint(w, `{"success": true}`)
	})

	mux.HandleFunc("/trust", func(w http.ResponseWriter, r *http.Request) {
		if s.trustToken != "" {
			w.Header().Set("X-Apple-Twosv-Trust-Token", s.trustToken)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, srv *setupServer, cookieDir string) *Client {
	t.Helper()
	c, err := New(Config{
		AppleID:   "user@example.com",
		CookieDir: cookieDir,
		SetupURL:  srv.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestLoginTrustedSession(t *testing.T) {
	srv := newSetupServer(t)
	srv.trustedBrowser = true
	c := newTestClient(t, srv, t.TempDir())

	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if c.Requires2FA() {
		t.Error("Requires2FA() = true for a trusted browser")
	}
	if !c.IsTrustedSession() {
		t.Error("IsTrustedSession() = false for a trusted browser")
	}
	if _, err := c.Drive(); err != nil {
		t.Errorf("Drive() error = %v", err)
	}
	if _, err := c.Photos(); err != nil {
		t.Errorf("Photos() error = %v", err)
	}
}

func TestLoginUntrustedRequires2FA(t *testing.T) {
	srv := newSetupServer(t)
	c := newTestClient(t, srv, t.TempDir())

	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !c.Requires2FA() {
		t.Error("Requires2FA() = false for hsaVersion 2 without a trusted browser")
	}
}

func TestLoginFailureIsAuthError(t *testing.T) {
	srv := newSetupServer(t)
	srv.rejectLogin = true
	c := newTestClient(t, srv, t.TempDir())

	err := c.Login(context.Background(), "wrong")
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
	if aerr.Op != "login" {
		t.Errorf("Op = %q, want %q", aerr.Op, "login")
	}
}

func TestValidate2FACode(t *testing.T) {
	srv := newSetupServer(t)
	c := newTestClient(t, srv, t.TempDir())
	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Validate2FACode(context.Background(), "123456")
	if err != nil {
		t.Fatalf("Validate2FACode() error = %v", err)
	}
	if !ok {
		t.Error("Validate2FACode() = false, want true")
	}
	if c.Requires2FA() {
		t.Error("Requires2FA() still true after successful validation")
	}
}

func TestValidate2FACodeRejected(t *testing.T) {
	srv := newSetupServer(t)
	srv.rejectCode = true
	c := newTestClient(t, srv, t.TempDir())
	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Validate2FACode(context.Background(), "000000")
	if err != nil {
		t.Fatalf("Validate2FACode() error = %v, want nil for a rejected code", err)
	}
	if ok {
		t.Error("Validate2FACode() = true for a rejected code")
	}
}

func TestTrustSessionPersistsToken(t *testing.T) {
	srv := newSetupServer(t)
	srv.trustToken = "trust-me"
	cookieDir := t.TempDir()

	c := newTestClient(t, srv, cookieDir)
	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := c.TrustSession(context.Background()); err != nil {
		t.Fatalf("TrustSession() error = %v", err)
	}
	if !c.IsTrustedSession() {
		t.Error("IsTrustedSession() = false after TrustSession")
	}

	// A new client restores the token and presents it on the next login.
	c2 := newTestClient(t, srv, cookieDir)
	if err := c2.Login(context.Background(), "hunter2"); err != nil {
		t.Fatal(err)
	}
	if got := srv.lastLogin.TrustTokens; len(got) != 1 || got[0] != "trust-me" {
		t.Errorf("trustTokens on relogin = %v, want [trust-me]", got)
	}
}

func TestSessionFileIsWritten(t *testing.T) {
	srv := newSetupServer(t)
	cookieDir := t.TempDir()
	c := newTestClient(t, srv, cookieDir)
	if err := c.Login(context.Background(), "hunter2"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(sessionPath(cookieDir, "user@example.com"))
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	var s sessionState
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("session file is not valid JSON: %v", err)
	}
	if s.AppleID != "user@example.com" {
		t.Errorf("AppleID = %q, want %q", s.AppleID, "user@example.com")
	}
	if len(s.Cookies) == 0 {
		t.Error("session file carries no cookies")
	}
}

func TestOpenStreamRange(t *testing.T) {
	const content = "0123456789"
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "" {
			io.WriteString(w, content)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, content[4:])
	}))
	defer srv.Close()

	c := newTestClient(t, newSetupServer(t), "")

	body, err := c.openStream(context.Background(), srv.URL, 4)
	if err != nil {
		t.Fatalf("openStream() error = %v", err)
	}
	defer body.Close()

	if gotRange != "bytes=4-" {
		t.Errorf("Range header = %q, want %q", gotRange, "bytes=4-")
	}
	got, _ := io.ReadAll(body)
	if string(got) != "456789" {
		t.Errorf("body = %q, want %q", got, "456789")
	}
}

func TestOpenStreamRangeNotHonored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Full body with 200, as if the range header was ignored.
		io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	c := newTestClient(t, newSetupServer(t), "")

	if _, err := c.openStream(context.Background(), srv.URL, 4); err == nil {
		t.Fatal("openStream() = nil, want error when the range is not honored")
	}
}

func TestNewRequiresAppleID(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() = nil error without an Apple ID")
	}
}
