// Package icloud implements the remote store contract against the iCloud
// web service APIs: cookie-session authentication with 2FA, the Drive
// document tree, and the Photos record database.
package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

const (
	defaultSetupURL = "https://setup.icloud.com/setup/ws/1"
	homeEndpoint    = "https://www.icloud.com"
	userAgent       = "icloud-mirror/1.0"
)

// AuthError is a hard authentication failure. The engine never starts
// when one is returned.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	AppleID   string
	CookieDir string        // session cache directory
	SetupURL  string        // override for tests; defaults to the iCloud setup service
	Timeout   time.Duration // per-request; streaming downloads are exempt
}

type webservice struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Client holds an authenticated iCloud web session.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client // no timeout; downloads can run for hours
	appleID      string
	cookieDir    string
	setupURL     string

	session     *sessionState
	webservices map[string]webservice
	hsaVersion  int
	requires2FA bool
	trusted     bool
}

// New creates a client and restores any cached session cookies from the
// cookie directory. Login must still be called; a fresh 2FA challenge is
// skipped when the restored session carries a trust token.
func New(cfg Config) (*Client, error) {
	if cfg.AppleID == "" {
		return nil, fmt.Errorf("apple id is required")
	}
	if cfg.SetupURL == "" {
		cfg.SetupURL = defaultSetupURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &Client{
		httpClient:   &http.Client{Jar: jar, Timeout: cfg.Timeout},
		streamClient: &http.Client{Jar: jar},
		appleID:      cfg.AppleID,
		cookieDir:    cfg.CookieDir,
		setupURL:     cfg.SetupURL,
	}

	c.session, err = loadSession(cfg.CookieDir, cfg.AppleID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if u, err := url.Parse(cfg.SetupURL); err == nil {
		jar.SetCookies(u, c.session.cookies())
	}

	return c, nil
}

type loginRequest struct {
	AppleID       string   `json:"apple_id"`
	Password      string   `json:"password"`
	ExtendedLogin bool     `json:"extended_login"`
	TrustTokens   []string `json:"trustTokens"`
}

type loginResponse struct {
	DsInfo struct {
		Dsid       string `json:"dsid"`
		HsaVersion int    `json:"hsaVersion"`
	} `json:"dsInfo"`
	HsaChallengeRequired bool                  `json:"hsaChallengeRequired"`
	HsaTrustedBrowser    bool                  `json:"hsaTrustedBrowser"`
	Webservices          map[string]webservice `json:"webservices"`
}

// Login establishes the session. On success the webservice endpoints are
// known and the session is persisted to the cookie directory. When the
// account requires two-factor authentication and the cached session is
// not trusted, Requires2FA reports true and Validate2FACode must follow.
func (c *Client) Login(ctx context.Context, password string) error {
	var trustTokens []string
	if c.session.TrustToken != "" {
		trustTokens = append(trustTokens, c.session.TrustToken)
	}

	var resp loginResponse
	err := c.postJSON(ctx, c.setupURL+"/accountLogin", loginRequest{
		AppleID:       c.appleID,
		Password:      password,
		ExtendedLogin: true,
		TrustTokens:   trustTokens,
	}, &resp)
	if err != nil {
		return &AuthError{Op: "login", Err: err}
	}

	c.webservices = resp.Webservices
	c.hsaVersion = resp.DsInfo.HsaVersion
	c.trusted = resp.HsaTrustedBrowser
	c.requires2FA = resp.HsaChallengeRequired || (resp.DsInfo.HsaVersion == 2 && !resp.HsaTrustedBrowser)

	if err := c.persistSession(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Requires2FA reports whether a two-factor code must be validated before
// the service endpoints may be used.
func (c *Client) Requires2FA() bool { return c.requires2FA }

// IsTrustedSession reports whether the current session is trusted and
// will not be challenged again on the next run.
func (c *Client) IsTrustedSession() bool { return c.trusted }

type verifyRequest struct {
	SecurityCode struct {
		Code string `json:"code"`
	} `json:"securityCode"`
}

// Validate2FACode submits the verification code sent to the user's
// device. Returns false when the service rejects the code.
func (c *Client) Validate2FACode(ctx context.Context, code string) (bool, error) {
	var req verifyRequest
	req.SecurityCode.Code = code

	var resp struct {
		Success bool `json:"success"`
	}
	err := c.postJSON(ctx, c.setupURL+"/validateVerificationCode", req, &resp)
	if err != nil {
		var herr *httpError
		if errors.As(err, &herr) && herr.status == http.StatusForbidden {
			return false, nil
		}
		return false, &AuthError{Op: "verify", Err: err}
	}

	c.requires2FA = false
	if err := c.persistSession(); err != nil {
		return false, fmt.Errorf("persist session: %w", err)
	}
	return true, nil
}

// TrustSession asks the service to trust this session so future runs
// skip the 2FA challenge. The returned trust token is persisted.
func (c *Client) TrustSession(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.setupURL+"/trust", nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Op: "trust", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &AuthError{Op: "trust", Err: fmt.Errorf("service returned %d", resp.StatusCode)}
	}

	if token := resp.Header.Get("X-Apple-Twosv-Trust-Token"); token != "" {
		c.session.TrustToken = token
	}
	c.trusted = true
	if err := c.persistSession(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Drive returns the drive service handle. Login must have succeeded.
func (c *Client) Drive() (*Drive, error) {
	drivews, ok := c.webservices["drivews"]
	if !ok {
		return nil, fmt.Errorf("drive service unavailable for this account")
	}
	docws, ok := c.webservices["docws"]
	if !ok {
		return nil, fmt.Errorf("document service unavailable for this account")
	}
	return &Drive{c: c, serviceURL: drivews.URL, docsURL: docws.URL}, nil
}

// Photos returns the photo library handle. Login must have succeeded.
func (c *Client) Photos() (*PhotoLibrary, error) {
	ck, ok := c.webservices["ckdatabasews"]
	if !ok {
		return nil, fmt.Errorf("photos service unavailable for this account")
	}
	return &PhotoLibrary{c: c, serviceURL: ck.URL}, nil
}

// httpError carries a non-2xx response status and body.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.status, e.body)
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Origin", homeEndpoint)
	req.Header.Set("Referer", homeEndpoint+"/")
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) postJSON(ctx context.Context, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{status: resp.StatusCode, body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{status: resp.StatusCode, body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// openStream issues a GET for raw bytes, sending a Range header when
// offset is positive. The caller owns the returned body.
func (c *Client) openStream(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpError{status: resp.StatusCode, body: string(data)}
	}
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("range request not honored (status %d)", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) persistSession() error {
	if c.cookieDir == "" {
		return nil
	}
	if u, err := url.Parse(c.setupURL); err == nil {
		c.session.setCookies(c.httpClient.Jar.Cookies(u), u)
	}
	c.session.AppleID = c.appleID
	return c.session.save(c.cookieDir)
}
