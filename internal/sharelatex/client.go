// Package sharelatex speaks the remote collaborative editor's HTTP protocol:
// cookie+CSRF authentication, project listings with content hashes, file
// download and upload tagged with a revision marker, and project creation.
package sharelatex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/imroc/req/v3"

	"github.com/texsync/texsync/internal/vault"
	"github.com/texsync/texsync/internal/version"
)

const (
	loginPath = "/login"

	// DefaultTimeout bounds every network call. On timeout the operation
	// fails with ErrNetwork and no partial local mutation.
	DefaultTimeout = 30 * time.Second

	// SessionTTL is how long a cached session cookie is reused before a
	// fresh login.
	SessionTTL = 30 * time.Minute
)

// The login page embeds the token as: csrfToken = "<36 chars>"
var csrfTokenRe = regexp.MustCompile(`csrfToken = "(.{36})"`)

// Session is the ephemeral authentication context for one server: its
// cookies, the CSRF token and the identity it was created for. It is an
// explicit value passed into every call, never hidden client state.
type Session struct {
	ServerURL string         `json:"serverUrl"`
	Email     string         `json:"email"`
	CSRFToken string         `json:"csrfToken"`
	Cookies   []*http.Cookie `json:"cookies"`
	Expiry    time.Time      `json:"expiry"`
}

// Valid reports whether the session can still be presented to the server.
func (s *Session) Valid() bool {
	return s != nil && s.CSRFToken != "" && time.Now().Before(s.Expiry)
}

// absorb merges renewed cookies from a response into the session, so the
// server can silently refresh it without callers noticing.
func (s *Session) absorb(renewed []*http.Cookie) {
	for _, c := range renewed {
		replaced := false
		for i, old := range s.Cookies {
			if old.Name == c.Name {
				s.Cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.Cookies = append(s.Cookies, c)
		}
	}
}

// Client talks to one remote server.
type Client struct {
	http      *req.Client
	serverURL string
	workers   int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithDownloadWorkers bounds the fan-out parallelism for bulk downloads.
func WithDownloadWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// New creates a client for the given server. Cookies are carried through
// explicit Session values, so the automatic jar is disabled.
func New(serverURL string, opts ...Option) *Client {
	httpClient := req.C().
		SetBaseURL(serverURL).
		SetUserAgent(version.UserAgent()).
		SetTimeout(DefaultTimeout).
		SetCookieJar(nil)

	c := &Client{
		http:      httpClient,
		serverURL: serverURL,
		workers:   DefaultDownloadWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the base URL the client was created for.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Login authenticates against the server the way a browser would: fetch the
// login page, scrape the CSRF token, then post the credential form. Returns
// a Session carrying the server's cookies.
func (c *Client) Login(ctx context.Context, creds *vault.Credentials) (*Session, error) {
	pageRes, err := c.http.R().
		SetContext(ctx).
		Get(loginPath)
	if err := checkResponse(pageRes, err, "login page"); err != nil {
		return nil, err
	}

	csrf := extractCSRFToken(pageRes.String())
	if csrf == "" {
		return nil, fmt.Errorf("login page: %w: no csrf token found", ErrAuthentication)
	}

	loginRes, err := c.http.R().
		SetContext(ctx).
		SetCookies(pageRes.Cookies()...).
		SetFormData(map[string]string{
			"email":    creds.Email,
			"password": creds.Password,
			"_csrf":    csrf,
		}).
		Post(loginPath)
	if err := checkResponse(loginRes, err, "login"); err != nil {
		return nil, err
	}

	// a 200 can still carry a login failure message in the body
	if text := errorMessageText(loginRes.Bytes()); text != "" {
		return nil, fmt.Errorf("login: %w: %s", ErrAuthentication, text)
	}

	sess := &Session{
		ServerURL: c.serverURL,
		Email:     creds.Email,
		CSRFToken: csrf,
		Expiry:    time.Now().Add(SessionTTL),
	}
	sess.absorb(pageRes.Cookies())
	sess.absorb(loginRes.Cookies())
	return sess, nil
}

func extractCSRFToken(html string) string {
	m := csrfTokenRe.FindStringSubmatch(html)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// errorMessageText extracts the error text from a JSON body of the form
// {"message":{"type":"error","text":"..."}}, or "" when there is none.
func errorMessageText(body []byte) string {
	var msg messageBody
	if err := json.Unmarshal(body, &msg); err != nil {
		return ""
	}
	if msg.Message.Type == "error" {
		if msg.Message.Text != "" {
			return msg.Message.Text
		}
		return "unknown error"
	}
	return ""
}
