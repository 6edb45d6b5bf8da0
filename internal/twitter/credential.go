package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/YJSoft/StreamingRespirator/internal/logger"
)

// Headers the TweetDeck web client sends; the bearer token identifies the
// TweetDeck app, the ct0 cookie doubles as the CSRF token.
const (
	bearerToken   = "Bearer AAAAAAAAAAAAAAAAAAAAAF7aAAAAAAAASCiRjWvh7R5wxaKkFp7MM%2BhYBqM%3DbQ0JPmjU9F6ZoMhDfI4uTNAaQuTDm2uO9x3WFVr2xBZ2nhjdP0"
	clientVersion = "Twitter-TweetDeck-blackbird-chrome/4.0.190115122859 web/"

	defaultAPIBase = "https://api.twitter.com"

	authProbePath = "/1.1/help/settings.json?settings_version=&feature_set_token=5e3cbb323c98cbaf69b160695062002707dd6f66"
)

// CookieURL is the scope all session cookies are stored under
var CookieURL = &url.URL{Scheme: "https", Host: "twitter.com", Path: "/"}

// Credential holds one owner's session cookies and issues API requests with
// the TweetDeck header set.
type Credential struct {
	ownerID int64
	jar     http.CookieJar
	client  *http.Client
	apiBase string
	log     logger.Logger
}

// NewCredential creates a credential seeded with archived session cookies
func NewCredential(ownerID int64, cookies []*http.Cookie, log logger.Logger) (*Credential, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if len(cookies) > 0 {
		jar.SetCookies(CookieURL, cookies)
	}

	return &Credential{
		ownerID: ownerID,
		jar:     jar,
		client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		apiBase: defaultAPIBase,
		log:     log,
	}, nil
}

// SetAPIBase overrides the API origin, used when the origin is simulated
func (c *Credential) SetAPIBase(base string) {
	c.apiBase = base
}

// APIBase returns the API origin the credential talks to
func (c *Credential) APIBase() string {
	return c.apiBase
}

// OwnerID returns the account id this credential belongs to
func (c *Credential) OwnerID() int64 {
	return c.ownerID
}

// Cookies returns the current session cookies for archiving
func (c *Credential) Cookies() []*http.Cookie {
	return c.jar.Cookies(CookieURL)
}

// csrfToken finds the ct0 cookie value
func (c *Credential) csrfToken() string {
	for _, cookie := range c.jar.Cookies(CookieURL) {
		if cookie.Name == "ct0" {
			return cookie.Value
		}
	}
	return ""
}

// NewRequest builds a request carrying the owner's session headers
func (c *Credential) NewRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if method == http.MethodPost && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.Header.Set("X-Csrf-Token", c.csrfToken())
	req.Header.Set("Authorization", bearerToken)
	req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	req.Header.Set("X-Twitter-Client-Version", clientVersion)

	return req, nil
}

// Do executes a request with the owner's cookie jar
func (c *Credential) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// RequestJSON issues a call and decodes a 2xx response body into v when v is
// non-nil. The status code is returned even on decode failure.
func (c *Credential) RequestJSON(ctx context.Context, method, rawURL string, body []byte, v any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := c.NewRequest(ctx, method, rawURL, reader)
	if err != nil {
		return 0, err
	}
	if body != nil && method == http.MethodPost && bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}

// Verify probes the settings endpoint to confirm the session is authorized
func (c *Credential) Verify(ctx context.Context) error {
	status, err := c.RequestJSON(ctx, http.MethodGet, c.apiBase+authProbePath, nil, nil)
	if err != nil {
		return fmt.Errorf("authorization check for %d failed: %w", c.ownerID, err)
	}
	if status/100 != 2 {
		return fmt.Errorf("authorization check for %d returned status %d", c.ownerID, status)
	}
	return nil
}
