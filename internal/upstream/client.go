// Package upstream talks to the web application the gateway fronts:
// it verifies client credentials and exposes the app's test cookie for
// round-trip liveness probing.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// Client is an HTTP client for the upstream app.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the app at baseURL. The URL is
// normalized to end with a slash. allowSelfSigned disables certificate
// validation for self-hosted instances.
func NewClient(baseURL string, allowSelfSigned bool) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	transport := http.DefaultTransport
	if allowSelfSigned {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
	}
}

// VerifyCredentials checks a username/password pair against the app.
// It returns false without error when the app rejects the credentials;
// an error means the app could not be reached or answered unexpectedly.
func (c *Client) VerifyCredentials(ctx context.Context, username, password string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"ocs/v2.php/cloud/capabilities?format=json", nil)
	if err != nil {
		return false, fmt.Errorf("build credential request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("OCS-APIRequest", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("verify credentials: unexpected status %d", resp.StatusCode)
	}
}

// TestCookie fetches the app's current test cookie value.
func (c *Client) TestCookie(ctx context.Context) (uint32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"index.php/apps/push/test/cookie", nil)
	if err != nil {
		return 0, fmt.Errorf("build cookie request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch test cookie: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch test cookie: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("read test cookie: %w", err)
	}
	cookie, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse test cookie %q: %w", body, err)
	}
	return uint32(cookie), nil
}
