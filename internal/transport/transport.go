// Package transport talks to the provider's token and userinfo endpoints.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"

	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/token"
)

// DefaultTimeout bounds every round trip when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Client performs single round trips to the provider. Token endpoint POSTs
// are never retried because authorization codes are single use; bearer GETs
// go through the retry client when retries are enabled.
type Client struct {
	httpClient  *http.Client
	retryClient *retry.Client
	jar         *sessionJar
	timeout     time.Duration
	now         func() time.Time
	retryGets   bool
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry enables retries for idempotent GET requests.
func WithRetry(enabled bool) Option {
	return func(c *Client) {
		c.retryGets = enabled
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its cookie jar is
// replaced by the session jar so ClearSession keeps working.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides the clock used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}
	c.jar = jar
	c.httpClient.Jar = jar

	if c.retryGets {
		c.retryClient, err = retry.NewBackgroundClient(
			retry.WithHTTPClient(c.httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
	}
	return c, nil
}

// FromSettings builds a Client from runtime settings.
func FromSettings(s config.Settings) (*Client, error) {
	return New(WithTimeout(s.HTTPTimeout), WithRetry(s.RetryGets))
}

// ClearSession drops every cookie held for the provider so the next
// interactive authorization cannot silently reuse a stale browser session.
func (c *Client) ClearSession() {
	c.jar.clear()
}

// ExchangeCode trades an authorization code for a token set.
func (c *Client) ExchangeCode(ctx context.Context, code string, cfg config.ClientConfig) (token.Set, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", cfg.RedirectURL)
	setClientCredentials(data, cfg)

	tok, err := c.postToken(ctx, cfg.TokenServerURL, data)
	if err != nil {
		return token.Set{}, fmt.Errorf("code exchange: %w", err)
	}
	return token.FromOAuth2(tok), nil
}

// Refresh redeems a refresh token. When the provider does not rotate the
// refresh token, the one presented is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string, cfg config.ClientConfig) (token.Set, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	setClientCredentials(data, cfg)

	tok, err := c.postToken(ctx, cfg.TokenServerURL, data)
	if err != nil {
		return token.Set{}, fmt.Errorf("refresh: %w", err)
	}

	// Handle refresh token rotation modes:
	// - Rotation mode: Server returns new refresh_token (use it)
	// - Fixed mode: Server doesn't return refresh_token (preserve old one)
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return token.FromOAuth2(tok), nil
}

// GetJSON issues an authenticated GET and decodes a JSON object body.
func (c *Client) GetJSON(ctx context.Context, rawURL, accessToken string) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	if c.retryClient != nil {
		resp, err = c.retryClient.DoWithContext(reqCtx, req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: server returned status %d", token.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: server returned status %d", token.ErrNetwork, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: server returned status %d", token.ErrProtocol, resp.StatusCode)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", token.ErrProtocol, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: response is not a JSON object", token.ErrProtocol)
	}
	return out, nil
}

func setClientCredentials(data url.Values, cfg config.ClientConfig) {
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    expiresIn `json:"expires_in"`
}

// expiresIn accepts both numeric and quoted-number encodings.
type expiresIn int64

func (e *expiresIn) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*e = expiresIn(n)
	return nil
}

// postToken sends one form POST to the token endpoint.
func (c *Client) postToken(ctx context.Context, tokenURL string, data url.Values) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		tokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyTokenError(resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token response: %v", token.ErrProtocol, err)
	}
	if err := validateTokenResponse(tokenResp); err != nil {
		return nil, fmt.Errorf("%w: invalid token response: %v", token.ErrProtocol, err)
	}

	tok := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
	}
	if tokenResp.ExpiresIn > 0 {
		tok.Expiry = c.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	if tokenResp.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": tokenResp.IDToken})
	}
	return tok, nil
}

// validateTokenResponse validates the OAuth token response
func validateTokenResponse(r tokenResponse) error {
	if r.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if r.ExpiresIn < 0 {
		return fmt.Errorf("expires_in must not be negative, got: %d", r.ExpiresIn)
	}
	// Token type is optional in OAuth 2.0, but if present, should be "Bearer"
	if r.TokenType != "" && !strings.EqualFold(r.TokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", r.TokenType)
	}
	return nil
}

// classifyTokenError turns a non-200 token endpoint response into the
// error taxonomy. The body is never echoed since it may contain secrets.
func classifyTokenError(status int, body []byte) error {
	var oauthErr token.OAuthError
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Code != "" {
		oauthErr.StatusCode = status
		return &oauthErr
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: token endpoint returned status %d", token.ErrNetwork, status)
	}
	return fmt.Errorf("%w: token endpoint returned status %d", token.ErrProtocol, status)
}

func networkError(err error) error {
	return fmt.Errorf("%w: %v", token.ErrNetwork, err)
}
