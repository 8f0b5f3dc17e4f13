// Package api calls protected resources with a managed access token.
package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/token"
)

// TokenSource hands out valid access tokens and can drop a cached one the
// resource server no longer accepts.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, accountID string, cfg config.ClientConfig) (string, error)
	Invalidate(ctx context.Context, accountID string) error
}

// Getter performs one authenticated GET returning a JSON object.
type Getter interface {
	GetJSON(ctx context.Context, rawURL, accessToken string) (map[string]any, error)
}

// Caller performs authenticated API calls for one client configuration.
type Caller struct {
	tokens TokenSource
	getter Getter
	cfg    config.ClientConfig
	logger *slog.Logger

	onRejected func()
}

// Option configures a Caller.
type Option func(*Caller)

// OnRejected registers fn to run when the resource server answers 401,
// before the token is refreshed and the call retried.
func OnRejected(fn func()) Option {
	return func(c *Caller) {
		c.onRejected = fn
	}
}

// NewCaller creates a Caller. A nil logger discards output.
func NewCaller(
	tokens TokenSource,
	getter Getter,
	cfg config.ClientConfig,
	logger *slog.Logger,
	opts ...Option,
) *Caller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Caller{tokens: tokens, getter: getter, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallAPI GETs url with the account's access token and decodes the JSON
// object it returns. A 401 invalidates the cached token and the call is
// retried once with a fresh one. token.ErrReauthorizationRequired is
// returned unchanged so the caller can restart interactive login.
func (c *Caller) CallAPI(ctx context.Context, url, accountID string) (map[string]any, error) {
	out, err := c.call(ctx, url, accountID)
	if !errors.Is(err, token.ErrUnauthorized) {
		return out, err
	}

	c.logger.Info("access token rejected, refreshing", "account", accountID)
	if c.onRejected != nil {
		c.onRejected()
	}
	if err := c.tokens.Invalidate(ctx, accountID); err != nil {
		return nil, err
	}
	return c.call(ctx, url, accountID)
}

func (c *Caller) call(ctx context.Context, url, accountID string) (map[string]any, error) {
	accessToken, err := c.tokens.GetValidAccessToken(ctx, accountID, c.cfg)
	if err != nil {
		return nil, err
	}
	return c.getter.GetJSON(ctx, url, accessToken)
}

// UserInfo calls the configured userinfo endpoint.
func (c *Caller) UserInfo(ctx context.Context, accountID string) (map[string]any, error) {
	return c.CallAPI(ctx, c.cfg.UserInfoURL, accountID)
}

// Username returns the preferred_username claim of a userinfo response.
func Username(claims map[string]any) string {
	name, _ := claims["preferred_username"].(string)
	return name
}
