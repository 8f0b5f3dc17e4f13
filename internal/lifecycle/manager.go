// Package lifecycle serves valid access tokens for stored accounts,
// refreshing and invalidating them as needed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/oidc-account/internal/authflow"
	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/store"
	"github.com/go-authgate/oidc-account/internal/token"
)

// DefaultSkew is subtracted from the access token lifetime so a token is not
// served moments before it expires.
const DefaultSkew = 30 * time.Second

// Transport is the part of the token transport the manager drives.
type Transport interface {
	authflow.CodeExchanger
	Refresh(ctx context.Context, refreshToken string, cfg config.ClientConfig) (token.Set, error)
}

// SessionClearer drops browser/session cookies held by the network layer.
type SessionClearer interface {
	ClearSession()
}

// Manager is safe for concurrent use. At most one refresh per account is in
// flight; concurrent callers share its outcome.
type Manager struct {
	store     store.Store
	transport Transport
	sessions  SessionClearer
	now       func() time.Time
	skew      time.Duration
	logger    *slog.Logger
	refreshes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSkew sets the clock-skew margin applied to access token expiry.
func WithSkew(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.skew = d
		}
	}
}

// WithLogger sets the structured logger. Tokens are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSessionClearer sets who forgets session cookies on invalidation.
func WithSessionClearer(c SessionClearer) Option {
	return func(m *Manager) {
		m.sessions = c
	}
}

// New creates a Manager. When the transport can clear sessions it is used as
// the session clearer unless one is given explicitly.
func New(s store.Store, t Transport, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		transport: t,
		now:       time.Now,
		skew:      DefaultSkew,
		logger:    slog.New(slog.DiscardHandler),
	}
	if c, ok := t.(SessionClearer); ok {
		m.sessions = c
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// GetValidAccessToken returns an access token for the account, refreshing it
// when the cached one is expired or of unknown lifetime.
func (m *Manager) GetValidAccessToken(ctx context.Context, accountID string, cfg config.ClientConfig) (string, error) {
	cached, ok, err := m.CachedAccessToken(ctx, accountID)
	if err != nil {
		return "", err
	}
	if ok {
		return cached, nil
	}

	// The flight outlives any single caller: it runs detached from the
	// starter's cancellation and is bounded by the transport timeout.
	flight := context.WithoutCancel(ctx)
	ch := m.refreshes.DoChan(accountID, func() (any, error) {
		return m.refresh(flight, accountID, cfg)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", token.ErrCancelled, ctx.Err())
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("joined in-flight refresh", "account", accountID)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// CachedAccessToken returns the stored access token when it is still valid
// at the manager's clock, without contacting the provider. ok is false when
// the token is expired, of unknown lifetime or absent.
func (m *Manager) CachedAccessToken(ctx context.Context, accountID string) (string, bool, error) {
	rec, err := m.load(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	if !rec.Tokens.ValidAt(m.now(), m.skew) {
		return "", false, nil
	}
	return rec.Tokens.AccessToken, true, nil
}

// refresh runs the refresh grant for one account and persists the result.
func (m *Manager) refresh(ctx context.Context, accountID string, cfg config.ClientConfig) (string, error) {
	// Re-read inside the flight: a refresh that finished just before this
	// one started may already have stored a valid token.
	rec, err := m.load(ctx, accountID)
	if err != nil {
		return "", err
	}
	if rec.Tokens.ValidAt(m.now(), m.skew) {
		return rec.Tokens.AccessToken, nil
	}
	if !rec.Tokens.HasRefreshToken() {
		m.logger.Info("no refresh token, reauthorization required", "account", accountID)
		refreshTotal.WithLabelValues(resultNoRefreshToken).Inc()
		return "", fmt.Errorf("%w: account %s has no refresh token", token.ErrReauthorizationRequired, accountID)
	}

	start := time.Now()
	fresh, err := m.transport.Refresh(ctx, rec.Tokens.RefreshToken, cfg)
	refreshDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, token.ErrInvalidGrant):
		refreshTotal.WithLabelValues(resultInvalidGrant).Inc()
		m.logger.Warn("refresh token rejected, deleting credentials", "account", accountID)
		if delErr := m.store.Delete(ctx, accountID); delErr != nil {
			return "", errors.Join(
				fmt.Errorf("%w: refresh token rejected", token.ErrReauthorizationRequired),
				delErr,
			)
		}
		return "", fmt.Errorf("%w: refresh token rejected", token.ErrReauthorizationRequired)
	case errors.Is(err, token.ErrNetwork):
		refreshTotal.WithLabelValues(resultTransient).Inc()
		m.logger.Warn("refresh failed, will not retry", "account", accountID, "error", err)
		return "", fmt.Errorf("%w: %w", token.ErrTransient, err)
	default:
		refreshTotal.WithLabelValues(resultFailed).Inc()
		m.logger.Error("refresh failed", "account", accountID, "error", err)
		return "", err
	}

	if fresh.IDToken == "" {
		fresh.IDToken = rec.Tokens.IDToken
	}
	rec.Tokens = fresh
	rec.UpdatedAt = m.now()
	if err := m.store.Put(ctx, rec); err != nil {
		refreshTotal.WithLabelValues(resultFailed).Inc()
		m.logger.Error("failed to persist refreshed tokens", "account", accountID, "error", err)
		return "", err
	}

	refreshTotal.WithLabelValues(resultOK).Inc()
	m.logger.Info("access token refreshed", "account", accountID, "expires_at", fresh.Expiry)
	return fresh.AccessToken, nil
}

// load fetches the record, mapping absence to token.ErrNoAccount.
func (m *Manager) load(ctx context.Context, accountID string) (store.Record, error) {
	rec, err := m.store.Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, fmt.Errorf("%w: %s", token.ErrNoAccount, accountID)
	}
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// Invalidate forgets the cached access and id tokens but keeps the refresh
// token and the account, so the next GetValidAccessToken refreshes.
func (m *Manager) Invalidate(ctx context.Context, accountID string) error {
	return m.clear(ctx, accountID, token.Set.WithoutAccess, "access token invalidated")
}

// Reset blanks every token but keeps the account, forcing the next
// GetValidAccessToken to require reauthorization.
func (m *Manager) Reset(ctx context.Context, accountID string) error {
	return m.clear(ctx, accountID, func(token.Set) token.Set { return token.Set{} }, "tokens reset")
}

func (m *Manager) clear(ctx context.Context, accountID string, strip func(token.Set) token.Set, msg string) error {
	m.clearSession()

	rec, err := m.load(ctx, accountID)
	if err != nil {
		return err
	}
	rec.Tokens = strip(rec.Tokens)
	rec.UpdatedAt = m.now()
	if err := m.store.Put(ctx, rec); err != nil {
		return err
	}
	m.logger.Info(msg, "account", accountID)
	return nil
}

// DeleteAccount removes the account and its tokens. Deleting an unknown
// account succeeds.
func (m *Manager) DeleteAccount(ctx context.Context, accountID string) error {
	m.clearSession()
	if err := m.store.Delete(ctx, accountID); err != nil {
		return err
	}
	m.logger.Info("account deleted", "account", accountID)
	return nil
}

// Accounts lists the stored accounts of the configured type.
func (m *Manager) Accounts(ctx context.Context, cfg config.ClientConfig) ([]store.Account, error) {
	return m.store.List(ctx, cfg.AccountType)
}

func (m *Manager) clearSession() {
	if m.sessions != nil {
		m.sessions.ClearSession()
	}
}
