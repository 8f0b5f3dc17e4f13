package lifecycle

import (
	"context"
	"fmt"

	"github.com/go-authgate/oidc-account/internal/authflow"
	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/store"
	"github.com/go-authgate/oidc-account/internal/token"
)

// Login starts a fresh authorization-code attempt and returns the URL the
// user agent has to open.
func (m *Manager) Login(cfg config.ClientConfig) (*authflow.Attempt, string, error) {
	attempt := authflow.New(cfg, m.transport)
	authURL, err := attempt.Start()
	if err != nil {
		return nil, "", err
	}
	return attempt, authURL, nil
}

// CompleteLogin feeds the redirect to the attempt and stores the resulting
// tokens. When account.Name is empty it is taken from the ID token claims.
func (m *Manager) CompleteLogin(
	ctx context.Context,
	attempt *authflow.Attempt,
	redirectURL string,
	account store.Account,
) (store.Record, error) {
	set, err := attempt.HandleRedirect(ctx, redirectURL)
	if err != nil {
		m.logger.Warn("login failed", "error", err)
		return store.Record{}, err
	}

	if account.Name == "" {
		account.Name = accountName(set)
	}
	if account.Name == "" {
		return store.Record{}, fmt.Errorf("%w: cannot name account without an id_token subject", token.ErrProtocol)
	}

	rec := store.Record{Account: account, Tokens: set, UpdatedAt: m.now()}
	if err := m.store.Put(ctx, rec); err != nil {
		return store.Record{}, err
	}
	m.logger.Info("account authorized", "account", account.ID(), "expires_at", set.Expiry)
	return rec, nil
}

func accountName(set token.Set) string {
	if set.IDToken == "" {
		return ""
	}
	claims, err := token.Claims(set.IDToken)
	if err != nil {
		return ""
	}
	return token.DisplayName(claims)
}
