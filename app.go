package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-authgate/oidc-account/internal/api"
	"github.com/go-authgate/oidc-account/internal/callback"
	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/lifecycle"
	"github.com/go-authgate/oidc-account/internal/store"
	"github.com/go-authgate/oidc-account/internal/token"
	"github.com/go-authgate/oidc-account/internal/transport"
	"github.com/go-authgate/oidc-account/tui"
)

var (
	// ErrAmbiguousAccount is returned when several accounts exist and none was picked.
	ErrAmbiguousAccount = errors.New("multiple accounts stored, pick one with --account")
	// ErrAccountTypeMismatch is returned when --account names another account type.
	ErrAccountTypeMismatch = errors.New("account type does not match the configured account type")
)

// app is one command invocation wired to its collaborators.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	d            tui.Displayer
	streams      streams
	loginTimeout time.Duration

	store   store.Store
	closer  io.Closer
	client  *transport.Client
	manager *lifecycle.Manager
	caller  *api.Caller
}

func newApp(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	d tui.Displayer,
	s streams,
	opts *options,
) (*app, error) {
	st, closer, err := store.Open(ctx, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	client, err := transport.FromSettings(cfg.Settings)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	manager := lifecycle.New(st, client,
		lifecycle.WithSkew(cfg.Settings.ClockSkew),
		lifecycle.WithLogger(logger),
	)

	timeout := opts.loginTimeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	return &app{
		cfg:          cfg,
		logger:       logger,
		d:            d,
		streams:      s,
		loginTimeout: timeout,
		store:        st,
		closer:       closer,
		client:       client,
		manager:      manager,
		caller:       api.NewCaller(manager, client, cfg.Client, logger, api.OnRejected(d.AccessTokenRejected)),
	}, nil
}

func (a *app) Close() {
	if err := a.closer.Close(); err != nil {
		a.logger.Warn("failed to close token store", "error", err)
	}
}

// requireClient validates the client configuration needed for network flows.
func (a *app) requireClient() error {
	if err := a.cfg.Client.Validate(); err != nil {
		return fmt.Errorf("invalid client configuration: %w", err)
	}
	warnInsecure(a.streams, a.cfg.Client)
	return nil
}

// parseAccountFlag turns a --account value (name or type/name) into an
// account of the configured type.
func parseAccountFlag(flag, accountType string) (store.Account, error) {
	if !strings.Contains(flag, "/") {
		return store.Account{Type: accountType, Name: flag}, nil
	}
	acct, err := store.ParseID(flag)
	if err != nil {
		return store.Account{}, err
	}
	if acct.Type != accountType {
		return store.Account{}, fmt.Errorf("%w: %s is not of type %s", ErrAccountTypeMismatch, flag, accountType)
	}
	return acct, nil
}

// resolveAccount picks the account to operate on. ok is false when no
// stored account matches and a login is needed.
func resolveAccount(flag, accountType string, stored []store.Account) (store.Account, bool, error) {
	if flag != "" {
		want, err := parseAccountFlag(flag, accountType)
		if err != nil {
			return store.Account{}, false, err
		}
		for _, acct := range stored {
			if acct == want {
				return acct, true, nil
			}
		}
		return want, false, nil
	}

	switch len(stored) {
	case 0:
		return store.Account{Type: accountType}, false, nil
	case 1:
		return stored[0], true, nil
	}
	ids := make([]string, len(stored))
	for i, acct := range stored {
		ids[i] = acct.ID()
	}
	return store.Account{}, false, fmt.Errorf("%w: %s", ErrAmbiguousAccount, strings.Join(ids, ", "))
}

// ensureAccount resolves the account, logging in when none is stored.
func (a *app) ensureAccount(ctx context.Context, flag string) (store.Account, error) {
	stored, err := a.manager.Accounts(ctx, a.cfg.Client)
	if err != nil {
		return store.Account{}, err
	}
	acct, ok, err := resolveAccount(flag, a.cfg.Client.AccountType, stored)
	if err != nil {
		return store.Account{}, err
	}
	if ok {
		a.d.AccountFound(acct.ID())
		return acct, nil
	}

	a.d.NoAccount()
	rec, err := a.login(ctx, acct.Name)
	if err != nil {
		return store.Account{}, err
	}
	return rec.Account, nil
}

// existingAccount resolves a stored account without ever logging in.
func (a *app) existingAccount(ctx context.Context, flag string) (store.Account, error) {
	stored, err := a.manager.Accounts(ctx, a.cfg.Client)
	if err != nil {
		return store.Account{}, err
	}
	acct, ok, err := resolveAccount(flag, a.cfg.Client.AccountType, stored)
	if err != nil {
		return store.Account{}, err
	}
	if !ok {
		if acct.Name == "" {
			return store.Account{}, token.ErrNoAccount
		}
		return store.Account{}, fmt.Errorf("%w: %s", token.ErrNoAccount, acct.ID())
	}
	a.d.AccountFound(acct.ID())
	return acct, nil
}

// login runs one interactive authorization and stores the tokens. An empty
// name is filled from the ID token.
func (a *app) login(ctx context.Context, name string) (store.Record, error) {
	attempt, authURL, err := a.manager.Login(a.cfg.Client)
	if err != nil {
		return store.Record{}, err
	}

	loginCtx, cancel := context.WithTimeout(ctx, a.loginTimeout)
	defer cancel()
	deadline, _ := loginCtx.Deadline()

	var srv *callback.Server
	loopback := callback.IsLoopback(a.cfg.Client.RedirectURL)
	if loopback {
		srv, err = callback.Listen(a.cfg.Client.RedirectURL, a.logger)
		if err != nil {
			attempt.Cancel()
			return store.Record{}, err
		}
		defer srv.Close()
	}

	a.d.AuthURLReady(authURL, loopback, deadline)
	a.d.WaitingForRedirect()

	var redirect string
	if srv != nil {
		redirect, err = srv.Wait(loginCtx)
	} else {
		redirect, err = readRedirect(loginCtx, a.streams.in)
	}
	if err != nil {
		attempt.Cancel()
		return store.Record{}, err
	}

	rec, err := a.manager.CompleteLogin(ctx, attempt, redirect,
		store.Account{Type: a.cfg.Client.AccountType, Name: name})
	if err != nil {
		return store.Record{}, err
	}
	a.d.LoginComplete(rec.Account.ID())
	return rec, nil
}

// readRedirect reads one pasted redirect URL from in.
func readRedirect(ctx context.Context, in io.Reader) (string, error) {
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			lines <- line
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		errs <- fmt.Errorf("read redirect URL: %w", err)
	}()

	select {
	case line := <-lines:
		return line, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", token.ErrCancelled, ctx.Err())
	}
}

// accessToken returns a valid token, logging in again when refresh is no
// longer possible.
func (a *app) accessToken(ctx context.Context, acct store.Account) (string, error) {
	if cached, ok, err := a.manager.CachedAccessToken(ctx, acct.ID()); err == nil && ok {
		a.d.TokenValid()
		return cached, nil
	}

	a.d.Refreshing()
	accessToken, err := a.manager.GetValidAccessToken(ctx, acct.ID(), a.cfg.Client)
	if err == nil {
		a.d.RefreshOK()
		return accessToken, nil
	}
	if !errors.Is(err, token.ErrReauthorizationRequired) {
		return "", err
	}

	a.d.ReAuthRequired(err)
	if _, err := a.login(ctx, acct.Name); err != nil {
		return "", err
	}
	return a.manager.GetValidAccessToken(ctx, acct.ID(), a.cfg.Client)
}

// callAPI calls target (the userinfo endpoint when empty) for acct, logging
// in again once when the refresh token is no longer accepted.
func (a *app) callAPI(ctx context.Context, target string, acct store.Account) (map[string]any, error) {
	call := func() (map[string]any, error) {
		if target == "" {
			return a.caller.UserInfo(ctx, acct.ID())
		}
		return a.caller.CallAPI(ctx, target, acct.ID())
	}
	claims, err := call()
	if errors.Is(err, token.ErrReauthorizationRequired) {
		a.d.ReAuthRequired(err)
		if _, err := a.login(ctx, acct.Name); err != nil {
			return nil, err
		}
		claims, err = call()
	}
	if err != nil {
		a.d.APICallFailed(err)
		return nil, err
	}

	a.d.APICallOK(api.Username(claims))
	if rec, err := a.store.Get(ctx, acct.ID()); err == nil {
		s := a.summary(rec)
		s.Username = api.Username(claims)
		a.d.Done(s)
	}
	return claims, nil
}

// summary describes a record without exposing its tokens.
func (a *app) summary(rec store.Record) tui.Summary {
	s := tui.Summary{
		Account:   rec.Account.ID(),
		Preview:   rec.Tokens.Preview(),
		TokenType: rec.Tokens.TokenType,
	}
	if !rec.Tokens.Expiry.IsZero() {
		s.ExpiresIn = time.Until(rec.Tokens.Expiry)
	}
	if s.TokenType == "" {
		s.TokenType = "Bearer"
	}
	return s
}
