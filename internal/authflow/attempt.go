// Package authflow drives one interactive authorization-code login.
package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/token"
)

// State is the phase of a login attempt.
type State int

const (
	Idle State = iota
	AwaitingRedirect
	Exchanging
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRedirect:
		return "awaiting_redirect"
	case Exchanging:
		return "exchanging"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

// ErrInvalidTransition is returned when an operation does not fit the current state.
var ErrInvalidTransition = errors.New("invalid login attempt transition")

// CodeExchanger trades an authorization code for tokens.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string, cfg config.ClientConfig) (token.Set, error)
}

// Attempt is a single login. It is never reused: every login gets a fresh
// Attempt with its own state and nonce.
type Attempt struct {
	cfg       config.ClientConfig
	exchanger CodeExchanger

	mu     sync.Mutex
	state  State
	csrf   string
	nonce  string
	result token.Set
	err    error
}

// New creates an idle attempt for cfg.
func New(cfg config.ClientConfig, exchanger CodeExchanger) *Attempt {
	return &Attempt{cfg: cfg, exchanger: exchanger}
}

// State returns the current phase.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Result returns the token set of a complete attempt or the failure cause.
func (a *Attempt) Result() (token.Set, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case Complete:
		return a.result, nil
	case Failed:
		return token.Set{}, a.err
	}
	return token.Set{}, fmt.Errorf("%w: attempt is %s", ErrInvalidTransition, a.state)
}

// Start builds the authorization URL the user agent must open.
func (a *Attempt) Start() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Idle {
		return "", fmt.Errorf("%w: start from %s", ErrInvalidTransition, a.state)
	}
	if a.cfg.FlowType != "" && a.cfg.FlowType != config.AuthorizationCode {
		return "", a.failLocked(fmt.Errorf("%w: %s", token.ErrUnsupportedFlow, a.cfg.FlowType))
	}

	a.csrf = uuid.NewString()
	a.nonce = uuid.NewString()

	authURL, err := buildAuthorizationURL(a.cfg, a.csrf, a.nonce)
	if err != nil {
		return "", a.failLocked(err)
	}
	a.state = AwaitingRedirect
	return authURL, nil
}

// Cancel abandons a pending attempt. A cancelled attempt never reaches the
// token endpoint.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Idle || a.state == AwaitingRedirect {
		a.failLocked(token.ErrCancelled)
	}
}

// HandleRedirect consumes the redirect URI delivered by the user agent and,
// when it belongs to this attempt, exchanges the code for tokens.
func (a *Attempt) HandleRedirect(ctx context.Context, redirectURL string) (token.Set, error) {
	code, err := a.acceptRedirect(ctx, redirectURL)
	if err != nil {
		return token.Set{}, err
	}

	set, err := a.exchanger.ExchangeCode(ctx, code, a.cfg)
	if err == nil {
		err = a.checkNonce(set)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		return token.Set{}, a.failLocked(err)
	}
	a.result = set
	a.state = Complete
	return set, nil
}

// acceptRedirect validates the redirect and moves the attempt to Exchanging.
func (a *Attempt) acceptRedirect(ctx context.Context, redirectURL string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != AwaitingRedirect {
		if a.state == Failed {
			return "", a.err
		}
		return "", fmt.Errorf("%w: redirect while %s", ErrInvalidTransition, a.state)
	}
	if err := ctx.Err(); err != nil {
		return "", a.failLocked(fmt.Errorf("%w: %v", token.ErrCancelled, err))
	}

	params, err := redirectParams(redirectURL)
	if err != nil {
		return "", a.failLocked(err)
	}

	// Nothing else in the redirect is trusted until state matches.
	got := params.Get("state")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.csrf)) != 1 {
		return "", a.failLocked(token.ErrStateMismatch)
	}
	if code := params.Get("error"); code != "" {
		return "", a.failLocked(&token.OAuthError{
			Code:        code,
			Description: params.Get("error_description"),
		})
	}
	code := params.Get("code")
	if code == "" {
		return "", a.failLocked(fmt.Errorf("%w: redirect carries no authorization code", token.ErrProtocol))
	}

	a.state = Exchanging
	return code, nil
}

// checkNonce rejects an ID token minted for a different login.
func (a *Attempt) checkNonce(set token.Set) error {
	if set.IDToken == "" {
		return nil
	}
	claims, err := token.Claims(set.IDToken)
	if err != nil {
		return err
	}
	nonce, ok := claims["nonce"].(string)
	if !ok {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(a.nonce)) != 1 {
		return fmt.Errorf("%w: id_token nonce does not match", token.ErrStateMismatch)
	}
	return nil
}

func (a *Attempt) failLocked(err error) error {
	a.state = Failed
	a.err = err
	return err
}

// buildAuthorizationURL encodes spaces as %20, never '+'.
func buildAuthorizationURL(cfg config.ClientConfig, state, nonce string) (string, error) {
	base, err := url.Parse(cfg.AuthorizationServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization server URL: %w", err)
	}

	q := base.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURL)
	q.Set("response_type", cfg.FlowType.ResponseType())
	q.Set("scope", cfg.ScopeString())
	q.Set("state", state)
	q.Set("nonce", nonce)

	base.RawQuery = strings.ReplaceAll(q.Encode(), "+", "%20")
	return base.String(), nil
}

// redirectParams merges query and fragment parameters of a redirect URI.
func redirectParams(raw string) (url.Values, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed redirect: %v", token.ErrProtocol, err)
	}
	params := u.Query()
	if u.Fragment != "" {
		frag, err := url.ParseQuery(u.Fragment)
		if err == nil {
			for k, v := range frag {
				if _, ok := params[k]; !ok {
					params[k] = v
				}
			}
		}
	}
	return params, nil
}
