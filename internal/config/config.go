package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// FlowType selects the OpenID Connect authentication flow.
type FlowType string

const (
	AuthorizationCode FlowType = "AuthorizationCode"
	Implicit          FlowType = "Implicit"
	Hybrid            FlowType = "Hybrid"
)

// ResponseType returns the response_type the flow sends to the authorization endpoint.
func (f FlowType) ResponseType() string {
	switch f {
	case Implicit:
		return "id_token token"
	case Hybrid:
		return "code id_token"
	default:
		return "code"
	}
}

// ParseFlowType accepts the canonical names case-insensitively, with or
// without underscores ("authorization_code").
func ParseFlowType(s string) (FlowType, error) {
	name := strings.ReplaceAll(s, "_", "")
	for _, f := range []FlowType{AuthorizationCode, Implicit, Hybrid} {
		if strings.EqualFold(name, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown flow type %q", s)
}

// ClientConfig identifies this relying party to the provider.
// Treat it as immutable once loaded.
type ClientConfig struct {
	ClientID               string   `yaml:"client_id"`
	ClientSecret           string   `yaml:"client_secret"`
	AuthorizationServerURL string   `yaml:"authorization_server_url"`
	TokenServerURL         string   `yaml:"token_server_url"`
	UserInfoURL            string   `yaml:"userinfo_url"`
	RedirectURL            string   `yaml:"redirect_url"`
	ScopeList              []string `yaml:"scopes"`
	FlowType               FlowType `yaml:"flow_type"`
	AccountType            string   `yaml:"account_type"`
}

// Scopes returns a copy of the requested scopes in order.
func (c ClientConfig) Scopes() []string {
	return slices.Clone(c.ScopeList)
}

// ScopeString returns the scopes joined by single spaces.
func (c ClientConfig) ScopeString() string {
	return strings.Join(c.ScopeList, " ")
}

// Validate checks that every value the flows depend on is present and well formed.
func (c ClientConfig) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	for name, raw := range map[string]string{
		"authorization server URL": c.AuthorizationServerURL,
		"token server URL":         c.TokenServerURL,
		"userinfo URL":             c.UserInfoURL,
	} {
		if err := validateServerURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}
	if c.RedirectURL == "" {
		errs = append(errs, errors.New("redirect URL is required"))
	} else if u, err := url.Parse(c.RedirectURL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("invalid redirect URL %q", c.RedirectURL))
	}
	if !slices.Contains(c.ScopeList, "openid") {
		errs = append(errs, errors.New(`scopes must include "openid"`))
	}
	if _, err := ParseFlowType(string(c.FlowType)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InsecureEndpoints lists the endpoints that would send tokens in plaintext.
func (c ClientConfig) InsecureEndpoints() []string {
	var out []string
	for _, raw := range []string{c.AuthorizationServerURL, c.TokenServerURL, c.UserInfoURL} {
		if strings.HasPrefix(strings.ToLower(raw), "http://") {
			out = append(out, raw)
		}
	}
	return out
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// Settings are runtime knobs that do not identify the client.
type Settings struct {
	TokenStore     string        `yaml:"token_store"`
	TokenFile      string        `yaml:"token_file"`
	RedisURL       string        `yaml:"redis_url"`
	DatabaseDriver string        `yaml:"database_driver"`
	DatabaseDSN    string        `yaml:"database_dsn"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
	RetryGets      bool          `yaml:"retry_gets"`
}

// Config is everything loaded at process start.
type Config struct {
	Client   ClientConfig `yaml:"client"`
	Settings Settings     `yaml:"settings"`
}
