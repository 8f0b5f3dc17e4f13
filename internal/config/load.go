package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment keys recognised by Load.
const (
	EnvClientID       = "CLIENT_ID"
	EnvClientSecret   = "CLIENT_SECRET"
	EnvAuthURL        = "AUTHORIZATION_SERVER_URL"
	EnvTokenURL       = "TOKEN_SERVER_URL"
	EnvUserInfoURL    = "USERINFO_URL"
	EnvRedirectURL    = "REDIRECT_URL"
	EnvScopes         = "SCOPES"
	EnvFlowType       = "FLOW_TYPE"
	EnvAccountType    = "ACCOUNT_TYPE"
	EnvTokenStore     = "TOKEN_STORE"
	EnvTokenFile      = "TOKEN_FILE"
	EnvRedisURL       = "REDIS_URL"
	EnvDatabaseDriver = "DATABASE_DRIVER"
	EnvDatabaseDSN    = "DATABASE_DSN"
	EnvHTTPTimeout    = "HTTP_TIMEOUT"
	EnvClockSkew      = "CLOCK_SKEW"
	EnvRetryGets      = "RETRY_GETS"
)

const (
	DefaultRedirectURL = "http://127.0.0.1:8085/callback"
	DefaultAccountType = "oidc"
	DefaultTokenFile   = ".oidc-accounts.json"
	DefaultHTTPTimeout = 10 * time.Second
	DefaultClockSkew   = 30 * time.Second
)

// Overrides carries command line values keyed by their environment key.
// Empty values are ignored.
type Overrides map[string]string

// Defaults returns the configuration used when nothing else is supplied.
func Defaults() Config {
	return Config{
		Client: ClientConfig{
			RedirectURL: DefaultRedirectURL,
			ScopeList:   []string{"openid", "profile", "offline_access"},
			FlowType:    AuthorizationCode,
			AccountType: DefaultAccountType,
		},
		Settings: Settings{
			TokenStore:  "file",
			TokenFile:   DefaultTokenFile,
			HTTPTimeout: DefaultHTTPTimeout,
			ClockSkew:   DefaultClockSkew,
		},
	}
}

// Load builds the configuration once at startup.
// Priority: flag > env (including .env) > YAML file > default.
func Load(path string, flags Overrides) (Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	c := &cfg.Client
	c.ClientID = getConfig(flags[EnvClientID], EnvClientID, c.ClientID)
	c.ClientSecret = getConfig(flags[EnvClientSecret], EnvClientSecret, c.ClientSecret)
	c.AuthorizationServerURL = getConfig(flags[EnvAuthURL], EnvAuthURL, c.AuthorizationServerURL)
	c.TokenServerURL = getConfig(flags[EnvTokenURL], EnvTokenURL, c.TokenServerURL)
	c.UserInfoURL = getConfig(flags[EnvUserInfoURL], EnvUserInfoURL, c.UserInfoURL)
	c.RedirectURL = getConfig(flags[EnvRedirectURL], EnvRedirectURL, c.RedirectURL)
	c.AccountType = getConfig(flags[EnvAccountType], EnvAccountType, c.AccountType)
	if raw := getConfig(flags[EnvScopes], EnvScopes, ""); raw != "" {
		c.ScopeList = splitScopes(raw)
	}
	if raw := getConfig(flags[EnvFlowType], EnvFlowType, string(c.FlowType)); raw != "" {
		flow, err := ParseFlowType(raw)
		if err != nil {
			return Config{}, err
		}
		c.FlowType = flow
	}

	s := &cfg.Settings
	s.TokenStore = getConfig(flags[EnvTokenStore], EnvTokenStore, s.TokenStore)
	s.TokenFile = getConfig(flags[EnvTokenFile], EnvTokenFile, s.TokenFile)
	s.RedisURL = getConfig(flags[EnvRedisURL], EnvRedisURL, s.RedisURL)
	s.DatabaseDriver = getConfig(flags[EnvDatabaseDriver], EnvDatabaseDriver, s.DatabaseDriver)
	s.DatabaseDSN = getConfig(flags[EnvDatabaseDSN], EnvDatabaseDSN, s.DatabaseDSN)

	var err error
	if s.HTTPTimeout, err = getDuration(flags, EnvHTTPTimeout, s.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if s.ClockSkew, err = getDuration(flags, EnvClockSkew, s.ClockSkew); err != nil {
		return Config{}, err
	}
	if raw := getConfig(flags[EnvRetryGets], EnvRetryGets, ""); raw != "" {
		if s.RetryGets, err = strconv.ParseBool(raw); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvRetryGets, err)
		}
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s not found", path)
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(flags Overrides, key string, def time.Duration) (time.Duration, error) {
	raw := getConfig(flags[key], key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// splitScopes accepts space or comma separated scope lists and keeps order.
func splitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
