package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/tui"
)

const defaultLoginTimeout = 5 * time.Minute

// options holds the command line flags shared by every subcommand.
type options struct {
	configPath   string
	account      string
	logLevel     string
	loginTimeout time.Duration
	overrides    config.Overrides
}

// flag name → environment key understood by config.Load.
var overrideFlags = []struct {
	name, key, usage string
}{
	{"client-id", config.EnvClientID, "OAuth client ID (or CLIENT_ID env)"},
	{"client-secret", config.EnvClientSecret, "OAuth client secret (or CLIENT_SECRET env)"},
	{"auth-url", config.EnvAuthURL, "Authorization endpoint (or AUTHORIZATION_SERVER_URL env)"},
	{"token-url", config.EnvTokenURL, "Token endpoint (or TOKEN_SERVER_URL env)"},
	{"userinfo-url", config.EnvUserInfoURL, "Userinfo endpoint (or USERINFO_URL env)"},
	{"redirect-url", config.EnvRedirectURL, "Redirect URI registered for the client (or REDIRECT_URL env)"},
	{"scopes", config.EnvScopes, "Space or comma separated scopes (or SCOPES env)"},
	{"flow", config.EnvFlowType, "Flow type: AuthorizationCode, Implicit, Hybrid (or FLOW_TYPE env)"},
	{"account-type", config.EnvAccountType, "Account type namespace (or ACCOUNT_TYPE env)"},
	{"token-store", config.EnvTokenStore, "Credential store: file, memory, redis, sqlite, postgres (or TOKEN_STORE env)"},
	{"token-file", config.EnvTokenFile, "Token file for the file store (or TOKEN_FILE env)"},
	{"redis-url", config.EnvRedisURL, "Redis URL for the redis store (or REDIS_URL env)"},
	{"db-driver", config.EnvDatabaseDriver, "database/sql driver override (or DATABASE_DRIVER env)"},
	{"db-dsn", config.EnvDatabaseDSN, "DSN for the sqlite/postgres store (or DATABASE_DSN env)"},
	{"timeout", config.EnvHTTPTimeout, "Per request HTTP timeout, e.g. 10s (or HTTP_TIMEOUT env)"},
	{"clock-skew", config.EnvClockSkew, "Margin before access token expiry, e.g. 30s (or CLOCK_SKEW env)"},
	{"retry", config.EnvRetryGets, "Retry API GETs on server errors (or RETRY_GETS env)"},
}

func newRootCmd(s streams) *cobra.Command {
	opts := &options{overrides: config.Overrides{}}

	root := &cobra.Command{
		Use:           "oidc-account",
		Short:         "oidc-account – OIDC login and token lifecycle for stored accounts",
		Long:          "oidc-account signs in with the OAuth2 authorization-code flow, stores the tokens per account\nand serves valid access tokens, refreshing them when they expire.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	pf.StringVarP(&opts.account, "account", "a", "", "Account name or type/name to operate on")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log to stderr at this level: debug, info, warn, error")
	pf.DurationVar(&opts.loginTimeout, "login-timeout", defaultLoginTimeout, "How long to wait for the authorization redirect")
	values := make(map[string]*string, len(overrideFlags))
	for _, f := range overrideFlags {
		values[f.key] = pf.String(f.name, "", f.usage)
	}
	root.PersistentPreRun = func(*cobra.Command, []string) {
		for key, v := range values {
			if *v != "" {
				opts.overrides[key] = *v
			}
		}
	}

	root.AddCommand(
		loginCmd(s, opts),
		callCmd(s, opts),
		tokenCmd(s, opts),
		invalidateCmd(s, opts),
		resetCmd(s, opts),
		deleteCmd(s, opts),
		accountsCmd(s, opts),
		versionCmd(s),
	)
	return root
}

// withApp loads configuration, wires the application and runs fn under a
// context cancelled by Ctrl+C.
func withApp(s streams, opts *options, title string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath, opts.overrides)
	if err != nil {
		fmt.Fprintf(s.err, "Error: %v\n", err)
		return err
	}
	logger, err := newLogger(s, opts.logLevel)
	if err != nil {
		fmt.Fprintf(s.err, "Error: %v\n", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.display(title, func(d tui.Displayer) error {
		a, err := newApp(ctx, cfg, logger, d, s, opts)
		if err != nil {
			d.Fatal(err)
			return err
		}
		defer a.Close()

		if err := fn(ctx, a); err != nil {
			d.Fatal(err)
			return err
		}
		return nil
	})
}

func newLogger(s streams, level string) (*slog.Logger, error) {
	if level == "" {
		return slog.New(slog.DiscardHandler), nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(s.err, &slog.HandlerOptions{Level: l})), nil
}

func loginCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize an account interactively and store its tokens",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Login", func(ctx context.Context, a *app) error {
				if err := a.requireClient(); err != nil {
					return err
				}
				acct, err := parseAccountFlag(opts.account, a.cfg.Client.AccountType)
				if err != nil {
					return err
				}
				rec, err := a.login(ctx, acct.Name)
				if err != nil {
					return err
				}
				a.d.Done(a.summary(rec))
				return nil
			})
		},
	}
}

func callCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call [url]",
		Short: "Call a protected API (default: the userinfo endpoint) and print its JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(s, opts, "OIDC API Call", func(ctx context.Context, a *app) error {
				if err := a.requireClient(); err != nil {
					return err
				}
				var target string
				if len(args) == 1 {
					target = args[0]
				} else if a.cfg.Client.UserInfoURL == "" {
					return fmt.Errorf("no URL given and %s is not set", config.EnvUserInfoURL)
				}

				acct, err := a.ensureAccount(ctx, opts.account)
				if err != nil {
					return err
				}
				claims, err := a.callAPI(ctx, target, acct)
				if err != nil {
					return err
				}
				return writeJSON(s, claims)
			})
		},
	}
}

func tokenCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing or logging in as needed",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Access Token", func(ctx context.Context, a *app) error {
				if err := a.requireClient(); err != nil {
					return err
				}
				acct, err := a.ensureAccount(ctx, opts.account)
				if err != nil {
					return err
				}
				accessToken, err := a.accessToken(ctx, acct)
				if err != nil {
					return err
				}
				fmt.Fprintln(s.out, accessToken)
				return nil
			})
		},
	}
}

func invalidateCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached access token so the next use refreshes it",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Invalidate", func(ctx context.Context, a *app) error {
				acct, err := a.existingAccount(ctx, opts.account)
				if err != nil {
					return err
				}
				if err := a.manager.Invalidate(ctx, acct.ID()); err != nil {
					return err
				}
				a.d.Invalidated(acct.ID())
				return nil
			})
		},
	}
}

func resetCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every token of an account but keep the account",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Reset", func(ctx context.Context, a *app) error {
				acct, err := a.existingAccount(ctx, opts.account)
				if err != nil {
					return err
				}
				if err := a.manager.Reset(ctx, acct.ID()); err != nil {
					return err
				}
				a.d.TokensCleared(acct.ID())
				return nil
			})
		},
	}
}

func deleteCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove an account and its tokens",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Delete Account", func(ctx context.Context, a *app) error {
				acct, err := a.existingAccount(ctx, opts.account)
				if err != nil {
					return err
				}
				if err := a.manager.DeleteAccount(ctx, acct.ID()); err != nil {
					return err
				}
				a.d.Deleted(acct.ID())
				return nil
			})
		},
	}
}

func accountsCmd(s streams, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(s, opts, "OIDC Accounts", func(ctx context.Context, a *app) error {
				accounts, err := a.manager.Accounts(ctx, a.cfg.Client)
				if err != nil {
					return err
				}
				for _, acct := range accounts {
					fmt.Fprintln(s.out, acct.ID())
				}
				return nil
			})
		},
	}
}

func versionCmd(s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(s.out, "oidc-account %s\n", Version)
		},
	}
}

func writeJSON(s streams, v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// warnInsecure mirrors the plaintext warning shown for http endpoints.
func warnInsecure(s streams, cfg config.ClientConfig) {
	insecure := cfg.InsecureEndpoints()
	if len(insecure) == 0 {
		return
	}
	fmt.Fprintf(s.err, "⚠️  WARNING: Using HTTP instead of HTTPS for %s. Tokens will be transmitted in plaintext!\n",
		strings.Join(insecure, ", "))
	fmt.Fprintln(s.err, "⚠️  This is only safe for local development. Use HTTPS in production.")
	fmt.Fprintln(s.err)
}
