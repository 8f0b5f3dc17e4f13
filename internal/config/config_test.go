package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	EnvClientID, EnvClientSecret, EnvAuthURL, EnvTokenURL, EnvUserInfoURL,
	EnvRedirectURL, EnvScopes, EnvFlowType, EnvAccountType, EnvTokenStore,
	EnvTokenFile, EnvRedisURL, EnvDatabaseDriver, EnvDatabaseDSN,
	EnvHTTPTimeout, EnvClockSkew, EnvRetryGets,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func validClient() ClientConfig {
	return ClientConfig{
		ClientID:               "sandboxy",
		ClientSecret:           "secret",
		AuthorizationServerURL: "https://idp.example.com/auth",
		TokenServerURL:         "https://idp.example.com/token",
		UserInfoURL:            "https://idp.example.com/userinfo",
		RedirectURL:            "app://oidcsample.example.com",
		ScopeList:              []string{"openid", "profile", "offline_access"},
		FlowType:               AuthorizationCode,
	}
}

func TestFlowType_ResponseType(t *testing.T) {
	assert.Equal(t, "code", AuthorizationCode.ResponseType())
	assert.Equal(t, "id_token token", Implicit.ResponseType())
	assert.Equal(t, "code id_token", Hybrid.ResponseType())

	f, err := ParseFlowType("hybrid")
	require.NoError(t, err)
	assert.Equal(t, Hybrid, f)

	_, err = ParseFlowType("device")
	assert.Error(t, err)
}

func TestClientConfig_Validate(t *testing.T) {
	require.NoError(t, validClient().Validate())

	c := validClient()
	c.ClientID = ""
	c.TokenServerURL = "ftp://idp.example.com/token"
	c.ScopeList = []string{"profile"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id is required")
	assert.Contains(t, err.Error(), "token server URL")
	assert.Contains(t, err.Error(), "openid")
}

func TestClientConfig_ScopesAreCopied(t *testing.T) {
	c := validClient()
	scopes := c.Scopes()
	scopes[0] = "mutated"
	assert.Equal(t, "openid", c.ScopeList[0])
	assert.Equal(t, "openid profile offline_access", c.ScopeString())
}

func TestClientConfig_InsecureEndpoints(t *testing.T) {
	c := validClient()
	assert.Empty(t, c.InsecureEndpoints())

	c.TokenServerURL = "http://10.0.2.2:8082/token"
	assert.Equal(t, []string{"http://10.0.2.2:8082/token"}, c.InsecureEndpoints())
}

func TestLoad_Priority(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
client:
  client_id: from-file
  authorization_server_url: https://file.example.com/auth
  token_server_url: https://file.example.com/token
  userinfo_url: https://file.example.com/userinfo
settings:
  http_timeout: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv(EnvClientID, "from-env")
	t.Setenv(EnvTokenURL, "https://env.example.com/token")
	t.Setenv(EnvScopes, "openid,email openid")
	t.Setenv(EnvClockSkew, "45s")

	cfg, err := Load(path, Overrides{EnvClientID: "from-flag"})
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Client.ClientID)
	assert.Equal(t, "https://env.example.com/token", cfg.Client.TokenServerURL)
	assert.Equal(t, "https://file.example.com/auth", cfg.Client.AuthorizationServerURL)
	assert.Equal(t, []string{"openid", "email"}, cfg.Client.ScopeList)
	assert.Equal(t, 20*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, 45*time.Second, cfg.Settings.ClockSkew)
	assert.Equal(t, DefaultRedirectURL, cfg.Client.RedirectURL)
	assert.Equal(t, AuthorizationCode, cfg.Client.FlowType)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "offline_access"}, cfg.Client.ScopeList)
	assert.Equal(t, "file", cfg.Settings.TokenStore)
	assert.Equal(t, DefaultHTTPTimeout, cfg.Settings.HTTPTimeout)
	assert.Equal(t, DefaultClockSkew, cfg.Settings.ClockSkew)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "not found")

	_, err = Load("", Overrides{EnvHTTPTimeout: "soon"})
	assert.ErrorContains(t, err, EnvHTTPTimeout)

	_, err = Load("", Overrides{EnvFlowType: "device"})
	assert.Error(t, err)
}

func TestLoad_FlowTypeSpellings(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		raw  string
		want FlowType
	}{
		{"AuthorizationCode", AuthorizationCode},
		{"authorization_code", AuthorizationCode},
		{"AUTHORIZATION_CODE", AuthorizationCode},
		{"implicit", Implicit},
		{"Hybrid", Hybrid},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, err := Load("", Overrides{EnvFlowType: tt.raw})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Client.FlowType)
		})
	}
}
