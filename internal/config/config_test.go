package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// isolate points the global config lookup at an empty directory and clears
// every TOKENKIT_* variable for the duration of the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range Keys() {
		t.Setenv(EnvName(key), "")
	}
	return dir
}

func writeGlobal(t *testing.T, xdg, name, content string) {
	t.Helper()
	dir := filepath.Join(xdg, "tokenkit")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1, cfg.HTTP.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, sdk.BodyJSON, cfg.BodyFormat())
	assert.Equal(t, int64(7200), cfg.Token.DefaultLifetime)
	assert.Equal(t, "tokenkit.access_token.", cfg.Cache.Prefix)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "GET", cfg.Provider.RequestMethod)
	assert.NotNil(t, cfg.Sources)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := map[string]any{
		"http": map[string]any{
			"base_url":    "https://api.example.com",
			"max_retries": 3,
			"retry_delay": 50,
			"body_format": "form",
		},
		"token": map[string]any{"default_lifetime": 600},
		"provider": map[string]any{
			"token_endpoint": "/oauth/token",
			"request_method": "post",
			"token_field":    "sid",
			"credentials":    map[string]any{"app_id": "x", "app_secret": "y"},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg := Default()
	require.NoError(t, loadFromFile(cfg, path, SourceFile))

	assert.Equal(t, "https://api.example.com", cfg.HTTP.BaseURL)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, sdk.BodyForm, cfg.BodyFormat())
	assert.Equal(t, int64(600), cfg.Token.DefaultLifetime)
	assert.Equal(t, map[string]any{"app_id": "x", "app_secret": "y"}, cfg.Provider.Credentials)

	settings := cfg.ProviderSettings()
	assert.Equal(t, "POST", settings.Method())
	assert.Equal(t, "sid", settings.Field())
	assert.Equal(t, "sid", settings.Query())

	assert.Equal(t, "file", cfg.Sources["http.base_url"])
	assert.Equal(t, "file", cfg.Sources["provider.credentials"])
	assert.Empty(t, cfg.Sources["store.backend"])
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
store:
  backend: redis
redis:
  addr: 10.0.0.5:6379
  db: 2
provider:
  token_endpoint: https://auth.example.com/token
  credentials:
    app_id: abc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := Default()
	require.NoError(t, loadFromFile(cfg, path, SourceGlobal))

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "https://auth.example.com/token", cfg.Provider.TokenEndpoint)
	assert.Equal(t, "abc", cfg.Provider.Credentials["app_id"])
	assert.Equal(t, "global", cfg.Sources["redis.db"])
}

func TestLoadFromFileDottedKeys(t *testing.T) {
	cfg := Default()
	err := LoadFromReader(cfg, strings.NewReader(`{"http.max_retries": 2, "cache.prefix": "p."}`), "json", SourceFile)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.HTTP.MaxRetries)
	assert.Equal(t, "p.", cfg.Cache.Prefix)
}

func TestLoadFromFileRejectsBadTypes(t *testing.T) {
	cfg := Default()
	err := LoadFromReader(cfg, strings.NewReader(`{"http": {"max_retries": 1.5}}`), "json", SourceFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.max_retries")

	err = LoadFromReader(cfg, strings.NewReader(`{"provider": {"credentials": 7}}`), "json", SourceFile)
	require.Error(t, err)
}

func TestLoadFromFileIgnoresUnknownAndEmpty(t *testing.T) {
	cfg := Default()
	err := LoadFromReader(cfg, strings.NewReader(`{"nope": 1, "cache": {"prefix": ""}}`), "json", SourceFile)
	require.NoError(t, err)

	assert.Equal(t, "tokenkit.access_token.", cfg.Cache.Prefix)
	assert.Empty(t, cfg.Sources["cache.prefix"])
}

func TestLoadFromFileEmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFromReader(cfg, strings.NewReader("  \n"), "yaml", SourceFile))
	assert.Equal(t, Default().HTTP, cfg.HTTP)
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("TOKENKIT_HTTP_MAX_RETRIES", "4")
	t.Setenv("TOKENKIT_STORE_BACKEND", "memory")
	t.Setenv("TOKENKIT_PROVIDER_CREDENTIALS", `{"app_id":"env"}`)
	t.Setenv("TOKENKIT_HTTP_TIMEOUT", "soon")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, 4, cfg.HTTP.MaxRetries)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "env", cfg.Provider.Credentials["app_id"])
	assert.Equal(t, 30, cfg.HTTP.Timeout, "malformed values are skipped")
	assert.Equal(t, "env", cfg.Sources["http.max_retries"])
	assert.Empty(t, cfg.Sources["http.timeout"])
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "TOKENKIT_HTTP_MAX_RETRIES", EnvName("http.max_retries"))
	assert.Equal(t, "TOKENKIT_PROVIDER_TOKEN_ENDPOINT", EnvName("provider.token_endpoint"))
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	ApplyOverrides(cfg, FlagOverrides{Store: "keyring", BaseURL: "https://flag.example.com"})

	assert.Equal(t, BackendKeyring, cfg.Store.Backend)
	assert.Equal(t, "https://flag.example.com", cfg.HTTP.BaseURL)
	assert.Equal(t, "flag", cfg.Sources["store.backend"])
	assert.Empty(t, cfg.Sources["provider.token_endpoint"], "empty overrides are skipped")
}

func TestFullLayeringPrecedence(t *testing.T) {
	xdg := isolate(t)
	writeGlobal(t, xdg, "config.yaml", `
http:
  base_url: global.example.com
  max_retries: 2
  retry_delay: 100
store:
  backend: memory
`)

	explicit := filepath.Join(t.TempDir(), "override.json")
	require.NoError(t, os.WriteFile(explicit, []byte(`{"http": {"max_retries": 5}, "store": {"backend": "keyring"}}`), 0644))

	t.Setenv("TOKENKIT_STORE_BACKEND", "redis")

	cfg, err := Load(explicit, FlagOverrides{StoreDir: "/tmp/flag"})
	require.NoError(t, err)

	assert.Equal(t, "https://global.example.com", cfg.HTTP.BaseURL, "global file, normalized")
	assert.Equal(t, "global", cfg.Sources["http.base_url"])
	assert.Equal(t, 100, cfg.HTTP.RetryDelay)
	assert.Equal(t, 5, cfg.HTTP.MaxRetries)
	assert.Equal(t, "file", cfg.Sources["http.max_retries"])
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "env", cfg.Sources["store.backend"])
	assert.Equal(t, "/tmp/flag", cfg.Store.Dir)
	assert.Equal(t, "flag", cfg.Sources["store.dir"])
}

func TestLoadSkipsMalformedGlobal(t *testing.T) {
	xdg := isolate(t)
	writeGlobal(t, xdg, "config.json", "not valid json")

	cfg, err := Load("", FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP, cfg.HTTP)
}

func TestLoadExplicitFileErrors(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), FlagOverrides{})
	require.Error(t, err)
	assert.True(t, sdkerrors.IsConfig(err))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("http: [unterminated"), 0644))
	_, err = Load(bad, FlagOverrides{})
	assert.True(t, sdkerrors.IsConfig(err))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "s3"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store backend "s3"`)

	cfg = Default()
	cfg.HTTP.BodyFormat = "xml"
	assert.True(t, sdkerrors.IsConfig(cfg.Validate()))

	cfg = Default()
	cfg.HTTP.Timeout = -1
	assert.Error(t, cfg.Validate())
}

func TestProvider(t *testing.T) {
	cfg := Default()
	cfg.Provider.TokenEndpoint = "/token"
	cfg.Provider.Credentials = map[string]any{"app_id": "x"}

	p := cfg.Provider()
	assert.Equal(t, "/token", p.Settings().TokenEndpoint)
	assert.Equal(t, sdk.Credentials{"app_id": "x"}, p.Params)
}

func TestEntriesRedactSecrets(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "hunter2"
	cfg.Provider.Credentials = map[string]any{"app_secret": "s3cr3t"}
	cfg.Sources["redis.password"] = "env"

	entries := cfg.Entries()
	require.Len(t, entries, len(Keys()))

	byKey := make(map[string]Entry)
	for _, e := range entries {
		byKey[e.Key] = e
	}
	assert.Equal(t, "[redacted]", byKey["redis.password"].Value)
	assert.Equal(t, "env", byKey["redis.password"].Source)
	assert.Equal(t, map[string]any{"app_secret": "[redacted]"}, byKey["provider.credentials"].Value)
	assert.Equal(t, "default", byKey["http.max_retries"].Source)
	assert.Equal(t, 1, byKey["http.max_retries"].Value)
}

func TestGlobalConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/tokenkit", GlobalConfigDir())
}

func TestGlobalConfigPathPrefersExisting(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "tokenkit", "config.json"), globalConfigPath())

	writeGlobal(t, xdg, "config.yml", "store:\n  backend: memory\n")
	assert.Equal(t, filepath.Join(xdg, "tokenkit", "config.yml"), globalConfigPath())
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"https://api.example.com/", "https://api.example.com"},
		{"api.example.com", "https://api.example.com"},
		{"api.example.com/v2/", "https://api.example.com/v2"},
		{"localhost:3000", "http://localhost:3000"},
		{"127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"[::1]:8080", "http://[::1]:8080"},
		{"app.localhost", "http://app.localhost"},
		{"http://api.example.com", "http://api.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeBaseURL(tt.input))
		})
	}
}
