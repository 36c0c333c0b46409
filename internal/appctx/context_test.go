package appctx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/basecamp/tokenkit/internal/config"
	"github.com/basecamp/tokenkit/internal/output"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
	"github.com/basecamp/tokenkit/internal/tokenstore"
)

func testConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = backend
	cfg.Provider.TokenEndpoint = "/oauth/token"
	cfg.Provider.Credentials = map[string]any{"app_id": "x", "app_secret": "y"}
	return cfg
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	app := NewApp(cfg)

	require.NotNil(t, app)
	assert.Same(t, cfg, app.Config)
	assert.NotNil(t, app.Output)
	assert.NotNil(t, app.Logger)
	assert.NotNil(t, app.Collector)
	assert.NotNil(t, app.Hooks)
	assert.Equal(t, 1, app.Events.Len(), "hooks observe the shared dispatcher")
	assert.Nil(t, app.Client, "nothing is opened before Connect")
}

func TestWithAppAndFromContext(t *testing.T) {
	app := NewApp(testConfig(config.BackendMemory))
	ctx := WithApp(context.Background(), app)

	assert.Same(t, app, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestApplyFlagsFormat(t *testing.T) {
	tests := []struct {
		name  string
		flags GlobalFlags
		want  output.Format
	}{
		{"default", GlobalFlags{}, output.FormatAuto},
		{"json", GlobalFlags{JSON: true}, output.FormatJSON},
		{"quiet wins over json", GlobalFlags{JSON: true, Quiet: true}, output.FormatQuiet},
		{"styled", GlobalFlags{Styled: true}, output.FormatStyled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(testConfig(config.BackendMemory))
			app.Flags = tt.flags
			app.ApplyFlags()
			assert.Equal(t, tt.want, app.Output.Format())
		})
	}
}

func TestApplyFlagsVerbose(t *testing.T) {
	t.Setenv("TOKENKIT_DEBUG", "")
	var stderr bytes.Buffer

	app := NewApp(testConfig(config.BackendMemory))
	app.stderr = &stderr
	app.Flags.Verbose = 2
	app.ApplyFlags()

	assert.Equal(t, 2, app.Hooks.Level())
	app.Logger.Debug("probe")
	assert.Contains(t, stderr.String(), "probe")
}

func TestVerboseLevelFromEnv(t *testing.T) {
	app := NewApp(testConfig(config.BackendMemory))

	t.Setenv("TOKENKIT_DEBUG", "1")
	assert.Equal(t, 1, app.VerboseLevel())

	t.Setenv("TOKENKIT_DEBUG", "true")
	assert.Equal(t, 2, app.VerboseLevel())

	app.Flags.Verbose = 2
	t.Setenv("TOKENKIT_DEBUG", "1")
	assert.Equal(t, 2, app.VerboseLevel(), "flag wins when higher")
}

func TestGlobalFlagsOverrides(t *testing.T) {
	f := GlobalFlags{Store: "redis", StoreDir: "/d", BaseURL: "https://b", Endpoint: "/t"}
	assert.Equal(t, config.FlagOverrides{Store: "redis", StoreDir: "/d", BaseURL: "https://b", TokenEndpoint: "/t"}, f.Overrides())
}

func TestConnectMemory(t *testing.T) {
	app := NewApp(testConfig(config.BackendMemory))
	require.NoError(t, app.Connect(context.Background()))

	assert.IsType(t, &tokenstore.Memory{}, app.Store)
	assert.NotNil(t, app.Transport)
	assert.NotNil(t, app.Tokens)
	assert.NotNil(t, app.Client)
	assert.Same(t, app.Tokens, app.Client.TokenManager())

	client := app.Client
	require.NoError(t, app.Connect(context.Background()))
	assert.Same(t, client, app.Client, "Connect is idempotent")
}

func TestConnectFile(t *testing.T) {
	cfg := testConfig(config.BackendFile)
	cfg.Store.Dir = t.TempDir()

	app := NewApp(cfg)
	require.NoError(t, app.Connect(context.Background()))

	fs, ok := app.Store.(*tokenstore.File)
	require.True(t, ok)
	assert.Equal(t, cfg.Store.Dir, fs.Dir())
}

func TestConnectKeyring(t *testing.T) {
	keyring.MockInit()
	app := NewApp(testConfig(config.BackendKeyring))
	require.NoError(t, app.Connect(context.Background()))
	assert.IsType(t, &tokenstore.Keyring{}, app.Store)
}

func TestConnectKeyringUnavailableFallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	t.Cleanup(keyring.MockInit)

	var stderr bytes.Buffer
	cfg := testConfig(config.BackendKeyring)
	cfg.Store.Dir = t.TempDir()
	app := NewApp(cfg)
	app.stderr = &stderr

	require.NoError(t, app.Connect(context.Background()))
	assert.IsType(t, &tokenstore.File{}, app.Store)
	assert.Contains(t, stderr.String(), "keyring unavailable")
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.BackendRedis)
	cfg.Redis.Addr = mr.Addr()

	app := NewApp(cfg)
	require.NoError(t, app.Connect(context.Background()))
	assert.IsType(t, &tokenstore.Redis{}, app.Store)

	require.NoError(t, app.Tokens.SetToken(context.Background(), "seeded", 60))
	key, err := app.Tokens.CacheKey(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	assert.NoError(t, app.Close())
}

func TestConnectRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(config.BackendRedis)
	cfg.Redis.Addr = addr

	err := NewApp(cfg).Connect(context.Background())
	require.Error(t, err)
	assert.True(t, sdkerrors.IsCache(err))
}

func TestConnectUnknownBackend(t *testing.T) {
	err := NewApp(testConfig("s3")).Connect(context.Background())
	assert.True(t, sdkerrors.IsConfig(err))
}

func TestConnectedClientRefreshesOnce(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls++
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		default:
			if r.URL.Query().Get("access_token") != "tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	cfg := testConfig(config.BackendMemory)
	cfg.HTTP.BaseURL = srv.URL
	cfg.HTTP.RetryDelay = 0

	app := NewApp(cfg)
	require.NoError(t, app.Connect(context.Background()))

	resp, err := app.Client.Get(context.Background(), "/api/v1/resource", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, tokenCalls)

	summary := app.Collector.Summary()
	assert.Equal(t, 1, summary.TokenRefreshes)
	assert.Equal(t, 1, summary.TotalResponses)
}

func TestAppOKWithStats(t *testing.T) {
	var buf bytes.Buffer
	app := NewApp(testConfig(config.BackendMemory))
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &buf})
	app.Flags.Stats = true

	require.NoError(t, app.OK(map[string]any{"a": 1}))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	meta, ok := resp["meta"].(map[string]any)
	require.True(t, ok, "meta present with --stats")
	assert.Contains(t, meta, "stats")
}

func TestAppOKWithoutStats(t *testing.T) {
	var buf bytes.Buffer
	app := NewApp(testConfig(config.BackendMemory))
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &buf})

	require.NoError(t, app.OK("x"))
	assert.NotContains(t, buf.String(), "meta")
}

func TestAppErrPrintsStatsToStderr(t *testing.T) {
	var out, stderr bytes.Buffer
	app := NewApp(testConfig(config.BackendMemory))
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &out})
	app.stderr = &stderr
	app.Flags.Stats = true

	require.NoError(t, app.Err(sdkerrors.ErrConfig("missing")))
	assert.Contains(t, out.String(), `"code": "config"`)
	assert.Contains(t, stderr.String(), "Stats: ")
}

func TestAppErrQuietSkipsStats(t *testing.T) {
	var out, stderr bytes.Buffer
	app := NewApp(testConfig(config.BackendMemory))
	app.Output = output.New(output.Options{Format: output.FormatQuiet, Writer: &out})
	app.stderr = &stderr
	app.Flags.Stats = true
	app.Flags.Quiet = true

	require.NoError(t, app.Err(sdkerrors.ErrConfig("missing")))
	assert.Empty(t, stderr.String())
}
