package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/tokenkit/internal/config"
	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/version"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TOKENKIT_DEBUG", "")
	for _, key := range config.Keys() {
		t.Setenv(config.EnvName(key), "")
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := NewRootCmd()
	pf := cmd.PersistentFlags()

	for _, name := range []string{"json", "quiet", "styled", "config", "store", "store-dir", "base-url", "endpoint", "verbose", "stats"} {
		assert.NotNil(t, pf.Lookup(name), "--%s", name)
	}
	assert.Equal(t, "j", pf.Lookup("json").Shorthand)
	assert.Equal(t, "q", pf.Lookup("quiet").Shorthand)
	assert.Equal(t, "v", pf.Lookup("verbose").Shorthand)
}

func TestRootCmdAcceptsUnderscoreFlags(t *testing.T) {
	cmd := NewRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("store_dir", "/tmp/tokens"))
	assert.Equal(t, "/tmp/tokens", cmd.PersistentFlags().Lookup("store-dir").Value.String())
}

func TestRootCmdVersion(t *testing.T) {
	var stdout bytes.Buffer
	code := run(NewRootCmd(), []string{"--version"}, &stdout)

	assert.Equal(t, output.ExitOK, code)
	assert.Equal(t, version.Full()+"\n", stdout.String())
}

func TestRootCmdSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"token", "request", "get", "post", "config", "commands"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRunSuccess(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer

	code := run(NewRootCmd(), []string{"--json", "--store", "memory", "config", "show"}, &stdout)

	assert.Equal(t, output.ExitOK, code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
}

func TestRunConfigErrorUsesFallbackWriter(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer
	missing := filepath.Join(t.TempDir(), "nope.json")

	code := run(NewRootCmd(), []string{"--json", "--config", missing, "config", "show"}, &stdout)

	assert.Equal(t, output.ExitConfig, code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, output.CodeConfig, resp["code"])
}

func TestRunUsageErrorThroughApp(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer

	code := run(NewRootCmd(), []string{"--json", "--store", "memory", "request", "TRACE", "/x"}, &stdout)

	assert.Equal(t, output.ExitUsage, code)
	assert.Contains(t, stdout.String(), `"code": "usage"`)
}

func TestRunUnknownFlag(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer

	code := run(NewRootCmd(), []string{"--json", "config", "show", "--bogus"}, &stdout)

	assert.Equal(t, output.ExitUsage, code)
	assert.Contains(t, stdout.String(), "Unknown option: --bogus")
}

func TestRunInvalidBackend(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer

	code := run(NewRootCmd(), []string{"--json", "--store", "s3", "token", "key"}, &stdout)

	assert.Equal(t, output.ExitConfig, code)
}

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		in      string
		wantMsg string
		usage   bool
	}{
		{"flag needs an argument: --store", "--store requires a value", true},
		{"unknown flag: --nope", "Unknown option: --nope", true},
		{"unknown shorthand flag: 'z' in -z", "Unknown option: -z", true},
		{`unknown command "nope" for "tokenkit"`, `unknown command "nope" for "tokenkit"`, true},
		{`invalid argument "x" for "--ttl" flag`, `invalid argument "x" for "--ttl" flag`, true},
		{"accepts 1 arg(s), received 0", "accepts 1 arg(s), received 0", true},
		{"something else", "something else", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := transformCobraError(errors.New(tt.in))

			var e *output.Error
			if tt.usage {
				require.ErrorAs(t, err, &e)
				assert.Equal(t, output.CodeUsage, e.Code)
				assert.Equal(t, tt.wantMsg, e.Message)
				return
			}
			assert.False(t, errors.As(err, &e))
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}
