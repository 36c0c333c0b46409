// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// Config holds the resolved configuration.
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Token    TokenConfig    `json:"token" yaml:"token"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`

	// Sources tracks where each value came from, keyed by dotted name.
	Sources map[string]string `json:"-" yaml:"-"`
}

// HTTPConfig controls the request pipeline and transport.
type HTTPConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	BodyFormat string `json:"body_format" yaml:"body_format"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	RetryDelay int    `json:"retry_delay" yaml:"retry_delay"` // milliseconds
	Timeout    int    `json:"timeout" yaml:"timeout"`         // seconds
}

// TokenConfig controls token lifetimes.
type TokenConfig struct {
	DefaultLifetime int64 `json:"default_lifetime" yaml:"default_lifetime"` // seconds
}

// CacheConfig controls cache key derivation.
type CacheConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// StoreConfig selects the token store backend.
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Dir     string `json:"dir" yaml:"dir"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ProviderConfig describes the token endpoint and the credentials sent to it.
type ProviderConfig struct {
	TokenEndpoint string         `json:"token_endpoint" yaml:"token_endpoint"`
	RequestMethod string         `json:"request_method" yaml:"request_method"`
	TokenField    string         `json:"token_field" yaml:"token_field"`
	QueryField    string         `json:"query_field" yaml:"query_field"`
	Credentials   map[string]any `json:"credentials" yaml:"credentials"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Store backends.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendRedis   = "redis"
)

// EnvPrefix prefixes every environment override, e.g. TOKENKIT_HTTP_MAX_RETRIES.
const EnvPrefix = "TOKENKIT_"

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Store         string
	StoreDir      string
	BaseURL       string
	TokenEndpoint string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			BodyFormat: string(sdk.BodyJSON),
			MaxRetries: 1,
			RetryDelay: 500,
			Timeout:    30,
		},
		Token:    TokenConfig{DefaultLifetime: 7200},
		Cache:    CacheConfig{Prefix: "tokenkit.access_token."},
		Store:    StoreConfig{Backend: BackendFile},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Provider: ProviderConfig{RequestMethod: "GET"},
		Sources:  make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > explicit file > global > defaults
//
// A malformed global file is skipped with a warning. An explicit file that is
// missing or malformed is an error.
func Load(path string, overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	if global := globalConfigPath(); global != "" {
		if err := loadFromFile(cfg, global, SourceGlobal); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", global, err)
		}
	}

	if path != "" {
		if err := loadFromFile(cfg, path, SourceFile); err != nil {
			return nil, sdkerrors.ErrConfig(fmt.Sprintf("cannot load config %s: %v", path, err))
		}
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)
	cfg.HTTP.BaseURL = NormalizeBaseURL(cfg.HTTP.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader parses a config document and applies it over cfg. The format
// is "json" or "yaml".
func LoadFromReader(cfg *Config, r io.Reader, format string, source Source) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	values, err := parse(data, format)
	if err != nil {
		return err
	}
	return apply(cfg, flatten(values), source)
}

func loadFromFile(cfg *Config, path string, source Source) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the user's own config
	if err != nil {
		return err
	}
	values, err := parse(data, formatFor(path))
	if err != nil {
		return err
	}
	return apply(cfg, flatten(values), source)
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func parse(data []byte, format string) (map[string]any, error) {
	values := make(map[string]any)
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// flatten turns nested sections into dotted keys. Dotted keys written
// directly in the file are accepted too. provider.credentials stays a map.
func flatten(values map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok && key != keyCredentials {
				walk(key, nested)
				continue
			}
			out[key] = v
		}
	}
	walk("", values)
	return out
}

// Dotted configuration keys.
const (
	keyBaseURL         = "http.base_url"
	keyBodyFormat      = "http.body_format"
	keyMaxRetries      = "http.max_retries"
	keyRetryDelay      = "http.retry_delay"
	keyTimeout         = "http.timeout"
	keyDefaultLifetime = "token.default_lifetime"
	keyPrefix          = "cache.prefix"
	keyBackend         = "store.backend"
	keyStoreDir        = "store.dir"
	keyRedisAddr       = "redis.addr"
	keyRedisPassword   = "redis.password"
	keyRedisDB         = "redis.db"
	keyTokenEndpoint   = "provider.token_endpoint"
	keyRequestMethod   = "provider.request_method"
	keyTokenField      = "provider.token_field"
	keyQueryField      = "provider.query_field"
	keyCredentials     = "provider.credentials"
)

// Keys lists every recognized key in display order.
func Keys() []string {
	return []string{
		keyBaseURL, keyBodyFormat, keyMaxRetries, keyRetryDelay, keyTimeout,
		keyDefaultLifetime, keyPrefix,
		keyBackend, keyStoreDir,
		keyRedisAddr, keyRedisPassword, keyRedisDB,
		keyTokenEndpoint, keyRequestMethod, keyTokenField, keyQueryField, keyCredentials,
	}
}

func apply(cfg *Config, values map[string]any, source Source) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := cfg.set(key, values[key], source); err != nil {
			return err
		}
	}
	return nil
}

// set assigns one dotted key. Unknown keys are ignored; empty strings leave
// the current value in place.
func (cfg *Config) set(key string, v any, source Source) error {
	var err error
	assigned := true

	switch key {
	case keyBaseURL:
		assigned = setString(&cfg.HTTP.BaseURL, v)
	case keyBodyFormat:
		assigned = setString(&cfg.HTTP.BodyFormat, v)
	case keyMaxRetries:
		err = setInt(&cfg.HTTP.MaxRetries, v)
	case keyRetryDelay:
		err = setInt(&cfg.HTTP.RetryDelay, v)
	case keyTimeout:
		err = setInt(&cfg.HTTP.Timeout, v)
	case keyDefaultLifetime:
		var n int
		if err = setInt(&n, v); err == nil {
			cfg.Token.DefaultLifetime = int64(n)
		}
	case keyPrefix:
		assigned = setString(&cfg.Cache.Prefix, v)
	case keyBackend:
		assigned = setString(&cfg.Store.Backend, v)
	case keyStoreDir:
		assigned = setString(&cfg.Store.Dir, v)
	case keyRedisAddr:
		assigned = setString(&cfg.Redis.Addr, v)
	case keyRedisPassword:
		assigned = setString(&cfg.Redis.Password, v)
	case keyRedisDB:
		err = setInt(&cfg.Redis.DB, v)
	case keyTokenEndpoint:
		assigned = setString(&cfg.Provider.TokenEndpoint, v)
	case keyRequestMethod:
		assigned = setString(&cfg.Provider.RequestMethod, v)
	case keyTokenField:
		assigned = setString(&cfg.Provider.TokenField, v)
	case keyQueryField:
		assigned = setString(&cfg.Provider.QueryField, v)
	case keyCredentials:
		var creds map[string]any
		creds, err = toMap(v)
		if err == nil {
			if cfg.Provider.Credentials == nil {
				cfg.Provider.Credentials = make(map[string]any)
			}
			for k, val := range creds {
				cfg.Provider.Credentials[k] = val
			}
		}
	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if assigned {
		cfg.Sources[key] = string(source)
	}
	return nil
}

func setString(dst *string, v any) bool {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case nil:
		return false
	default:
		s = fmt.Sprint(val)
	}
	if s == "" {
		return false
	}
	*dst = s
	return true
}

func setInt(dst *int, v any) error {
	switch val := v.(type) {
	case int:
		*dst = val
	case int64:
		*dst = int(val)
	case uint64:
		*dst = int(val) //nolint:gosec // G115: config values are small
	case float64:
		if val != float64(int(val)) {
			return fmt.Errorf("expected an integer, got %v", val)
		}
		*dst = int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", val)
		}
		*dst = n
	default:
		return fmt.Errorf("expected an integer, got %T", v)
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("expected a map, got %T", v)
	}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadFromEnv loads configuration from TOKENKIT_* environment variables.
// Malformed values are skipped with a warning.
func LoadFromEnv(cfg *Config) {
	for _, key := range Keys() {
		v := os.Getenv(EnvName(key))
		if v == "" {
			continue
		}
		if err := cfg.set(key, v, SourceEnv); err != nil {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s: %v\n", EnvName(key), err)
		}
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Store != "" {
		cfg.Store.Backend = o.Store
		cfg.Sources[keyBackend] = string(SourceFlag)
	}
	if o.StoreDir != "" {
		cfg.Store.Dir = o.StoreDir
		cfg.Sources[keyStoreDir] = string(SourceFlag)
	}
	if o.BaseURL != "" {
		cfg.HTTP.BaseURL = o.BaseURL
		cfg.Sources[keyBaseURL] = string(SourceFlag)
	}
	if o.TokenEndpoint != "" {
		cfg.Provider.TokenEndpoint = o.TokenEndpoint
		cfg.Sources[keyTokenEndpoint] = string(SourceFlag)
	}
}

// Validate checks values that would otherwise fail deep inside a command.
func (cfg *Config) Validate() error {
	if _, err := sdk.ParseBodyFormat(cfg.HTTP.BodyFormat); err != nil {
		return sdkerrors.ErrConfig(err.Error())
	}
	switch cfg.Store.Backend {
	case BackendMemory, BackendFile, BackendKeyring, BackendRedis:
	default:
		return sdkerrors.ErrConfig(fmt.Sprintf("unknown store backend %q (want memory, file, keyring or redis)", cfg.Store.Backend))
	}
	if cfg.HTTP.Timeout < 0 {
		return sdkerrors.ErrConfig("http.timeout must not be negative")
	}
	return nil
}

// RetryDelay returns http.retry_delay as a duration.
func (cfg *Config) RetryDelay() time.Duration {
	return time.Duration(cfg.HTTP.RetryDelay) * time.Millisecond
}

// Timeout returns http.timeout as a duration.
func (cfg *Config) Timeout() time.Duration {
	return time.Duration(cfg.HTTP.Timeout) * time.Second
}

// BodyFormat returns the parsed http.body_format.
func (cfg *Config) BodyFormat() sdk.BodyFormat {
	f, err := sdk.ParseBodyFormat(cfg.HTTP.BodyFormat)
	if err != nil {
		return sdk.BodyJSON
	}
	return f
}

// ProviderSettings returns the token endpoint settings.
func (cfg *Config) ProviderSettings() sdk.ProviderSettings {
	return sdk.ProviderSettings{
		TokenEndpoint: cfg.Provider.TokenEndpoint,
		RequestMethod: cfg.Provider.RequestMethod,
		TokenField:    cfg.Provider.TokenField,
		QueryField:    cfg.Provider.QueryField,
	}
}

// Provider returns a credential provider backed by the configured
// credentials.
func (cfg *Config) Provider() *sdk.StaticProvider {
	return &sdk.StaticProvider{
		Params:           sdk.Credentials(cfg.Provider.Credentials),
		ProviderSettings: cfg.ProviderSettings(),
	}
}

// Entry is one resolved key for display.
type Entry struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

// Entries returns every key with its resolved value and source. Secrets are
// redacted.
func (cfg *Config) Entries() []Entry {
	entries := make([]Entry, 0, len(Keys()))
	for _, key := range Keys() {
		source := cfg.Sources[key]
		if source == "" {
			source = string(SourceDefault)
		}
		entries = append(entries, Entry{Key: key, Value: cfg.value(key), Source: source})
	}
	return entries
}

const redacted = "[redacted]"

func (cfg *Config) value(key string) any {
	switch key {
	case keyBaseURL:
		return cfg.HTTP.BaseURL
	case keyBodyFormat:
		return cfg.HTTP.BodyFormat
	case keyMaxRetries:
		return cfg.HTTP.MaxRetries
	case keyRetryDelay:
		return cfg.HTTP.RetryDelay
	case keyTimeout:
		return cfg.HTTP.Timeout
	case keyDefaultLifetime:
		return cfg.Token.DefaultLifetime
	case keyPrefix:
		return cfg.Cache.Prefix
	case keyBackend:
		return cfg.Store.Backend
	case keyStoreDir:
		return cfg.Store.Dir
	case keyRedisAddr:
		return cfg.Redis.Addr
	case keyRedisPassword:
		if cfg.Redis.Password == "" {
			return ""
		}
		return redacted
	case keyRedisDB:
		return cfg.Redis.DB
	case keyTokenEndpoint:
		return cfg.Provider.TokenEndpoint
	case keyRequestMethod:
		return cfg.Provider.RequestMethod
	case keyTokenField:
		return cfg.Provider.TokenField
	case keyQueryField:
		return cfg.Provider.QueryField
	case keyCredentials:
		masked := make(map[string]any, len(cfg.Provider.Credentials))
		for k := range cfg.Provider.Credentials {
			masked[k] = redacted
		}
		return masked
	}
	return nil
}

// Path helpers

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "tokenkit")
}

// globalConfigPath returns the first existing config.{json,yaml,yml} in the
// global directory, or the JSON path when none exists.
func globalConfigPath() string {
	dir := GlobalConfigDir()
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.json")
}
