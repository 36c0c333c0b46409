// Package auth manages the lifecycle of cached access tokens: fetching them
// from a token endpoint, caching them in a TokenStore and attaching them to
// outgoing requests.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/basecamp/tokenkit/internal/observability"
	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

const (
	// DefaultPrefix namespaces cache keys.
	DefaultPrefix = "tokenkit.access_token."

	// DefaultLifetime is used when the token endpoint omits expires_in.
	DefaultLifetime int64 = 7200
)

// Manager fetches, caches and refreshes the access token for one
// credential set.
//
// Manager does not serialize refreshes: concurrent callers that miss the
// cache at the same time each call the token endpoint, and the store keeps
// whichever write lands last.
type Manager struct {
	provider  sdk.CredentialProvider
	store     sdk.TokenStore
	transport sdk.Transport

	prefix          string
	defaultLifetime int64
	logger          *slog.Logger
	events          *observability.Dispatcher
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the cache key prefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithDefaultLifetime sets the lifetime used when the token endpoint omits
// expires_in. Non-positive values keep DefaultLifetime.
func WithDefaultLifetime(seconds int64) Option {
	return func(m *Manager) {
		if seconds > 0 {
			m.defaultLifetime = seconds
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDispatcher shares an event dispatcher, typically with an api.Client.
func WithDispatcher(d *observability.Dispatcher) Option {
	return func(m *Manager) {
		if d != nil {
			m.events = d
		}
	}
}

// NewManager creates a token manager. The transport is used as-is for
// token endpoint calls, outside any request middleware.
func NewManager(provider sdk.CredentialProvider, store sdk.TokenStore, transport sdk.Transport, opts ...Option) *Manager {
	m := &Manager{
		provider:        provider,
		store:           store,
		transport:       transport,
		prefix:          DefaultPrefix,
		defaultLifetime: DefaultLifetime,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:          observability.NewDispatcher(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers an observer for token_refreshed events.
func (m *Manager) Subscribe(o observability.Observer) {
	m.events.Subscribe(o)
}

// Provider returns the credential provider.
func (m *Manager) Provider() sdk.CredentialProvider {
	return m.provider
}

// Token returns the cached token, fetching a new one on a cache miss or
// when forceRefresh is set.
//
// A cached record is returned as stored. A fetched record carries the full
// token endpoint response in Raw.
func (m *Manager) Token(ctx context.Context, forceRefresh bool) (*sdk.TokenRecord, error) {
	key, err := m.CacheKey(ctx)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		rec, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, sdkerrors.ErrCache("failed to read token cache", err)
		}
		if ok {
			return rec, nil
		}
	}

	return m.fetch(ctx, key)
}

// Refresh fetches and caches a new token unconditionally.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.Token(ctx, true)
	return err
}

// SetToken caches value under the current credential's key for lifetime
// seconds, then confirms the store can see it. Non-positive lifetimes use
// the default lifetime; lifetimes beyond sdk.MaxLifetime are capped.
func (m *Manager) SetToken(ctx context.Context, value string, lifetime int64) error {
	_, err := m.setToken(ctx, value, lifetime)
	return err
}

func (m *Manager) setToken(ctx context.Context, value string, lifetime int64) (*sdk.TokenRecord, error) {
	key, err := m.CacheKey(ctx)
	if err != nil {
		return nil, err
	}
	if lifetime <= 0 {
		lifetime = m.defaultLifetime
	}
	lifetime = min(lifetime, sdk.MaxLifetime)

	rec := sdk.NewTokenRecord(m.TokenField(), value, lifetime)
	if err := m.store.Set(ctx, key, rec, rec.TTL()); err != nil {
		return nil, sdkerrors.ErrCache("failed to write token cache", err)
	}

	ok, err := m.store.Has(ctx, key)
	if err != nil {
		return nil, sdkerrors.ErrCache("failed to verify token cache", err)
	}
	if !ok {
		return nil, sdkerrors.ErrCache("token store did not retain the token", nil)
	}
	return rec, nil
}

// ApplyToRequest adds the token to req's query as QueryField.
//
// The token parameter is computed first and the request's own query is
// merged over it, so a parameter already on the request with the same name
// is kept and the token is not sent.
func (m *Manager) ApplyToRequest(ctx context.Context, req *sdk.Request) error {
	rec, err := m.Token(ctx, false)
	if err != nil {
		return err
	}

	existing, err := req.EffectiveQuery()
	if err != nil {
		return sdkerrors.ErrUsage(err.Error())
	}

	merged := url.Values{}
	merged.Set(m.QueryField(), rec.Value)
	for k, vs := range existing {
		merged[k] = vs
	}

	if err := req.StripQuery(); err != nil {
		return sdkerrors.ErrUsage(err.Error())
	}
	req.Query = merged
	return nil
}

// CacheKey returns prefix + hex(sha256(serialized credentials)).
func (m *Manager) CacheKey(ctx context.Context) (string, error) {
	creds, err := m.provider.Credentials(ctx)
	if err != nil {
		return "", err
	}
	hash, err := creds.Hash()
	if err != nil {
		return "", sdkerrors.ErrConfig(fmt.Sprintf("credentials cannot be serialized: %v", err))
	}
	return m.prefix + hash, nil
}

// Endpoint returns the token endpoint URL.
func (m *Manager) Endpoint() (string, error) {
	endpoint := m.provider.Settings().TokenEndpoint
	if endpoint == "" {
		return "", sdkerrors.ErrConfig("token endpoint not configured")
	}
	return endpoint, nil
}

// TokenField returns the token endpoint field holding the token.
func (m *Manager) TokenField() string {
	return m.provider.Settings().Field()
}

// QueryField returns the query parameter the token is sent as.
func (m *Manager) QueryField() string {
	return m.provider.Settings().Query()
}

// fetch performs one token endpoint call and caches the result.
func (m *Manager) fetch(ctx context.Context, key string) (*sdk.TokenRecord, error) {
	endpoint, err := m.Endpoint()
	if err != nil {
		return nil, err
	}
	creds, err := m.provider.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	settings := m.provider.Settings()
	req := sdk.NewRequest(settings.Method(), endpoint)
	req.Header.Set("Accept", "application/json")
	if req.Method == "GET" {
		req.Query = credentialQuery(creds)
	} else {
		req.Body = map[string]any(creds)
		req.BodyFormat = sdk.BodyJSON
	}

	m.logger.Debug("fetching token", "method", req.Method, "endpoint", observability.ScrubURL(endpoint), "key", key)

	resp, err := m.transport.Do(ctx, req)
	if err != nil {
		// Connection errors surface unchanged
		return nil, err
	}

	decoded, err := decodeFlat(resp.Body)
	if err != nil {
		return nil, sdkerrors.ErrAuth("token endpoint returned an undecodable response", resp.StatusCode, resp.Body, nil)
	}

	field := settings.Field()
	value, _ := decoded[field].(string)
	if value == "" {
		return nil, sdkerrors.ErrAuth(fmt.Sprintf("token endpoint response has no %s", field), resp.StatusCode, resp.Body, decoded)
	}

	lifetime, ok := sdk.ParseLifetime(decoded[sdk.ExpiresInKey])
	if !ok {
		lifetime = m.defaultLifetime
	}

	rec, err := m.setToken(ctx, value, lifetime)
	if err != nil {
		return nil, err
	}
	rec.Raw = decoded

	m.logger.Debug("token refreshed", "key", key, "expires_in", rec.Lifetime)
	m.events.Notify(ctx, observability.Event{
		Kind:    observability.KindTokenRefreshed,
		Manager: m,
		Record:  rec,
	})
	return rec, nil
}

// decodeFlat decodes a JSON object, keeping numbers as json.Number.
func decodeFlat(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, fmt.Errorf("token response is not an object")
	}
	return decoded, nil
}

// credentialQuery renders credentials as query parameters. Scalars are
// formatted directly; nested values are sent as JSON.
func credentialQuery(creds sdk.Credentials) url.Values {
	q := url.Values{}
	for k, v := range creds {
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		case nil:
			q.Set(k, "")
		case bool, int, int64, float64, json.Number:
			q.Set(k, fmt.Sprint(val))
		default:
			data, err := json.Marshal(val)
			if err != nil {
				q.Set(k, fmt.Sprint(val))
				continue
			}
			q.Set(k, string(data))
		}
	}
	return q
}
