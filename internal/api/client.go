// Package api provides a token-authenticated HTTP client: a fixed
// middleware chain (retry, auth, logging) around a transport.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/basecamp/tokenkit/internal/observability"
	"github.com/basecamp/tokenkit/internal/sdk"
	"github.com/basecamp/tokenkit/internal/version"
)

const (
	// DefaultMaxRetries is the retry budget per Send.
	DefaultMaxRetries = 1
	// DefaultRetryDelay is the pause before each retry.
	DefaultRetryDelay = 500 * time.Millisecond
)

// TokenManager is the token lifecycle the client depends on.
// *auth.Manager satisfies it.
type TokenManager interface {
	Refresh(ctx context.Context) error
	ApplyToRequest(ctx context.Context, req *sdk.Request) error
	QueryField() string
}

// Client sends requests through retry → auth → logging → transport.
type Client struct {
	transport sdk.Transport

	mu     sync.RWMutex
	tokens TokenManager

	maxRetries int
	retryDelay time.Duration
	bodyFormat sdk.BodyFormat
	timeout    time.Duration
	headers    http.Header

	logger *slog.Logger
	hooks  observability.Hooks
	events *observability.Dispatcher

	once    sync.Once
	handler Handler
}

// Option configures a Client.
type Option func(*Client)

// WithTokenManager attaches a token manager.
func WithTokenManager(tm TokenManager) Option {
	return func(c *Client) {
		c.tokens = tm
	}
}

// WithMaxRetries sets the retry budget per Send. Negative values disable retry.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithRetryDelay sets the pause before each retry. The absolute value is used.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d < 0 {
			d = -d
		}
		c.retryDelay = d
	}
}

// WithBodyFormat sets how Post/Patch/Put/Delete encode their data.
func WithBodyFormat(f sdk.BodyFormat) Option {
	return func(c *Client) {
		c.bodyFormat = f
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHooks sets per-attempt hooks.
func WithHooks(h observability.Hooks) Option {
	return func(c *Client) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithDispatcher shares an event dispatcher, typically with the token manager.
func WithDispatcher(d *observability.Dispatcher) Option {
	return func(c *Client) {
		if d != nil {
			c.events = d
		}
	}
}

// NewClient creates a client over transport.
func NewClient(transport sdk.Transport, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		bodyFormat: sdk.BodyJSON,
		headers: http.Header{
			"User-Agent": {version.UserAgent()},
			"Accept":     {"application/json"},
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		hooks:  observability.NoopHooks{},
		events: observability.NewDispatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenManager swaps the token manager. Pass nil to send requests
// unauthenticated and without retry.
func (c *Client) SetTokenManager(tm TokenManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tm
}

// TokenManager returns the attached token manager, or nil.
func (c *Client) TokenManager() TokenManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Subscribe registers an observer for response_created events.
func (c *Client) Subscribe(o observability.Observer) {
	c.events.Subscribe(o)
}

// Send dispatches req through the middleware chain and notifies observers
// with the final response. req is not modified.
func (c *Client) Send(ctx context.Context, req *sdk.Request) (*sdk.Response, error) {
	c.once.Do(func() {
		c.handler = chain(c.transport.Do,
			c.retryMiddleware,
			c.authMiddleware,
			c.loggingMiddleware,
		)
	})

	r := req.Clone()
	for k, vs := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header[k] = append([]string(nil), vs...)
		}
	}
	if r.Timeout == 0 {
		r.Timeout = c.timeout
	}

	resp, err := c.handler(ctx, r)
	if err != nil {
		return nil, err
	}

	c.events.Notify(ctx, observability.Event{
		Kind:     observability.KindResponseCreated,
		Response: resp,
	})
	return resp, nil
}

// Get performs a GET request with query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (*sdk.Response, error) {
	return c.Send(ctx, c.queryRequest(http.MethodGet, rawURL, query))
}

// Head performs a HEAD request with query parameters.
func (c *Client) Head(ctx context.Context, rawURL string, query url.Values) (*sdk.Response, error) {
	return c.Send(ctx, c.queryRequest(http.MethodHead, rawURL, query))
}

// Post performs a POST request with data in the configured body format.
func (c *Client) Post(ctx context.Context, rawURL string, data any) (*sdk.Response, error) {
	return c.Send(ctx, c.bodyRequest(http.MethodPost, rawURL, data))
}

// Patch performs a PATCH request with data in the configured body format.
func (c *Client) Patch(ctx context.Context, rawURL string, data any) (*sdk.Response, error) {
	return c.Send(ctx, c.bodyRequest(http.MethodPatch, rawURL, data))
}

// Put performs a PUT request with data in the configured body format.
func (c *Client) Put(ctx context.Context, rawURL string, data any) (*sdk.Response, error) {
	return c.Send(ctx, c.bodyRequest(http.MethodPut, rawURL, data))
}

// Delete performs a DELETE request. Nil data sends no body.
func (c *Client) Delete(ctx context.Context, rawURL string, data any) (*sdk.Response, error) {
	return c.Send(ctx, c.bodyRequest(http.MethodDelete, rawURL, data))
}

func (c *Client) queryRequest(method, rawURL string, query url.Values) *sdk.Request {
	req := sdk.NewRequest(method, rawURL)
	for k, vs := range query {
		req.Query[k] = append([]string(nil), vs...)
	}
	return req
}

func (c *Client) bodyRequest(method, rawURL string, data any) *sdk.Request {
	req := sdk.NewRequest(method, rawURL)
	req.BodyFormat = c.bodyFormat
	req.Body = data
	return req
}
