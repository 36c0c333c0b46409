package api

import (
	"context"
	"net/http"
	"time"

	"github.com/basecamp/tokenkit/internal/observability"
	"github.com/basecamp/tokenkit/internal/sdk"
)

// Handler dispatches a request.
type Handler func(ctx context.Context, req *sdk.Request) (*sdk.Response, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// chain composes middlewares so the first one is outermost.
func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type attemptKey struct{}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

func attemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

// shouldRetry reports whether status suggests a stale token.
func shouldRetry(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized
}

// retryMiddleware refreshes the token and re-runs the inner chain when the
// response is a 400 or 401, up to maxRetries times per Send. Each attempt
// gets a fresh copy of the request so the token is injected anew.
func (c *Client) retryMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *sdk.Request) (*sdk.Response, error) {
		retries := 0
		for {
			resp, err := next(withAttempt(ctx, retries+1), req.Clone())
			if err != nil {
				return nil, err
			}

			tokens := c.TokenManager()
			if tokens == nil || retries >= c.maxRetries || !shouldRetry(resp.StatusCode) {
				return resp, nil
			}

			if err := tokens.Refresh(ctx); err != nil {
				return nil, err
			}

			c.logger.Info("retrying with refreshed token",
				"method", req.Method,
				"status", resp.StatusCode,
				"retry", retries+1,
			)
			c.hooks.OnRetry(ctx, observability.RequestInfo{
				Method:  req.Method,
				URL:     c.displayURL(req),
				Attempt: retries + 1,
			}, retries+1, resp.StatusCode)

			if c.retryDelay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.retryDelay):
				}
			}
			retries++
		}
	}
}

// authMiddleware attaches the current token when a token manager is set.
func (c *Client) authMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *sdk.Request) (*sdk.Response, error) {
		if tokens := c.TokenManager(); tokens != nil {
			if err := tokens.ApplyToRequest(ctx, req); err != nil {
				return nil, err
			}
		}
		return next(ctx, req)
	}
}

// loggingMiddleware records each attempt. It never alters the request or
// the response.
func (c *Client) loggingMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *sdk.Request) (*sdk.Response, error) {
		info := observability.RequestInfo{
			Method:  req.Method,
			URL:     c.displayURL(req),
			Attempt: attemptFrom(ctx),
		}
		ctx = c.hooks.OnRequestStart(ctx, info)

		start := time.Now()
		resp, err := next(ctx, req)
		duration := time.Since(start)

		result := observability.RequestResult{Duration: duration, Error: err}
		if err != nil {
			c.logger.Debug("http request failed",
				"method", info.Method,
				"url", info.URL,
				"attempt", info.Attempt,
				"duration", duration,
				"error", err,
			)
		} else {
			result.StatusCode = resp.StatusCode
			c.logger.Debug("http request",
				"method", info.Method,
				"url", info.URL,
				"attempt", info.Attempt,
				"status", resp.StatusCode,
				"duration", duration,
			)
		}
		c.hooks.OnRequestEnd(ctx, info, result)
		return resp, err
	}
}

// displayURL renders req's URL with its query, scrubbed for logs.
func (c *Client) displayURL(req *sdk.Request) string {
	raw := req.URL
	if r, ok := c.transport.(interface {
		ResolveURL(*sdk.Request) (string, error)
	}); ok {
		if resolved, err := r.ResolveURL(req); err == nil {
			raw = resolved
		}
	} else if q, err := req.EffectiveQuery(); err == nil && len(q) > 0 {
		stripped := req.Clone()
		if stripped.StripQuery() == nil {
			raw = stripped.URL + "?" + q.Encode()
		}
	}

	var extra []string
	if tokens := c.TokenManager(); tokens != nil {
		extra = append(extra, tokens.QueryField())
	}
	return observability.ScrubURL(raw, extra...)
}
