package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// Verify HTTPTransport implements sdk.Transport at compile time.
var _ sdk.Transport = (*HTTPTransport)(nil)

// DefaultTimeout bounds a call that sets no timeout of its own.
const DefaultTimeout = 30 * time.Second

// HTTPTransport performs requests with net/http.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPTransport creates a transport. Relative request URLs are resolved
// against baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// NewHTTPTransportWithClient wraps an existing *http.Client.
func NewHTTPTransportWithClient(baseURL string, httpClient *http.Client) *HTTPTransport {
	return &HTTPTransport{httpClient: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// BaseURL returns the base URL relative requests resolve against.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// Do dispatches req and reads the full response body. Any HTTP status is a
// successful call; only connection-level failures return an error.
func (t *HTTPTransport) Do(ctx context.Context, req *sdk.Request) (*sdk.Response, error) {
	target, err := t.ResolveURL(req)
	if err != nil {
		return nil, sdkerrors.ErrUsage(err.Error())
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, sdkerrors.ErrUsage(err.Error())
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, sdkerrors.ErrUsage(err.Error())
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, sdkerrors.ErrConnection(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sdkerrors.ErrConnection(fmt.Errorf("failed to read response: %w", err))
	}

	return &sdk.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// ResolveURL returns the absolute URL req will be sent to, query included.
func (t *HTTPTransport) ResolveURL(req *sdk.Request) (string, error) {
	raw := req.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if t.baseURL == "" {
			return "", fmt.Errorf("relative URL %q with no base URL configured", raw)
		}
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		raw = t.baseURL + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}

	query, err := req.EffectiveQuery()
	if err != nil {
		return "", err
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// encodeBody renders req.Body per its format.
func encodeBody(req *sdk.Request) (io.Reader, string, error) {
	switch b := req.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	}

	if req.BodyFormat == sdk.BodyForm {
		form, err := formValues(req.Body)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

func formValues(body any) (url.Values, error) {
	switch b := body.(type) {
	case url.Values:
		return b, nil
	case map[string]string:
		form := url.Values{}
		for k, v := range b {
			form.Set(k, v)
		}
		return form, nil
	case map[string]any:
		form := url.Values{}
		for k, v := range b {
			form.Set(k, fmt.Sprint(v))
		}
		return form, nil
	case sdk.Credentials:
		return formValues(map[string]any(b))
	default:
		return nil, fmt.Errorf("form body must be a map, got %T", body)
	}
}
