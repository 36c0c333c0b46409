package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// BodyFormat selects how a request body is encoded.
type BodyFormat string

const (
	BodyJSON BodyFormat = "json"
	BodyForm BodyFormat = "form"
)

// ParseBodyFormat validates a configured body format name.
func ParseBodyFormat(s string) (BodyFormat, error) {
	switch BodyFormat(s) {
	case "", BodyJSON:
		return BodyJSON, nil
	case BodyForm:
		return BodyForm, nil
	default:
		return "", fmt.Errorf("unknown body format %q (want json or form)", s)
	}
}

// Request is an outgoing API call. Middlewares may mutate it until the
// transport dispatches it.
type Request struct {
	Method string
	URL    string     // Absolute, or relative to the client base URL
	Query  url.Values // Merged with any query already present on URL
	Header http.Header

	// Body is encoded per BodyFormat. []byte and string are sent as-is.
	Body       any
	BodyFormat BodyFormat

	// Timeout bounds this call. Zero uses the transport default.
	Timeout time.Duration
}

// NewRequest creates a request with empty query and headers.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method: method,
		URL:    rawURL,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

// Clone returns a copy whose query and headers can be mutated without
// affecting r. Body is shared.
func (r *Request) Clone() *Request {
	c := *r
	c.Query = cloneValues(r.Query)
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	return &c
}

// EffectiveQuery returns the query parameters present on URL merged with
// Query. Values in Query replace same-named URL parameters.
func (r *Request) EffectiveQuery() (url.Values, error) {
	merged := url.Values{}
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	for k, vs := range u.Query() {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.Query {
		merged[k] = append([]string(nil), vs...)
	}
	return merged, nil
}

// StripQuery removes the query string from URL, returning the bare URL.
func (r *Request) StripQuery() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid request URL: %w", err)
	}
	u.RawQuery = ""
	r.URL = u.String()
	return nil
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = append([]string(nil), vs...)
	}
	return c
}

// Response is a completed API call with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Successful reports a 2xx status.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// OK reports a 200 status.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Redirect reports a 3xx status.
func (r *Response) Redirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// ClientError reports a 4xx status.
func (r *Response) ClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// ServerError reports a 5xx status.
func (r *Response) ServerError() bool {
	return r.StatusCode >= 500
}

// Failed reports a client or server error.
func (r *Response) Failed() bool {
	return r.ClientError() || r.ServerError()
}

// HeaderValue returns the first value of the named header.
func (r *Response) HeaderValue(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// JSON decodes the body and returns the value under key, or the whole
// document when key is empty. A missing key returns nil.
func (r *Response) JSON(key string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if key == "" {
		return doc, nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, nil
	}
	return obj[key], nil
}

// Transport dispatches a single request. Implementations report
// connection-level failures as errors and every HTTP status as a Response.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
