package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/basecamp/tokenkit/internal/appctx"
	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// requestFlags holds the flags shared by request, get and post.
type requestFlags struct {
	params  []string
	headers []string
	data    string
	form    bool
	jq      string
}

func (f *requestFlags) register(cmd *cobra.Command, withBody bool) {
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `Request header as "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&f.jq, "jq", "", "Filter the response body with a jq expression")
	if withBody {
		cmd.Flags().StringVarP(&f.data, "data", "d", "", "JSON request body")
		cmd.Flags().BoolVar(&f.form, "form", false, "Send the body form-encoded")
	}
}

// NewRequestCmd creates the request command for arbitrary methods.
func NewRequestCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "request <method> <url>",
		Short: "Send an authenticated request",
		Long: `Send a request through the token pipeline.

The access token is attached as a query parameter. When the server answers
400 or 401 the token is refreshed and the request retried.

URLs may be absolute or relative to http.base_url.`,
		Example: `  tokenkit request GET /api/v1/users -p page=2
  tokenkit request DELETE /api/v1/users/7
  tokenkit request PATCH /api/v1/users/7 -d '{"name":"Ada"}' --form`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			if !validMethod(method) {
				return output.ErrUsageHint(
					fmt.Sprintf("Unsupported method %q", args[0]),
					"Use one of GET, HEAD, POST, PUT, PATCH, DELETE",
				)
			}
			return runRequest(cmd, method, args[1], &flags)
		},
	}

	flags.register(cmd, true)
	return cmd
}

// NewGetCmd creates the get shortcut.
func NewGetCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Send an authenticated GET request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, args[0], &flags)
		},
	}

	flags.register(cmd, false)
	return cmd
}

// NewPostCmd creates the post shortcut.
func NewPostCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "post <url>",
		Short: "Send an authenticated POST request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodPost, args[0], &flags)
		},
	}

	flags.register(cmd, true)
	return cmd
}

func validMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func runRequest(cmd *cobra.Command, method, rawURL string, flags *requestFlags) error {
	app := appctx.FromContext(cmd.Context())

	req, err := buildRequest(method, rawURL, flags)
	if err != nil {
		return err
	}
	if req.BodyFormat == "" {
		req.BodyFormat = app.Config.BodyFormat()
	}

	var query *gojq.Query
	if flags.jq != "" {
		query, err = gojq.Parse(flags.jq)
		if err != nil {
			return output.ErrUsageHint("Invalid --jq expression", err.Error())
		}
	}

	if err := app.Connect(cmd.Context()); err != nil {
		return err
	}

	resp, err := app.Client.Send(cmd.Context(), req)
	if err != nil {
		return err
	}

	data := decodeBody(resp.Body)

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		decoded, _ := data.(map[string]any)
		return sdkerrors.ErrAuth(
			fmt.Sprintf("request rejected after token refresh (HTTP %d)", resp.StatusCode),
			resp.StatusCode, resp.Body, decoded,
		)
	}
	if resp.Failed() {
		return output.ErrAPI(resp.StatusCode, fmt.Sprintf("%s %s failed: %s", method, rawURL, http.StatusText(resp.StatusCode)))
	}

	if query != nil {
		data, err = runQuery(cmd.Context(), query, data)
		if err != nil {
			return err
		}
	}

	return app.OK(data,
		output.WithSummary(fmt.Sprintf("%s %s → %d", method, rawURL, resp.StatusCode)),
	)
}

func buildRequest(method, rawURL string, flags *requestFlags) (*sdk.Request, error) {
	req := sdk.NewRequest(method, rawURL)

	query, err := parseKeyValues(flags.params)
	if err != nil {
		return nil, err
	}
	req.Query = query

	header, err := parseHeaders(flags.headers)
	if err != nil {
		return nil, err
	}
	req.Header = header

	if flags.data != "" {
		var body any
		if err := json.Unmarshal([]byte(flags.data), &body); err != nil {
			return nil, output.ErrUsageHint(
				"Invalid JSON data",
				fmt.Sprintf("JSON parse error: %v", err),
			)
		}
		if flags.form {
			if _, ok := body.(map[string]any); !ok {
				return nil, output.ErrUsage("--form requires a JSON object in --data")
			}
		}
		req.Body = body
	}
	if flags.form {
		req.BodyFormat = sdk.BodyForm
	}

	return req, nil
}

// parseKeyValues parses key=value pairs into query values. Repeated keys
// accumulate.
func parseKeyValues(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, output.ErrUsageHint(
				fmt.Sprintf("Invalid parameter %q", p),
				"Use key=value",
			)
		}
		values.Add(k, v)
	}
	return values, nil
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(lines []string) (http.Header, error) {
	header := http.Header{}
	for _, l := range lines {
		k, v, ok := strings.Cut(l, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, output.ErrUsageHint(
				fmt.Sprintf("Invalid header %q", l),
				`Use "Name: value"`,
			)
		}
		header.Add(k, strings.TrimSpace(v))
	}
	return header, nil
}

// decodeBody returns the JSON-decoded body, the raw text when the body is
// not JSON, or nil when it is empty.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

// runQuery applies a jq query. A single result is returned as-is, several
// as a slice.
func runQuery(ctx context.Context, query *gojq.Query, data any) (any, error) {
	var results []any
	iter := query.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if halt, ok := err.(*gojq.HaltError); ok && halt.Value() == nil {
				break
			}
			return nil, output.ErrUsageHint("jq evaluation failed", err.Error())
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
