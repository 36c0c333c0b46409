package commands

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/sdk"
)

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"a=1", "a=2", "b=", "c=x=y"})
	require.NoError(t, err)
	assert.Equal(t, url.Values{"a": {"1", "2"}, "b": {""}, "c": {"x=y"}}, got)

	for _, bad := range []string{"novalue", "=1"} {
		_, err := parseKeyValues([]string{bad})
		var e *output.Error
		require.ErrorAs(t, err, &e, bad)
		assert.Equal(t, output.CodeUsage, e.Code)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"X-One: 1", "x-two:2", "Accept:  text/plain "})
	require.NoError(t, err)
	assert.Equal(t, "1", got.Get("X-One"))
	assert.Equal(t, "2", got.Get("X-Two"))
	assert.Equal(t, "text/plain", got.Get("Accept"))

	_, err = parseHeaders([]string{"no colon"})
	assert.Error(t, err)
	_, err = parseHeaders([]string{": empty name"})
	assert.Error(t, err)
}

func TestValidMethod(t *testing.T) {
	for _, m := range []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE"} {
		assert.True(t, validMethod(m), m)
	}
	for _, m := range []string{"get", "TRACE", "OPTIONS", ""} {
		assert.False(t, validMethod(m), m)
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(http.MethodPut, "/things/1", &requestFlags{
		params:  []string{"x=1"},
		headers: []string{"X-Req: yes"},
		data:    `{"name":"Ada"}`,
		form:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/things/1", req.URL)
	assert.Equal(t, "1", req.Query.Get("x"))
	assert.Equal(t, "yes", req.Header.Get("X-Req"))
	assert.Equal(t, map[string]any{"name": "Ada"}, req.Body)
	assert.Equal(t, sdk.BodyForm, req.BodyFormat)
}

func TestBuildRequestFormNeedsObject(t *testing.T) {
	_, err := buildRequest(http.MethodPost, "/x", &requestFlags{data: `[1,2]`, form: true})
	var e *output.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, output.CodeUsage, e.Code)
}

func TestBuildRequestNoBody(t *testing.T) {
	req, err := buildRequest(http.MethodGet, "/x", &requestFlags{})
	require.NoError(t, err)
	assert.Nil(t, req.Body)
	assert.Empty(t, req.BodyFormat, "left for the configured default")
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, decodeBody(nil))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeBody([]byte(`{"a":1}`)))
	assert.Equal(t, []any{"x"}, decodeBody([]byte(`["x"]`)))
	assert.Equal(t, "<html>", decodeBody([]byte(`<html>`)))
}

func TestRunQuery(t *testing.T) {
	data := map[string]any{
		"items": []any{
			map[string]any{"id": float64(1)},
			map[string]any{"id": float64(2)},
		},
	}

	tests := []struct {
		expr string
		want any
	}{
		{".items | length", 2},
		{".items[0].id", float64(1)},
		{".items[].id", []any{float64(1), float64(2)}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			q, err := gojq.Parse(tt.expr)
			require.NoError(t, err)

			got, err := runQuery(context.Background(), q, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunQueryEvaluationError(t *testing.T) {
	q, err := gojq.Parse(`error("boom")`)
	require.NoError(t, err)

	_, err = runQuery(context.Background(), q, nil)
	var e *output.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "jq evaluation failed", e.Message)
}
