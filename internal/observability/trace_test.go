package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTraceWriter_WriteRequestStart_Scrubs(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestStart(RequestInfo{Method: "GET", URL: "https://api.example.com/v1?access_token=tok123&page=2"})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "["), "expected timestamp prefix, got: %s", out)
	assert.Contains(t, out, "-> GET")
	assert.Contains(t, out, "page=2")
	assert.NotContains(t, out, "tok123")
}

func TestTraceWriter_WriteRequestEnd(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestEnd(RequestInfo{}, RequestResult{StatusCode: 200, Duration: 50 * time.Millisecond})
	assert.Contains(t, buf.String(), "<- 200 (50ms)")

	buf.Reset()
	w.WriteRequestEnd(RequestInfo{}, RequestResult{Error: errors.New("connection refused")})
	assert.Contains(t, buf.String(), "<- ERROR: connection refused")
}

func TestTraceWriter_WriteRefresh_NilRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRefresh(nil)
	assert.Contains(t, buf.String(), "Refreshed token")
}

func TestScrubURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		extra    []string
		contains []string
		excludes []string
	}{
		{
			name:     "no query",
			input:    "https://api.example.com/v1/resource",
			contains: []string{"https://api.example.com/v1/resource"},
		},
		{
			name:     "access token redacted",
			input:    "https://api.example.com/v1?access_token=tok123",
			contains: []string{"access_token=%5BREDACTED%5D"},
			excludes: []string{"tok123"},
		},
		{
			name:     "case insensitive",
			input:    "https://api.example.com/v1?API_KEY=abc",
			excludes: []string{"abc"},
		},
		{
			name:     "custom query field",
			input:    "https://api.example.com/v1?sid=abc&page=1",
			extra:    []string{"sid"},
			contains: []string{"page=1"},
			excludes: []string{"abc"},
		},
		{
			name:     "unparseable",
			input:    "https://api.example.com/%zz?token=x",
			contains: []string{"[unparseable URL]"},
			excludes: []string{"token=x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScrubURL(tt.input, tt.extra...)
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
			for _, e := range tt.excludes {
				assert.NotContains(t, got, e)
			}
		})
	}
}
