// Package observability provides lifecycle events, metrics collection and
// tracing for token-authenticated requests.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RequestInfo describes one attempt of an outgoing request.
type RequestInfo struct {
	Method  string
	URL     string // Already scrubbed
	Attempt int    // 1-based
}

// RequestResult is the outcome of one attempt.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// RequestMetrics holds timing and status information for a single HTTP request.
type RequestMetrics struct {
	Method     string
	URL        string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Error      error
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int // Attempts reaching the transport
	FailedRequests int // Attempts that ended in a connection error
	TotalResponses int // Final responses handed back to callers
	ClientErrors   int // Final 4xx responses
	ServerErrors   int // Final 5xx responses
	TokenRefreshes int
	TotalRetries   int
	TotalLatency   time.Duration
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime      time.Time
	totalRequests  int
	failedRequests int
	totalResponses int
	clientErrors   int
	serverErrors   int
	tokenRefreshes int
	totalRetries   int
	totalLatency   time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an HTTP request attempt.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil {
		c.failedRequests++
	}
}

// RecordResult records an attempt from hook types.
func (c *SessionCollector) RecordResult(info RequestInfo, result RequestResult) {
	c.RecordRequest(RequestMetrics{
		Method:     info.Method,
		URL:        info.URL,
		Attempt:    info.Attempt,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Error:      result.Error,
	})
}

// RecordRetry records a retry event.
func (c *SessionCollector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// Observe counts token refreshes and final responses. Register it with a
// Dispatcher.
func (c *SessionCollector) Observe(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case KindTokenRefreshed:
		c.tokenRefreshes++
	case KindResponseCreated:
		c.totalResponses++
		if ev.Response == nil {
			return
		}
		switch {
		case ev.Response.ServerError():
			c.serverErrors++
		case ev.Response.ClientError():
			c.clientErrors++
		}
	}
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:      c.startTime,
		EndTime:        time.Now(),
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalResponses: c.totalResponses,
		ClientErrors:   c.clientErrors,
		ServerErrors:   c.serverErrors,
		TokenRefreshes: c.tokenRefreshes,
		TotalRetries:   c.totalRetries,
		TotalLatency:   c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.totalResponses = 0
	c.clientErrors = 0
	c.serverErrors = 0
	c.tokenRefreshes = 0
	c.totalRetries = 0
	c.totalLatency = 0
}

// Duration returns the wall time covered by the metrics.
func (m SessionMetrics) Duration() time.Duration {
	if m.EndTime.IsZero() || m.StartTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// FormatParts renders the non-zero metrics as short phrases, e.g.
// "120ms", "2 requests", "1 retry", "1 refresh".
func (m SessionMetrics) FormatParts() []string {
	var parts []string

	d := m.Duration()
	if d < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", d.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", d.Seconds()))
	}

	parts = appendCount(parts, m.TotalRequests, "request", "requests")
	parts = appendCount(parts, m.TotalRetries, "retry", "retries")
	parts = appendCount(parts, m.TokenRefreshes, "refresh", "refreshes")
	if m.FailedRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", m.FailedRequests))
	}
	return parts
}

func appendCount(parts []string, n int, one, many string) []string {
	switch {
	case n == 1:
		return append(parts, "1 "+one)
	case n > 1:
		return append(parts, fmt.Sprintf("%d %s", n, many))
	}
	return parts
}

// ToMap converts the metrics to a JSON-friendly map for output envelopes.
func (m SessionMetrics) ToMap() map[string]any {
	return map[string]any{
		"duration_ms":     m.Duration().Milliseconds(),
		"requests":        m.TotalRequests,
		"failed_requests": m.FailedRequests,
		"responses":       m.TotalResponses,
		"client_errors":   m.ClientErrors,
		"server_errors":   m.ServerErrors,
		"token_refreshes": m.TokenRefreshes,
		"retries":         m.TotalRetries,
		"latency_ms":      m.TotalLatency.Milliseconds(),
	}
}

// SessionMetricsFromMap is the inverse of ToMap. Numbers may be ints or
// float64 (after a JSON round trip); missing keys read as zero.
func SessionMetricsFromMap(v map[string]any) SessionMetrics {
	num := func(key string) int64 {
		switch n := v[key].(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		}
		return 0
	}

	end := time.Unix(0, 0)
	return SessionMetrics{
		StartTime:      end.Add(-time.Duration(num("duration_ms")) * time.Millisecond),
		EndTime:        end,
		TotalRequests:  int(num("requests")),
		FailedRequests: int(num("failed_requests")),
		TotalResponses: int(num("responses")),
		ClientErrors:   int(num("client_errors")),
		ServerErrors:   int(num("server_errors")),
		TokenRefreshes: int(num("token_refreshes")),
		TotalRetries:   int(num("retries")),
		TotalLatency:   time.Duration(num("latency_ms")) * time.Millisecond,
	}
}
