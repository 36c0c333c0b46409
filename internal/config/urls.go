package config

import (
	"net"
	"strings"
)

// NormalizeBaseURL turns a bare host into a URL and drops the trailing slash.
// Loopback hosts default to http://, everything else to https://.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		host := raw
		if i := strings.Index(host, "/"); i >= 0 {
			host = host[:i]
		}
		if IsLoopback(host) {
			raw = "http://" + raw
		} else {
			raw = "https://" + raw
		}
	}
	return strings.TrimSuffix(raw, "/")
}

// IsLoopback reports whether host (with optional port) names the local
// machine: localhost, a .localhost subdomain, 127.0.0.1 or [::1].
func IsLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
