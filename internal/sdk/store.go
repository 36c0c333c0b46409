package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ExpiresInKey is the field holding the token lifetime in token endpoint
// responses and in persisted records.
const ExpiresInKey = "expires_in"

// MaxLifetime is the longest lifetime in seconds that fits a time.Duration.
const MaxLifetime = math.MaxInt64 / int64(time.Second)

// TokenRecord is a cached access token.
type TokenRecord struct {
	Value    string // The token itself
	Lifetime int64  // Declared lifetime in seconds, always > 0 once stored
	Field    string // Name of the field holding the token (e.g., "access_token")

	// Raw is the decoded payload the record came from: the full token
	// endpoint response after a fetch, or the persisted object after a hit.
	Raw map[string]any
}

// NewTokenRecord creates a record with the persisted shape as its Raw payload.
func NewTokenRecord(field, value string, lifetime int64) *TokenRecord {
	return &TokenRecord{
		Value:    value,
		Lifetime: lifetime,
		Field:    field,
		Raw:      map[string]any{field: value, ExpiresInKey: lifetime},
	}
}

// TTL returns the record lifetime as a duration, capped at MaxLifetime.
func (r *TokenRecord) TTL() time.Duration {
	return time.Duration(min(r.Lifetime, MaxLifetime)) * time.Second
}

// MarshalJSON encodes the persisted shape {"<field>": value, "expires_in": n}.
func (r *TokenRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		r.Field:      r.Value,
		ExpiresInKey: r.Lifetime,
	})
}

// DecodeRecord parses a persisted record. The token field is the single
// string-valued key besides expires_in; with several candidates the
// alphabetically first one wins.
func DecodeRecord(data []byte) (*TokenRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid token record: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k != ExpiresInKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	rec := &TokenRecord{Raw: raw}
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			rec.Field = k
			rec.Value = s
			break
		}
	}
	if rec.Field == "" {
		return nil, fmt.Errorf("invalid token record: no token field")
	}

	lifetime, ok := ParseLifetime(raw[ExpiresInKey])
	if !ok {
		return nil, fmt.Errorf("invalid token record: bad %s", ExpiresInKey)
	}
	rec.Lifetime = lifetime
	raw[ExpiresInKey] = lifetime
	return rec, nil
}

// ParseLifetime converts an expires_in value from any JSON representation
// (number, numeric string) to whole seconds.
func ParseLifetime(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// TokenStore is the cache that holds token records. Implementations may be
// shared by many clients and processes; expiry is their responsibility.
type TokenStore interface {
	// Has reports whether a live record exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns the record for key. A miss returns (nil, false, nil).
	Get(ctx context.Context, key string) (*TokenRecord, bool, error)

	// Set stores rec under key for ttl. Last write wins.
	Set(ctx context.Context, key string, rec *TokenRecord, ttl time.Duration) error
}

// StoreError indicates a token store backend failure.
type StoreError struct {
	Operation string // "has", "get", "set"
	Key       string
	Message   string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " token"
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
