// Package sdk provides core interfaces for token-authenticated API clients.
package sdk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// DefaultTokenField is the token endpoint field holding the token.
const DefaultTokenField = "access_token"

// Credentials are the parameters sent to the token endpoint.
// Serialization is deterministic: encoding/json emits map keys sorted.
type Credentials map[string]any

// Serialize returns the canonical JSON form of c.
func (c Credentials) Serialize() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(c))
}

// Hash returns the hex SHA-256 of the serialized credentials.
func (c Credentials) Hash() (string, error) {
	data, err := c.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ProviderSettings describes how tokens are requested and attached for
// one integration.
type ProviderSettings struct {
	TokenEndpoint string // Required
	RequestMethod string // "GET" sends credentials as query; anything else as JSON body
	TokenField    string // Default: access_token
	QueryField    string // Default: TokenField
}

// Method returns the normalized request method (default GET).
func (s ProviderSettings) Method() string {
	if s.RequestMethod == "" {
		return http.MethodGet
	}
	return strings.ToUpper(s.RequestMethod)
}

// Field returns the token field name, defaulting to access_token.
func (s ProviderSettings) Field() string {
	if s.TokenField == "" {
		return DefaultTokenField
	}
	return s.TokenField
}

// Query returns the outgoing query parameter name, defaulting to Field().
func (s ProviderSettings) Query() string {
	if s.QueryField == "" {
		return s.Field()
	}
	return s.QueryField
}

// CredentialProvider supplies the token request parameters for a target API.
type CredentialProvider interface {
	// Credentials returns the parameters for the token endpoint.
	Credentials(ctx context.Context) (Credentials, error)

	// Settings returns the per-integration token settings.
	Settings() ProviderSettings
}

// StaticProvider provides fixed credentials. Useful for configuration-driven
// integrations and testing.
type StaticProvider struct {
	Params Credentials
	ProviderSettings
}

// Credentials returns the configured parameters.
func (p *StaticProvider) Credentials(ctx context.Context) (Credentials, error) {
	if len(p.Params) == 0 {
		return nil, sdkerrors.ErrConfig("no credentials configured")
	}
	return p.Params, nil
}

// Settings returns the configured settings.
func (p *StaticProvider) Settings() ProviderSettings {
	return p.ProviderSettings
}
