package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/basecamp/tokenkit/internal/sdk"
)

// Verify Keyring implements sdk.TokenStore at compile time.
var _ sdk.TokenStore = (*Keyring)(nil)

// DefaultKeyringService is the keyring service name for stored tokens.
const DefaultKeyringService = "tokenkit"

type keyringEntry struct {
	Record    json.RawMessage `json:"record"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Keyring is a TokenStore backed by the system keychain. The keychain has
// no native expiry, so the deadline is stored alongside the record.
type Keyring struct {
	service string
	now     func() time.Time
}

// NewKeyring creates a keyring store under the given service name.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service, now: time.Now}
}

// KeyringAvailable probes whether the system keyring accepts writes.
func KeyringAvailable(service string) bool {
	if service == "" {
		service = DefaultKeyringService
	}
	testKey := service + "::test"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(service, testKey) // Best-effort cleanup
	return true
}

func (k *Keyring) user(key string) string {
	return fmt.Sprintf("%s::%s", k.service, key)
}

// Has reports whether a live record exists for key.
func (k *Keyring) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := k.load(key)
	if err != nil {
		return false, &sdk.StoreError{Operation: "has", Key: key, Cause: err}
	}
	return ok, nil
}

// Get returns the live record for key.
func (k *Keyring) Get(ctx context.Context, key string) (*sdk.TokenRecord, bool, error) {
	e, ok, err := k.load(key)
	if err != nil {
		return nil, false, &sdk.StoreError{Operation: "get", Key: key, Cause: err}
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := sdk.DecodeRecord(e.Record)
	if err != nil {
		return nil, false, &sdk.StoreError{Operation: "get", Key: key, Cause: err}
	}
	return rec, true, nil
}

// Set stores rec under key. A non-positive ttl removes the entry.
func (k *Keyring) Set(ctx context.Context, key string, rec *sdk.TokenRecord, ttl time.Duration) error {
	if ttl <= 0 {
		err := keyring.Delete(k.service, k.user(key))
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
		}
		return nil
	}

	recData, err := json.Marshal(rec)
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	data, err := json.Marshal(keyringEntry{Record: recData, ExpiresAt: k.now().Add(ttl)})
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}

	if err := keyring.Set(k.service, k.user(key), string(data)); err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	return nil
}

func (k *Keyring) load(key string) (keyringEntry, bool, error) {
	data, err := keyring.Get(k.service, k.user(key))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return keyringEntry{}, false, nil
		}
		return keyringEntry{}, false, err
	}

	var e keyringEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return keyringEntry{}, false, fmt.Errorf("invalid keyring entry: %w", err)
	}
	if !k.now().Before(e.ExpiresAt) {
		return keyringEntry{}, false, nil
	}
	return e, true, nil
}
