// Package tokenstore provides TokenStore backends: in-process memory, a
// locked JSON file, the system keyring, and Redis.
package tokenstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/basecamp/tokenkit/internal/sdk"
)

// Verify Memory implements sdk.TokenStore at compile time.
var _ sdk.TokenStore = (*Memory)(nil)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process TokenStore. Records are kept encoded so callers
// never share state with the store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Has reports whether a live record exists for key.
func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveLocked(key)
	return ok, nil
}

// Get returns the live record for key.
func (m *Memory) Get(ctx context.Context, key string) (*sdk.TokenRecord, bool, error) {
	m.mu.Lock()
	e, ok := m.liveLocked(key)
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	rec, err := sdk.DecodeRecord(e.data)
	if err != nil {
		return nil, false, &sdk.StoreError{Operation: "get", Key: key, Cause: err}
	}
	return rec, true, nil
}

// Set stores rec under key. A non-positive ttl stores nothing, matching
// stores where a zero TTL expires the entry immediately.
func (m *Memory) Set(ctx context.Context, key string, rec *sdk.TokenRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = memoryEntry{data: data, expiresAt: m.now().Add(ttl)}
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.entries {
		if _, ok := m.liveLocked(key); ok {
			n++
		}
	}
	return n
}

// liveLocked returns the entry for key if it has not expired, evicting it
// otherwise. Caller must hold m.mu.
func (m *Memory) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
