package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"

	"github.com/basecamp/tokenkit/internal/sdk"
)

// Verify File implements sdk.TokenStore at compile time.
var _ sdk.TokenStore = (*File)(nil)

const (
	// TokensFileName is the default token file name.
	TokensFileName = "tokens.json"

	// LockTimeout is the maximum time to wait for the file lock.
	// If exceeded, operations proceed without locking (fail-open).
	LockTimeout = 100 * time.Millisecond
)

// ErrCorruptFile is returned by reads when the token file is not valid JSON.
// The next Set replaces the file.
var ErrCorruptFile = errors.New("token file is corrupted")

// fileEntry is one persisted record.
type fileEntry struct {
	Record    json.RawMessage `json:"record"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// File is a TokenStore persisted as a single JSON document, safe for
// concurrent access across processes through an advisory file lock.
type File struct {
	dir string
	now func() time.Time
}

// NewFile creates a file store in dir.
// If dir is empty, it uses the default location (~/.cache/tokenkit/).
func NewFile(dir string) *File {
	if dir == "" {
		dir = DefaultDir()
	}
	return &File{dir: dir, now: time.Now}
}

// DefaultDir returns the default token directory.
// Uses platform-specific cache directories with proper fallbacks.
func DefaultDir() string {
	if cacheDir := os.Getenv("XDG_CACHE_HOME"); cacheDir != "" {
		return filepath.Join(cacheDir, "tokenkit")
	}
	if cacheDir, err := os.UserCacheDir(); err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "tokenkit")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "tokenkit")
	}
	return filepath.Join(os.TempDir(), "tokenkit")
}

// Dir returns the store directory.
func (s *File) Dir() string {
	return s.dir
}

// Path returns the full path to the token file.
func (s *File) Path() string {
	return filepath.Join(s.dir, TokensFileName)
}

func (s *File) lockPath() string {
	return filepath.Join(s.dir, ".lock")
}

// acquireLock obtains an exclusive lock on the store directory.
// Returns nil (with no error) if the lock cannot be acquired within
// LockTimeout; a brief unlocked window is preferred over hanging.
func (s *File) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func release(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}

// Has reports whether a live record exists for key.
func (s *File) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.load(key)
	if err != nil {
		return false, &sdk.StoreError{Operation: "has", Key: key, Cause: err}
	}
	return ok, nil
}

// Get returns the live record for key.
func (s *File) Get(ctx context.Context, key string) (*sdk.TokenRecord, bool, error) {
	e, ok, err := s.load(key)
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

// Set stores rec under key, pruning expired entries while the lock is held.
func (s *File) Set(ctx context.Context, key string, rec *sdk.TokenRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}

	fl, err := s.acquireLock()
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	defer release(fl)

	all, err := s.loadAllUnsafe()
	if errors.Is(err, ErrCorruptFile) {
		all = make(map[string]fileEntry)
	} else if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}

	now := s.now()
	for k, e := range all {
		if !now.Before(e.ExpiresAt) {
			delete(all, k)
		}
	}
	if ttl > 0 {
		all[key] = fileEntry{Record: data, ExpiresAt: now.Add(ttl)}
	} else {
		delete(all, key)
	}

	if err := s.saveAllUnsafe(all); err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	return nil
}

func (s *File) load(key string) (fileEntry, bool, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return fileEntry{}, false, err
	}
	defer release(fl)

	all, err := s.loadAllUnsafe()
	if err != nil {
		return fileEntry{}, false, err
	}

	e, ok := all[key]
	if !ok || !s.now().Before(e.ExpiresAt) {
		return fileEntry{}, false, nil
	}
	return e, true, nil
}

// loadAllUnsafe reads the token file without locking (caller must hold lock).
func (s *File) loadAllUnsafe() (map[string]fileEntry, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]fileEntry), nil
		}
		return nil, err
	}

	var all map[string]fileEntry
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, s.Path(), err)
	}
	if all == nil {
		all = make(map[string]fileEntry)
	}
	return all, nil
}

// saveAllUnsafe writes the token file atomically (caller must hold lock).
func (s *File) saveAllUnsafe(all map[string]fileEntry) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Unique temp name so fail-open writers never share a temp file
	tmpPath := fmt.Sprintf("%s.%d.%d.tmp", s.Path(), os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		_ = os.Remove(s.Path())
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
