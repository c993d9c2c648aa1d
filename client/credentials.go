package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// Credentials are the bearer token and the identity snapshot it was issued for.
type Credentials struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Identity  model.Identity `json:"identity"`
}

// Valid reports whether the credentials carry a token that has not expired at now.
func (c Credentials) Valid(now time.Time) bool {
	if c.Token == "" || c.Identity.IsZero() {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// CredentialStore persists credentials across client restarts.
type CredentialStore interface {
	// Load returns the stored credentials, or a NO_DATA error when there are none.
	Load() (Credentials, error)
	Save(c Credentials) error
	Clear() error
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path. The file is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements CredentialStore.
func (s *FileStore) Load() (Credentials, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, chatrelay.ErrNoData
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	return c, nil
}

// Save implements CredentialStore.
func (s *FileStore) Save(c Credentials) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear implements CredentialStore.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Holder is the scoped owner of the current credentials. An empty holder means the
// client is unauthenticated.
//
// Thread safety: Safe for concurrent use.
type Holder struct {
	store CredentialStore

	mu    sync.RWMutex
	creds Credentials
}

// NewHolder creates a Holder and restores credentials from store, if any.
// store may be nil for a memory-only holder.
func NewHolder(store CredentialStore) (*Holder, error) {
	h := &Holder{store: store}
	if store == nil {
		return h, nil
	}

	c, err := store.Load()
	switch {
	case err == nil:
		h.creds = c
	case chatrelay.IsNoData(err):
	default:
		return nil, err
	}
	return h, nil
}

// Get returns the current credentials and whether they are usable.
func (h *Holder) Get() (Credentials, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds, h.creds.Valid(time.Now())
}

// Token returns the current bearer token, or "".
func (h *Holder) Token() string {
	c, ok := h.Get()
	if !ok {
		return ""
	}
	return c.Token
}

// Set replaces the credentials and persists them.
func (h *Holder) Set(c Credentials) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store != nil {
		if err := h.store.Save(c); err != nil {
			return err
		}
	}
	h.creds = c
	return nil
}

// Invalidate forgets the credentials in memory and in storage.
func (h *Holder) Invalidate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.creds = Credentials{}
	if h.store != nil {
		return h.store.Clear()
	}
	return nil
}
