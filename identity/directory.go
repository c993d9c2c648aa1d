package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

type account struct {
	identity model.Identity
	hash     []byte
}

// Directory is an in-memory login directory with bcrypt-hashed passwords.
//
// Thread safety: Safe for concurrent use.
type Directory struct {
	cost int

	mu     sync.RWMutex
	byName map[string]account
	byID   map[int64]model.Identity
}

// NewDirectory creates an empty directory hashing with the given bcrypt cost.
// A cost of 0 selects bcrypt.DefaultCost.
func NewDirectory(cost int) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{
		cost:   cost,
		byName: make(map[string]account),
		byID:   make(map[int64]model.Identity),
	}
}

// Add registers an account. Names are case-insensitive and must be unique, as must ids.
func (d *Directory) Add(id model.Identity, password string) error {
	if id.IsZero() || id.ID < 0 {
		return chatrelay.NewError(chatrelay.ErrCodeValidation, "identity id must be > 0")
	}
	name := strings.ToLower(strings.TrimSpace(id.Name))
	if name == "" || password == "" {
		return chatrelay.NewError(chatrelay.ErrCodeValidation, "name and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byName[name]; exists {
		return chatrelay.NewError(chatrelay.ErrCodeValidation, fmt.Sprintf("name %q already registered", id.Name))
	}
	if _, exists := d.byID[id.ID]; exists {
		return chatrelay.NewError(chatrelay.ErrCodeValidation, fmt.Sprintf("id %d already registered", id.ID))
	}
	d.byName[name] = account{identity: id, hash: hash}
	d.byID[id.ID] = id
	return nil
}

// Login checks a name/password pair.
func (d *Directory) Login(_ context.Context, name, password string) (model.Identity, error) {
	d.mu.RLock()
	acc, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	d.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return model.Identity{}, chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "invalid name or password")
	}
	return acc.identity, nil
}

// Lookup returns the identity registered under id.
func (d *Directory) Lookup(id int64) (model.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byID[id]
	return identity, ok
}

// Seed parses "id:name:password" entries separated by commas and adds them.
//
// Example: "1:alice:secret,2:bob:hunter2"
func (d *Directory) Seed(entries string) error {
	for _, entry := range strings.Split(entries, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("invalid user entry %q: want id:name:password", entry)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user entry %q: %w", entry, err)
		}
		if err := d.Add(model.Identity{ID: id, Name: parts[1]}, parts[2]); err != nil {
			return fmt.Errorf("invalid user entry %q: %w", entry, err)
		}
	}
	return nil
}
