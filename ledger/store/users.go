package store

import (
	"context"
	"sync"

	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// USER DIRECTORY - In-memory contacts for the memory driver
// =============================================================================

type user struct {
	name    string
	contact string
}

// Users is a user directory held in memory. It serves settlement-code
// delivery when no database is configured.
type Users struct {
	mu    sync.RWMutex
	users map[ledger.UserID]user
}

func NewUsers() *Users {
	return &Users{users: make(map[ledger.UserID]user)}
}

// RegisterUser inserts or replaces a user's name and contact.
func (u *Users) RegisterUser(_ context.Context, id ledger.UserID, name, contact string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.users[id] = user{name: name, contact: contact}
	return nil
}

// Contact returns the user's contact, or an error wrapping ErrNotFound when
// the user is unknown or registered without one.
func (u *Users) Contact(_ context.Context, id ledger.UserID) (string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	entry, ok := u.users[id]
	if !ok || entry.contact == "" {
		return "", ledger.NotFound("contact for user", string(id))
	}
	return entry.contact, nil
}
