/*
store.go - Persistence interface for group documents

PURPOSE:
  Defines the boundary between the aggregate and the database. A group is
  stored as ONE document holding all of its memberships, expenses, balances
  and workflow state, so a single load/save covers a whole operation.

OPTIMISTIC CONCURRENCY:
  Save takes the version the caller loaded. If the stored version differs,
  the write is rejected with ErrConcurrentModification and the caller
  reloads and retries. A successful Save bumps group.Version.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite (JSON document + version column)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - service/service.go: Read-modify-write loop with bounded retries
*/
package ledger

import "context"

// Repository persists group documents.
type Repository interface {
	// Create stores a new group at version 1.
	Create(ctx context.Context, g *Group) error

	// Get loads a group. Returns an error wrapping ErrNotFound if absent.
	Get(ctx context.Context, id GroupID) (*Group, error)

	// Save replaces the stored group if its version equals expectedVersion,
	// and sets g.Version to the new version.
	Save(ctx context.Context, g *Group, expectedVersion int64) error

	// Delete removes the group document.
	Delete(ctx context.Context, id GroupID) error

	// ListByMember returns the groups where the user is an active member.
	ListByMember(ctx context.Context, userID UserID) ([]*Group, error)
}
