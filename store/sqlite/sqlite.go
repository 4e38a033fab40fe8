/*
Package sqlite provides a SQLite-backed ledger.Repository and user directory.

PURPOSE:
  Persists each group as one JSON document with a version column, so a
  whole operation is one load and one conditional save. A side table of
  memberships answers "which groups is this user in" without decoding every
  document.

INTERFACES IMPLEMENTED:
  ledger.Repository:  Group documents with optimistic versioning
  service.Directory:  User id -> contact lookup

KEY TABLES:
  groups:         id, title, creator, version, JSON document
  group_members:  (group_id, user_id, active), rewritten on every save
  users:          Directory entries (name, contact)

OPTIMISTIC CONCURRENCY:
  Save runs
    UPDATE groups SET ..., version = version + 1 WHERE id = ? AND version = ?
  and reports ErrConcurrentModification when no row matched but the group
  exists. The document and its membership rows change in one transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, since each
  connection of an in-memory database would be a separate database.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      return err
  }
  defer store.Close()
  svc := service.New(store, service.WithDirectory(store))

SEE ALSO:
  - ledger/store.go: Repository contract
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/group-ledger/ledger"
)

// timeFormat is fixed-width so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Repository and service.Directory using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Group documents (one row per aggregate)
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Membership index, derived from the document on every write
	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		active INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members(user_id, active);

	-- Users (directory)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

var _ ledger.Repository = (*Store)(nil)

// =============================================================================
// GROUP REPOSITORY (ledger.Repository interface)
// =============================================================================

// Create stores a new group at version 1.
func (s *Store) Create(ctx context.Context, g *ledger.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := encode(g, 1)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(timeFormat)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO groups (id, title, creator_id, version, document, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?, ?)`,
			g.ID, g.Title, g.CreatorID, doc, g.CreatedAt.UTC().Format(timeFormat), now,
		)
		if isConstraintError(err) {
			return fmt.Errorf("%w: group %s already exists", ledger.ErrInvalidInput, g.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		if err := writeMembers(ctx, tx, g); err != nil {
			return err
		}
		g.Version = 1
		return nil
	})
}

// Get loads a group document.
func (s *Store) Get(ctx context.Context, id ledger.GroupID) (*ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT document, version FROM groups WHERE id = ?", id,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFound("group", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", id, err)
	}
	return decode(doc, version)
}

// Save replaces the document if the stored version is still expectedVersion.
func (s *Store) Save(ctx context.Context, g *ledger.Group, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := expectedVersion + 1
	doc, err := encode(g, next)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE groups
			SET title = ?, document = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			g.Title, doc, next, time.Now().UTC().Format(timeFormat), g.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM groups WHERE id = ?", g.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.NotFound("group", string(g.ID))
			}
			if err != nil {
				return err
			}
			return ledger.ErrConcurrentModification
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", g.ID); err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		if err := writeMembers(ctx, tx, g); err != nil {
			return err
		}
		g.Version = next
		return nil
	})
}

// Delete removes the group and its membership rows.
func (s *Store) Delete(ctx context.Context, id ledger.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("group", string(id))
	}
	return nil
}

// ListByMember returns the groups where the user is active, oldest first.
func (s *Store) ListByMember(ctx context.Context, userID ledger.UserID) ([]*ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.document, g.version
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ? AND m.active = 1
		ORDER BY g.created_at, g.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*ledger.Group
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		g, err := decode(doc, version)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func writeMembers(ctx context.Context, tx *sql.Tx, g *ledger.Group) error {
	for _, m := range g.Members {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id, active) VALUES (?, ?, ?)",
			g.ID, m.UserID, m.Active(),
		)
		if err != nil {
			return fmt.Errorf("failed to write member %s: %w", m.UserID, err)
		}
	}
	return nil
}

// =============================================================================
// USER DIRECTORY (service.Directory interface)
// =============================================================================

// User is a directory entry. Contact is where codes and notices are sent.
type User struct {
	ID        ledger.UserID
	Name      string
	Contact   string
	CreatedAt time.Time
}

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, contact, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contact = excluded.contact
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Name, nullString(u.Contact),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetUser retrieves a user by ID. Returns nil, nil when absent.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	var contact sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, contact, created_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Name, &contact, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.Contact = contact.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// RegisterUser implements api.UserRegistry.
func (s *Store) RegisterUser(ctx context.Context, id ledger.UserID, name, contact string) error {
	return s.SaveUser(ctx, User{ID: id, Name: name, Contact: contact})
}

// Contact returns the user's contact, or an error wrapping ErrNotFound.
func (s *Store) Contact(ctx context.Context, id ledger.UserID) (string, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	if u == nil || u.Contact == "" {
		return "", ledger.NotFound("contact for user", string(id))
	}
	return u.Contact, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func encode(g *ledger.Group, version int64) (string, error) {
	c := *g
	c.Version = version
	b, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode group %s: %w", g.ID, err)
	}
	return string(b), nil
}

func decode(doc string, version int64) (*ledger.Group, error) {
	var g ledger.Group
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return nil, fmt.Errorf("failed to decode group document: %w", err)
	}
	g.Version = version
	return &g, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
