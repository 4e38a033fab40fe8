/*
Package postgres provides a PostgreSQL-backed ledger.Repository and user directory.

PURPOSE:
  Same document model as the SQLite store, on a pgx connection pool for
  deployments with more than one server process. The version column makes
  Save a compare-and-set, so two processes writing one group cannot lose
  each other's updates.

KEY TABLES:
  groups:         id, title, creator, version, JSONB document
  group_members:  (group_id, user_id, active), rewritten on every save
  users:          Directory entries (name, contact)

ERROR MAPPING:
  pgx.ErrNoRows         -> ledger.ErrNotFound
  23505 unique_violation -> ledger.ErrInvalidInput (duplicate group id)
  version mismatch      -> ledger.ErrConcurrentModification

SEE ALSO:
  - store/sqlite/sqlite.go: Single-file implementation
  - ledger/store.go: Repository contract
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/group-ledger/ledger"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS groups (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	creator_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	active BOOLEAN NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id, active);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	contact TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store implements ledger.Repository and service.Directory on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Repository = (*Store)(nil)

// New connects, pings and applies the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// =============================================================================
// GROUP REPOSITORY
// =============================================================================

func (s *Store) Create(ctx context.Context, g *ledger.Group) error {
	doc, err := encode(g, 1)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO groups (id, title, creator_id, version, document, created_at)
			VALUES ($1, $2, $3, 1, $4, $5)`,
			string(g.ID), g.Title, string(g.CreatorID), doc, g.CreatedAt,
		)
		if err != nil {
			return err
		}
		return writeMembers(ctx, tx, g)
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: group %s already exists", ledger.ErrInvalidInput, g.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	g.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id ledger.GroupID) (*ledger.Group, error) {
	var doc []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		"SELECT document, version FROM groups WHERE id = $1", string(id),
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NotFound("group", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", id, err)
	}
	return decode(doc, version)
}

// Save is a compare-and-set on the version column.
func (s *Store) Save(ctx context.Context, g *ledger.Group, expectedVersion int64) error {
	next := expectedVersion + 1
	doc, err := encode(g, next)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE groups
			SET title = $1, document = $2, version = $3, updated_at = now()
			WHERE id = $4 AND version = $5`,
			g.Title, doc, next, string(g.ID), expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)", string(g.ID),
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ledger.NotFound("group", string(g.ID))
			}
			return ledger.ErrConcurrentModification
		}

		if _, err := tx.Exec(ctx, "DELETE FROM group_members WHERE group_id = $1", string(g.ID)); err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		return writeMembers(ctx, tx, g)
	})
	if err != nil {
		return err
	}
	g.Version = next
	return nil
}

func (s *Store) Delete(ctx context.Context, id ledger.GroupID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM groups WHERE id = $1", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("group", string(id))
	}
	return nil
}

func (s *Store) ListByMember(ctx context.Context, userID ledger.UserID) ([]*ledger.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.document, g.version
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1 AND m.active
		ORDER BY g.created_at, g.id`,
		string(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*ledger.Group
	for rows.Next() {
		var doc []byte
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

func writeMembers(ctx context.Context, tx pgx.Tx, g *ledger.Group) error {
	batch := &pgx.Batch{}
	for _, m := range g.Members {
		batch.Queue(
			"INSERT INTO group_members (group_id, user_id, active) VALUES ($1, $2, $3)",
			string(g.ID), string(m.UserID), m.Active(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write members: %w", err)
	}
	return nil
}

// =============================================================================
// USER DIRECTORY
// =============================================================================

type User struct {
	ID      ledger.UserID
	Name    string
	Contact string
}

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	var contact *string
	if u.Contact != "" {
		contact = &u.Contact
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, contact)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			contact = EXCLUDED.contact`,
		string(u.ID), u.Name, contact,
	)
	return err
}

// RegisterUser implements api.UserRegistry.
func (s *Store) RegisterUser(ctx context.Context, id ledger.UserID, name, contact string) error {
	return s.SaveUser(ctx, User{ID: id, Name: name, Contact: contact})
}

// Contact returns the user's contact, or an error wrapping ErrNotFound.
func (s *Store) Contact(ctx context.Context, id ledger.UserID) (string, error) {
	var contact *string
	err := s.pool.QueryRow(ctx, "SELECT contact FROM users WHERE id = $1", string(id)).Scan(&contact)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && (contact == nil || *contact == "")) {
		return "", ledger.NotFound("contact for user", string(id))
	}
	if err != nil {
		return "", err
	}
	return *contact, nil
}

func encode(g *ledger.Group, version int64) ([]byte, error) {
	c := *g
	c.Version = version
	b, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode group %s: %w", g.ID, err)
	}
	return b, nil
}

func decode(doc []byte, version int64) (*ledger.Group, error) {
	var g ledger.Group
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("failed to decode group document: %w", err)
	}
	g.Version = version
	return &g, nil
}
