package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTenants = `
CREATE TABLE IF NOT EXISTS tenant_profiles (
    id            TEXT         PRIMARY KEY,
    name          TEXT         NOT NULL DEFAULT '',
    instructions  TEXT         NOT NULL,
    greeting      TEXT         NOT NULL DEFAULT '',
    language      TEXT         NOT NULL DEFAULT '',
    functions     TEXT[]       NOT NULL DEFAULT '{}',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// PostgresStore is a [Store] backed by the tenant_profiles table. All
// methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTenants); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Profile, error) {
	const q = `
		SELECT id, name, instructions, greeting, language, functions
		FROM   tenant_profiles
		WHERE  id = $1`

	var p Profile
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.Name, &p.Instructions, &p.Greeting, &p.Language, &p.Functions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("tenant store: get %q: %w", id, err)
	}
	return p, nil
}

// Put inserts or updates a profile.
func (s *PostgresStore) Put(ctx context.Context, p Profile) error {
	const q = `
		INSERT INTO tenant_profiles (id, name, instructions, greeting, language, functions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    name         = EXCLUDED.name,
		    instructions = EXCLUDED.instructions,
		    greeting     = EXCLUDED.greeting,
		    language     = EXCLUDED.language,
		    functions    = EXCLUDED.functions,
		    updated_at   = now()`

	functions := p.Functions
	if functions == nil {
		functions = []string{}
	}
	if _, err := s.pool.Exec(ctx, q, p.ID, p.Name, p.Instructions, p.Greeting, p.Language, functions); err != nil {
		return fmt.Errorf("tenant store: put %q: %w", p.ID, err)
	}
	return nil
}

// Ping checks connectivity, for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
