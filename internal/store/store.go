package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/intake/internal/engine"
)

// ErrSessionNotFound is returned by GetSession for unknown ids.
var ErrSessionNotFound = engine.ErrSessionNotFound

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS intake_sessions (
	id          TEXT PRIMARY KEY,
	offer_id    TEXT NOT NULL,
	state_id    TEXT NOT NULL DEFAULT '',
	answers     JSONB NOT NULL DEFAULT '{}',
	history     JSONB NOT NULL DEFAULT '[]',
	completed   BOOLEAN NOT NULL DEFAULT false,
	escalated   BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_items (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	categories  TEXT[] NOT NULL DEFAULT '{}',
	offers      TEXT[] NOT NULL DEFAULT '{}',
	placements  TEXT[] NOT NULL DEFAULT '{}',
	rule_groups JSONB,
	conditions  JSONB,
	embedding   vector NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// pgVector formats an embedding as a pgvector literal, e.g. "[0.1,0.2,0.3]",
// for a parameter cast with ::vector.
func pgVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
