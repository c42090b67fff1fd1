package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements SnapshotStore with one row per market key in a
// single documents table. The document column holds the serialized JSON
// text verbatim; the engine never queries inside it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS market_documents (
			key        TEXT PRIMARY KEY,
			doc        TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var doc string
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM market_documents WHERE key = $1`, key).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load document %s: %w", key, err)
	}
	return []byte(doc), nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, doc []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_documents (key, doc, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET doc = $2, updated_at = now()`,
		key, string(doc))
	if err != nil {
		return fmt.Errorf("store: save document %s: %w", key, err)
	}
	return nil
}
