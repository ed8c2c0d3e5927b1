package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/execgraph"
)

// PGStore implements execgraph.Store using PostgreSQL via pgx.
type PGStore struct {
	db *pgxpool.Pool
}

var _ execgraph.Store = (*PGStore)(nil)

// New creates a new PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}
