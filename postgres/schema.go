package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS run_nodes (
    id         TEXT NOT NULL,
    run_id     TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'unknown',
    meta       JSONB NOT NULL DEFAULT '{}',
    position   INT  NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS run_edges (
    id         TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL,
    source_id  TEXT NOT NULL,
    target_id  TEXT NOT NULL,
    kind       TEXT NOT NULL DEFAULT 'normal',
    label      TEXT NOT NULL DEFAULT '',
    position   INT  NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    FOREIGN KEY (run_id, source_id) REFERENCES run_nodes(run_id, id) ON DELETE CASCADE,
    FOREIGN KEY (run_id, target_id) REFERENCES run_nodes(run_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_nodes_run_id ON run_nodes(run_id);
CREATE INDEX IF NOT EXISTS idx_run_edges_run_id ON run_edges(run_id);
CREATE INDEX IF NOT EXISTS idx_run_edges_source ON run_edges(run_id, source_id);
CREATE INDEX IF NOT EXISTS idx_run_edges_target ON run_edges(run_id, target_id);
`

// CreateSchema creates the run_nodes and run_edges tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the run_edges and run_nodes tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS run_edges, run_nodes CASCADE;`)
	return err
}
