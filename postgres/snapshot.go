package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meikuraledutech/execgraph"
)

// SaveSnapshot persists a run snapshot in one transaction, replacing whatever
// the run held before. Nodes without IDs get auto-generated UUIDs, then
// duplicate identities are collapsed (first wins) and edges referencing
// missing node IDs are dropped, so the store never contains a snapshot that
// would need repair on the way out. Nil Meta is persisted as an empty JSON
// object and reads back as {}. Returns the snapshot as stored.
func (s *PGStore) SaveSnapshot(ctx context.Context, snap *execgraph.Snapshot) (*execgraph.Snapshot, error) {
	// Assign IDs before deduplicating so ID-less records never share the
	// empty identity and get collapsed into each other.
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.Status = n.Status.Normalize()
	}

	snap, _ = snap.Dedup()

	present := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		present[n.ID] = true
	}

	valid := snap.Edges[:0]
	for _, e := range snap.Edges {
		if present[e.Source] && present[e.Target] {
			valid = append(valid, e)
		}
	}
	snap.Edges = valid

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("execgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Delete existing run data if any (replace semantics).
	if _, err := tx.Exec(ctx, `DELETE FROM run_edges WHERE run_id = $1`, snap.RunID); err != nil {
		return nil, fmt.Errorf("execgraph: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM run_nodes WHERE run_id = $1`, snap.RunID); err != nil {
		return nil, fmt.Errorf("execgraph: delete nodes: %w", err)
	}

	// The position column preserves input order exactly; created_at alone is
	// not stable within one transaction.
	for i, n := range snap.Nodes {
		meta := n.Meta
		if len(meta) == 0 {
			meta = []byte(`{}`)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO run_nodes (id, run_id, name, status, meta, position) VALUES ($1, $2, $3, $4, $5, $6)`,
			n.ID, snap.RunID, n.Name, string(n.Status), meta, i,
		); err != nil {
			return nil, fmt.Errorf("execgraph: insert node %s: %w", n.ID, err)
		}
	}

	for i, e := range snap.Edges {
		kind := e.Kind
		if kind == "" {
			kind = execgraph.EdgeKindNormal
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO run_edges (id, run_id, source_id, target_id, kind, label, position) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), snap.RunID, e.Source, e.Target, string(kind), e.Label, i,
		); err != nil {
			return nil, fmt.Errorf("execgraph: insert edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("execgraph: commit: %w", err)
	}

	return snap, nil
}

// GetSnapshot retrieves a run's snapshot with nodes and edges in their
// original input order. Returns nil, nil if the run has no nodes.
func (s *PGStore) GetSnapshot(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
	snap := &execgraph.Snapshot{RunID: runID}

	rows, err := s.db.Query(ctx,
		`SELECT id, name, status, meta FROM run_nodes WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("execgraph: query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n execgraph.NodeRecord
		var status string
		if err := rows.Scan(&n.ID, &n.Name, &status, &n.Meta); err != nil {
			return nil, fmt.Errorf("execgraph: scan node: %w", err)
		}
		n.Status = execgraph.Status(status).Normalize()
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execgraph: rows nodes: %w", err)
	}

	if len(snap.Nodes) == 0 {
		return nil, nil
	}

	rows, err = s.db.Query(ctx,
		`SELECT source_id, target_id, kind, label FROM run_edges WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("execgraph: query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e execgraph.EdgeRecord
		var kind string
		if err := rows.Scan(&e.Source, &e.Target, &kind, &e.Label); err != nil {
			return nil, fmt.Errorf("execgraph: scan edge: %w", err)
		}
		e.Kind = execgraph.EdgeKind(kind)
		snap.Edges = append(snap.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execgraph: rows edges: %w", err)
	}

	return snap, nil
}

// DeleteRun removes all nodes and edges for a runID.
// No error if the runID doesn't exist.
func (s *PGStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("execgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM run_edges WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("execgraph: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM run_nodes WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("execgraph: delete nodes: %w", err)
	}

	return tx.Commit(ctx)
}

// ListRuns returns the IDs of all stored runs, most recently written first.
func (s *PGStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT run_id FROM run_nodes GROUP BY run_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("execgraph: query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("execgraph: scan run: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execgraph: rows runs: %w", err)
	}

	return runs, nil
}
