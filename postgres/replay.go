package postgres

import (
	"context"

	"github.com/meikuraledutech/execgraph"
)

// ReplayProvider adapts a stored run into a SnapshotProvider, so archived
// executions can be watched and laid out through the same reconciler code
// path as live feeds.
type ReplayProvider struct {
	store *PGStore
}

var _ execgraph.SnapshotProvider = (*ReplayProvider)(nil)

// Replay wraps the store as a SnapshotProvider.
func (s *PGStore) Replay() *ReplayProvider {
	return &ReplayProvider{store: s}
}

// FetchSnapshot returns the stored snapshot for runID, or
// execgraph.ErrRunNotFound if the run has no nodes.
func (p *ReplayProvider) FetchSnapshot(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
	snap, err := p.store.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, execgraph.ErrRunNotFound
	}
	return snap, nil
}
