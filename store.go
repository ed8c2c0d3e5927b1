package execgraph

import (
	"context"
	"errors"
)

var (
	ErrRunNotFound = errors.New("execgraph: run not found")
)

// SnapshotProvider is the execution-status source the reconciler polls.
// Implementations may be HTTP clients, stores replaying archived runs, or
// test stubs — the reconciler makes no transport assumptions.
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context, runID string) (*Snapshot, error)
}

// Store defines the contract for persisting and retrieving run snapshots.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Snapshots (replace semantics: saving overwrites the run's previous snapshot)
	SaveSnapshot(ctx context.Context, s *Snapshot) (*Snapshot, error)
	GetSnapshot(ctx context.Context, runID string) (*Snapshot, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]string, error)
}
