package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/execgraph"
)

type stubProvider struct {
	fn    func(ctx context.Context, runID string) (*execgraph.Snapshot, error)
	calls atomic.Int64
}

func (p *stubProvider) FetchSnapshot(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
	p.calls.Add(1)
	return p.fn(ctx, runID)
}

type update struct {
	nodes []execgraph.PositionedNode
	edges []execgraph.EdgeRecord
}

func diamond(runID string, status execgraph.Status) *execgraph.Snapshot {
	return &execgraph.Snapshot{
		RunID: runID,
		Nodes: []execgraph.NodeRecord{
			{ID: "S", Status: status},
			{ID: "A", Status: status},
			{ID: "B", Status: status},
			{ID: "E", Status: status},
		},
		Edges: []execgraph.EdgeRecord{
			{Source: "S", Target: "A"},
			{Source: "S", Target: "B"},
			{Source: "A", Target: "E"},
			{Source: "B", Target: "E"},
		},
	}
}

// watchGated starts a watch whose first fetch is held until callbacks are
// registered, so tests never miss the initial update.
func watchGated(t *testing.T, p *stubProvider, opts ...Option) (*Subscription, chan update, chan error, func()) {
	t.Helper()

	inner := p.fn
	release := make(chan struct{})
	p.fn = func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return inner(ctx, runID)
	}

	w := NewWatcher(p, append([]Option{WithPollInterval(time.Hour)}, opts...)...)
	sub := w.Watch("run-1")

	updates := make(chan update, 16)
	errs := make(chan error, 16)
	sub.OnUpdate(func(nodes []execgraph.PositionedNode, edges []execgraph.EdgeRecord) {
		updates <- update{nodes: nodes, edges: edges}
	})
	sub.OnError(func(err error) {
		errs <- err
	})
	close(release)

	return sub, updates, errs, func() {
		sub.Stop()
		<-sub.Done()
	}
}

func waitUpdate(t *testing.T, updates chan update) update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return update{}
	}
}

func TestWatch_PublishesInitialGraph(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		return diamond(runID, execgraph.StatusPending), nil
	}}
	_, updates, _, stop := watchGated(t, p)
	defer stop()

	u := waitUpdate(t, updates)
	require.Len(t, u.nodes, 4)
	require.Len(t, u.edges, 4)
}

func TestWatch_DeduplicatesByIdentity(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		return &execgraph.Snapshot{
			RunID: runID,
			Nodes: []execgraph.NodeRecord{
				{ID: "n1", Name: "first", Status: execgraph.StatusRunning},
				{ID: "n1", Name: "second", Status: execgraph.StatusFailed},
				{ID: "n2", Status: execgraph.StatusPending},
			},
		}, nil
	}}
	_, updates, _, stop := watchGated(t, p)
	defer stop()

	u := waitUpdate(t, updates)
	require.Len(t, u.nodes, 2)

	var n1 []execgraph.PositionedNode
	for _, n := range u.nodes {
		if n.ID == "n1" {
			n1 = append(n1, n)
		}
	}
	require.Len(t, n1, 1)
	assert.Equal(t, "first", n1[0].Name)
	assert.Equal(t, execgraph.StatusRunning, n1[0].Status)
}

func TestWatch_CoalescesTicksWhileFetchInFlight(t *testing.T) {
	blocked := make(chan struct{})
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}

	w := NewWatcher(p, WithPollInterval(10*time.Millisecond))
	sub := w.Watch("run-1")
	defer func() {
		sub.Stop()
		close(blocked)
		<-sub.Done()
	}()

	// Many intervals elapse while the first fetch never resolves.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestWatch_StopDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		close(started)
		<-release
		return diamond(runID, execgraph.StatusCompleted), nil
	}}

	w := NewWatcher(p, WithPollInterval(time.Hour))
	sub := w.Watch("run-1")

	updates := make(chan update, 1)
	sub.OnUpdate(func(nodes []execgraph.PositionedNode, edges []execgraph.EdgeRecord) {
		updates <- update{nodes: nodes, edges: edges}
	})

	<-started
	sub.Stop()
	close(release)
	<-sub.Done()

	select {
	case <-updates:
		t.Fatal("update published after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_StatusChangeKeepsPositions(t *testing.T) {
	p := &stubProvider{}
	p.fn = func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		if p.calls.Load() == 1 {
			return diamond(runID, execgraph.StatusPending), nil
		}
		return diamond(runID, execgraph.StatusRunning), nil
	}
	sub, updates, _, stop := watchGated(t, p)
	defer stop()

	first := waitUpdate(t, updates)
	sub.Refresh()
	second := waitUpdate(t, updates)

	require.Len(t, second.nodes, len(first.nodes))
	for i := range first.nodes {
		assert.Equal(t, first.nodes[i].ID, second.nodes[i].ID)
		assert.Equal(t, first.nodes[i].X, second.nodes[i].X, "X moved for %s", first.nodes[i].ID)
		assert.Equal(t, first.nodes[i].Y, second.nodes[i].Y, "Y moved for %s", first.nodes[i].ID)
		assert.Equal(t, first.nodes[i].Layer, second.nodes[i].Layer)
		assert.Equal(t, first.nodes[i].Slot, second.nodes[i].Slot)
		assert.Equal(t, execgraph.StatusRunning, second.nodes[i].Status)
	}
}

func TestWatch_IdentityChangeTriggersRelayout(t *testing.T) {
	p := &stubProvider{}
	p.fn = func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		snap := diamond(runID, execgraph.StatusRunning)
		if p.calls.Load() > 1 {
			snap.Nodes = append(snap.Nodes, execgraph.NodeRecord{ID: "extra", Status: execgraph.StatusPending})
			snap.Edges = append(snap.Edges, execgraph.EdgeRecord{Source: "E", Target: "extra"})
		}
		return snap, nil
	}
	sub, updates, _, stop := watchGated(t, p)
	defer stop()

	first := waitUpdate(t, updates)
	require.Len(t, first.nodes, 4)

	sub.Refresh()
	second := waitUpdate(t, updates)
	require.Len(t, second.nodes, 5)
	require.Len(t, second.edges, 5)
}

func TestWatch_UnchangedSnapshotPublishesNothing(t *testing.T) {
	p := &stubProvider{}
	p.fn = func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		return diamond(runID, execgraph.StatusRunning), nil
	}
	sub, updates, _, stop := watchGated(t, p)
	defer stop()

	waitUpdate(t, updates)

	sub.Refresh()
	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-updates:
		t.Fatal("identical snapshot should not publish an update")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_FetchErrorKeepsLastGraphAndPolling(t *testing.T) {
	fetchErr := errors.New("backend down")
	p := &stubProvider{}
	p.fn = func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		switch p.calls.Load() {
		case 2:
			return nil, fetchErr
		default:
			return diamond(runID, execgraph.StatusRunning), nil
		}
	}
	sub, updates, errs, stop := watchGated(t, p)
	defer stop()

	waitUpdate(t, updates)

	sub.Refresh()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, fetchErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}

	// The failed poll published nothing and the session keeps fetching.
	select {
	case <-updates:
		t.Fatal("failed fetch must not publish an update")
	default:
	}

	sub.Refresh()
	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatch_NoFetchAfterStop(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		return diamond(runID, execgraph.StatusPending), nil
	}}
	w := NewWatcher(p, WithPollInterval(time.Hour))
	sub := w.Watch("run-1")

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.Stop()
	<-sub.Done()

	sub.Refresh()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
		return diamond(runID, execgraph.StatusPending), nil
	}}
	w := NewWatcher(p, WithPollInterval(time.Hour))
	sub := w.Watch("run-1")

	sub.Stop()
	sub.Stop()
	<-sub.Done()
	assert.True(t, sub.Stopped())
}
