package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/meikuraledutech/execgraph"
	"github.com/meikuraledutech/execgraph/layout"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateFetching
	stateDisabled
)

// Subscription is one poll session: a timer, the last-seen identity sets and
// the last good positioned graph for a single watched run. Disabled is
// terminal; watch the run again to get a fresh session.
type Subscription struct {
	runID string
	w     *Watcher

	mu       sync.Mutex
	state    sessionState
	onUpdate UpdateFunc
	onError  ErrorFunc
	nodes    []execgraph.PositionedNode
	edges    []execgraph.EdgeRecord
	// nil until the first successful fetch, so the initial graph is always
	// laid out and published even when it is empty.
	nodeIDs  map[string]bool
	edgeKeys map[string]bool

	ctx      context.Context
	cancel   context.CancelFunc
	refresh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(w *Watcher, runID string) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		runID:   runID,
		w:       w,
		ctx:     ctx,
		cancel:  cancel,
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// OnUpdate registers the callback receiving reconciled graphs. Updates that
// complete before registration are missed, not replayed.
func (s *Subscription) OnUpdate(fn UpdateFunc) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// OnError registers the callback receiving fetch failures.
func (s *Subscription) OnError(fn ErrorFunc) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Refresh requests an immediate fetch. If a fetch is already in flight or a
// refresh is already pending, the request coalesces into it.
func (s *Subscription) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Stop disables the session: the poll timer is cancelled, an in-flight fetch
// has its result discarded, and no further callback delivery is started. A
// callback already being delivered on the poll goroutine may still complete
// concurrently with Stop. Stopping an already-stopped session is a no-op.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = stateDisabled
		s.mu.Unlock()
		s.cancel()
	})
}

// Done is closed when the session's poll loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stopped reports whether the session has been disabled.
func (s *Subscription) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDisabled
}

// run is the session's single poll goroutine. Fetches happen inline, so at
// most one is in flight; ticks that fire during a fetch are dropped, not
// queued.
func (s *Subscription) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.w.interval)
	defer ticker.Stop()

	s.fetch()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.fetch()
			dropPendingTick(ticker)
		case <-s.refresh:
			s.fetch()
			dropPendingTick(ticker)
		}
	}
}

func dropPendingTick(t *time.Ticker) {
	select {
	case <-t.C:
	default:
	}
}

// fetch pulls one snapshot and reconciles it into the session. A session
// disabled while the fetch was in flight discards the result unseen.
func (s *Subscription) fetch() {
	s.mu.Lock()
	if s.state == stateDisabled {
		s.mu.Unlock()
		return
	}
	s.state = stateFetching
	s.mu.Unlock()

	snap, err := s.w.provider.FetchSnapshot(s.ctx, s.runID)
	if err == nil && snap == nil {
		err = execgraph.ErrRunNotFound
	}

	s.mu.Lock()
	if s.state == stateDisabled {
		s.mu.Unlock()
		return
	}
	s.state = stateIdle

	if err != nil {
		fn := s.onError
		s.mu.Unlock()
		s.w.logger.Warn().Err(err).Str("run_id", s.runID).
			Msg("snapshot fetch failed, keeping last graph")
		if fn != nil && !s.Stopped() {
			fn(err)
		}
		return
	}

	fn, nodes, edges := s.applyLocked(snap)
	s.mu.Unlock()

	// Re-check liveness at the last moment: a Stop that landed after the
	// result was applied still suppresses delivery.
	if fn != nil && !s.Stopped() {
		fn(nodes, edges)
	}
}

// applyLocked deduplicates the snapshot, decides between a full relayout and
// an in-place status patch, and returns the update callback to invoke (nil
// when nothing changed). Caller holds s.mu.
func (s *Subscription) applyLocked(snap *execgraph.Snapshot) (UpdateFunc, []execgraph.PositionedNode, []execgraph.EdgeRecord) {
	snap, report := snap.Dedup()
	for _, id := range report.NodeIDs {
		s.w.logger.Warn().Str("run_id", s.runID).Str("node_id", id).
			Msg("duplicate node id in snapshot, keeping first record")
	}
	for _, k := range report.EdgeKeys {
		s.w.logger.Warn().Str("run_id", s.runID).Str("edge", k).
			Msg("duplicate edge in snapshot, keeping first record")
	}
	for i := range snap.Nodes {
		snap.Nodes[i].Status = snap.Nodes[i].Status.Normalize()
	}

	nodeIDs := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodeIDs[n.ID] = true
	}
	edgeKeys := make(map[string]bool, len(snap.Edges))
	for _, e := range snap.Edges {
		edgeKeys[e.Key()] = true
	}

	published := false
	if s.sameIdentityLocked(nodeIDs, edgeKeys) {
		// Same node/edge membership: patch statuses in place so positions
		// never jump on a pure status change.
		statusByID := make(map[string]execgraph.Status, len(snap.Nodes))
		for _, n := range snap.Nodes {
			statusByID[n.ID] = n.Status
		}
		for i := range s.nodes {
			if st, ok := statusByID[s.nodes[i].ID]; ok && st != s.nodes[i].Status {
				s.nodes[i].Status = st
				published = true
			}
		}
	} else {
		g := layout.Compute(snap.Nodes, snap.Edges, s.w.layoutOpts)
		s.nodes = g.Nodes
		s.edges = g.Edges
		s.nodeIDs = nodeIDs
		s.edgeKeys = edgeKeys
		published = true
	}

	if !published || s.onUpdate == nil {
		return nil, nil, nil
	}
	// Callbacks get their own copies; the session keeps mutating its slices.
	nodes := append([]execgraph.PositionedNode(nil), s.nodes...)
	edges := append([]execgraph.EdgeRecord(nil), s.edges...)
	return s.onUpdate, nodes, edges
}

func (s *Subscription) sameIdentityLocked(nodeIDs, edgeKeys map[string]bool) bool {
	return s.nodeIDs != nil &&
		identityEqual(s.nodeIDs, nodeIDs) &&
		identityEqual(s.edgeKeys, edgeKeys)
}

func identityEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range b {
		if !a[k] {
			return false
		}
	}
	return true
}
