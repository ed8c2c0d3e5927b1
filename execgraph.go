package execgraph

import "encoding/json"

// Status is the execution state of a single workflow node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// Valid reports whether s is one of the known execution states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusUnknown:
		return true
	}
	return false
}

// Normalize maps any unrecognized status value to StatusUnknown.
func (s Status) Normalize() Status {
	if s.Valid() {
		return s
	}
	return StatusUnknown
}

// EdgeKind classifies a connection between two nodes.
type EdgeKind string

const (
	EdgeKindNormal      EdgeKind = "normal"
	EdgeKindConditional EdgeKind = "conditional"
)

// NodeRecord is one workflow-node execution record as reported by the
// execution-status provider. It is immutable once received — a new snapshot
// replaces it wholesale.
// Meta carries provider-specific execution detail (timestamps, retry count,
// input/output payloads, sub-task list) that the graph logic never inspects.
type NodeRecord struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Status Status          `json:"status"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// EdgeRecord is a directed connection between two nodes of one snapshot.
// An edge whose Source or Target does not exist in the snapshot's node set is
// invalid and is dropped before layout.
type EdgeRecord struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind,omitempty"`
	Label  string   `json:"label,omitempty"`
}

// Key is the identity of an edge within one snapshot.
func (e EdgeRecord) Key() string {
	return e.Source + "\x00" + e.Target + "\x00" + string(e.Kind)
}

// Snapshot is a point-in-time view of one execution run: its node records plus
// their explicit edge list. Snapshots carry no version; identity-based
// deduplication is the only consistency mechanism.
type Snapshot struct {
	RunID string       `json:"run_id"`
	Nodes []NodeRecord `json:"nodes"`
	Edges []EdgeRecord `json:"edges"`
}

// PositionedNode is a NodeRecord with the 2D coordinate assigned by the layout
// engine. Layer and Slot are the node's rank and its index within that rank.
type PositionedNode struct {
	NodeRecord
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Layer int     `json:"layer"`
	Slot  int     `json:"slot"`
}

// Graph is a layout result: positioned nodes plus the validated edge list
// (every edge endpoint is guaranteed to exist in Nodes).
type Graph struct {
	Nodes []PositionedNode `json:"nodes"`
	Edges []EdgeRecord     `json:"edges"`
}

// DupReport lists the identities that were collapsed by Dedup.
type DupReport struct {
	NodeIDs  []string
	EdgeKeys []string
}

// Empty reports whether Dedup dropped anything.
func (r DupReport) Empty() bool {
	return len(r.NodeIDs) == 0 && len(r.EdgeKeys) == 0
}

// Dedup returns a copy of the snapshot with duplicate node IDs and edge keys
// collapsed. The first-encountered record wins; later duplicates are reported,
// never an error. Input order is preserved. Nodes without an ID carry no
// identity and pass through untouched; assign IDs first if they must be
// addressable.
func (s *Snapshot) Dedup() (*Snapshot, DupReport) {
	var report DupReport

	out := &Snapshot{
		RunID: s.RunID,
		Nodes: make([]NodeRecord, 0, len(s.Nodes)),
		Edges: make([]EdgeRecord, 0, len(s.Edges)),
	}

	seenNodes := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			out.Nodes = append(out.Nodes, n)
			continue
		}
		if seenNodes[n.ID] {
			report.NodeIDs = append(report.NodeIDs, n.ID)
			continue
		}
		seenNodes[n.ID] = true
		out.Nodes = append(out.Nodes, n)
	}

	seenEdges := make(map[string]bool, len(s.Edges))
	for _, e := range s.Edges {
		k := e.Key()
		if seenEdges[k] {
			report.EdgeKeys = append(report.EdgeKeys, k)
			continue
		}
		seenEdges[k] = true
		out.Edges = append(out.Edges, e)
	}

	return out, report
}
