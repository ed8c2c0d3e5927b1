// Package layout assigns 2D positions to execution-graph nodes using
// topological layering (Kahn's algorithm drained in generations). It is a pure
// computation: no I/O, no clock, no state between calls.
package layout

import (
	"github.com/meikuraledutech/execgraph"
)

// Default spacing between layers (vertical) and between nodes within a layer
// (horizontal).
const (
	DefaultLayerSpacing = 120.0
	DefaultNodeSpacing  = 200.0
)

// Options configures the coordinate grid. Zero values fall back to defaults.
type Options struct {
	LayerSpacing float64
	NodeSpacing  float64
}

func (o Options) withDefaults() Options {
	if o.LayerSpacing <= 0 {
		o.LayerSpacing = DefaultLayerSpacing
	}
	if o.NodeSpacing <= 0 {
		o.NodeSpacing = DefaultNodeSpacing
	}
	return o
}

// Compute lays out the given nodes and edges. It never fails: edges with
// missing endpoints are dropped, duplicate node IDs are collapsed (first
// wins), and cyclic remnants are grouped into one trailing layer, so every
// node receives exactly one position. Identical inputs produce identical
// output.
func Compute(nodes []execgraph.NodeRecord, edges []execgraph.EdgeRecord, opts Options) execgraph.Graph {
	opts = opts.withDefaults()

	// Unique node IDs in input order. Later duplicates are ignored so a
	// malformed snapshot cannot produce two positions for one identity.
	order := make([]string, 0, len(nodes))
	byID := make(map[string]execgraph.NodeRecord, len(nodes))
	for _, n := range nodes {
		if _, ok := byID[n.ID]; ok {
			continue
		}
		byID[n.ID] = n
		order = append(order, n.ID)
	}

	valid := filterEdges(byID, edges)
	layers := assignLayers(order, valid)

	positioned := make([]execgraph.PositionedNode, 0, len(order))
	for li, layer := range layers {
		// Center the layer so wide layers don't drift from the middle.
		width := float64(len(layer)-1) * opts.NodeSpacing
		for si, id := range layer {
			positioned = append(positioned, execgraph.PositionedNode{
				NodeRecord: byID[id],
				X:          float64(si)*opts.NodeSpacing - width/2,
				Y:          float64(li) * opts.LayerSpacing,
				Layer:      li,
				Slot:       si,
			})
		}
	}

	return execgraph.Graph{Nodes: positioned, Edges: valid}
}

// filterEdges drops edges referencing node IDs absent from the node set.
func filterEdges(byID map[string]execgraph.NodeRecord, edges []execgraph.EdgeRecord) []execgraph.EdgeRecord {
	valid := make([]execgraph.EdgeRecord, 0, len(edges))
	for _, e := range edges {
		if _, ok := byID[e.Source]; !ok {
			continue
		}
		if _, ok := byID[e.Target]; !ok {
			continue
		}
		valid = append(valid, e)
	}
	return valid
}

// assignLayers ranks nodes by draining the in-degree-0 queue in full
// generations: each generation is one layer, and a successor is enqueued for
// the generation after the one that resolved its last predecessor. Nodes never
// reaching in-degree 0 (cycles with no upstream source) are collected into one
// trailing layer in input order so nothing is dropped.
func assignLayers(order []string, edges []execgraph.EdgeRecord) [][]string {
	indeg := make(map[string]int, len(order))
	adj := make(map[string][]string, len(order))
	for _, id := range order {
		indeg[id] = 0
	}
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		indeg[e.Target]++
	}

	queue := make([]string, 0, len(order))
	for _, id := range order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := make(map[string]bool, len(order))
	var layers [][]string
	for len(queue) > 0 {
		layer := make([]string, 0, len(queue))
		var next []string
		for _, id := range queue {
			if visited[id] {
				continue
			}
			visited[id] = true
			layer = append(layer, id)
			for _, t := range adj[id] {
				indeg[t]--
				if indeg[t] == 0 && !visited[t] {
					next = append(next, t)
				}
			}
		}
		if len(layer) > 0 {
			layers = append(layers, layer)
		}
		queue = next
	}

	var rest []string
	for _, id := range order {
		if !visited[id] {
			rest = append(rest, id)
		}
	}
	if len(rest) > 0 {
		layers = append(layers, rest)
	}

	return layers
}
