package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/execgraph"
	"github.com/meikuraledutech/execgraph/reconcile"
)

// scriptedProvider plays a small execution run forward one step per fetch:
// first the nodes are pending, then they complete one by one.
type scriptedProvider struct {
	mu   sync.Mutex
	step int
}

func (p *scriptedProvider) FetchSnapshot(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := []execgraph.Status{
		execgraph.StatusPending,
		execgraph.StatusPending,
		execgraph.StatusPending,
		execgraph.StatusPending,
	}
	for i := 0; i < p.step && i < len(statuses); i++ {
		statuses[i] = execgraph.StatusCompleted
	}
	if p.step < len(statuses) {
		statuses[p.step] = execgraph.StatusRunning
	}
	p.step++

	return &execgraph.Snapshot{
		RunID: runID,
		Nodes: []execgraph.NodeRecord{
			{ID: "start", Name: "Start", Status: statuses[0]},
			{ID: "fetch", Name: "Fetch data", Status: statuses[1]},
			{ID: "clean", Name: "Clean data", Status: statuses[2]},
			{ID: "done", Name: "Finish", Status: statuses[3]},
		},
		Edges: []execgraph.EdgeRecord{
			{Source: "start", Target: "fetch"},
			{Source: "start", Target: "clean"},
			{Source: "fetch", Target: "done"},
			{Source: "clean", Target: "done", Kind: execgraph.EdgeKindConditional, Label: "cleaned"},
		},
	}, nil
}

func main() {
	watcher := reconcile.NewWatcher(
		&scriptedProvider{},
		reconcile.WithPollInterval(500*time.Millisecond),
	)

	sub := watcher.Watch("demo-run")
	sub.OnUpdate(func(nodes []execgraph.PositionedNode, edges []execgraph.EdgeRecord) {
		fmt.Printf("\ngraph updated (%d nodes, %d edges):\n", len(nodes), len(edges))
		printJSON(nodes)
	})
	sub.OnError(func(err error) {
		log.Warn().Err(err).Msg("fetch failed")
	})

	time.Sleep(3 * time.Second)

	sub.Stop()
	<-sub.Done()
	fmt.Println("\nwatch stopped")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
