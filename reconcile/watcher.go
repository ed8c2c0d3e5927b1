// Package reconcile keeps a laid-out execution graph consistent with a
// remote, polled snapshot source. Each Watch call owns one poll session: a
// fixed-interval timer, the last-seen identity sets used for diffing, and the
// last good positioned graph.
package reconcile

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/execgraph"
	"github.com/meikuraledutech/execgraph/layout"
)

// DefaultPollInterval is the spacing between snapshot fetches when no
// interval is configured.
const DefaultPollInterval = 3 * time.Second

// UpdateFunc receives the positioned nodes and validated edges of a freshly
// reconciled graph.
type UpdateFunc func(nodes []execgraph.PositionedNode, edges []execgraph.EdgeRecord)

// ErrorFunc receives a fetch failure. The previously published graph stays
// valid; polling continues on schedule.
type ErrorFunc func(err error)

// Watcher creates poll sessions against one snapshot provider. It is cheap and
// safe to share: all per-run state lives on the Subscription.
type Watcher struct {
	provider   execgraph.SnapshotProvider
	interval   time.Duration
	layoutOpts layout.Options
	logger     zerolog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the fetch interval for sessions started by this
// watcher. Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLayoutOptions sets the spacing passed to the layout engine.
func WithLayoutOptions(opts layout.Options) Option {
	return func(w *Watcher) {
		w.layoutOpts = opts
	}
}

// WithLogger replaces the diagnostic logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher builds a Watcher polling the given provider.
func NewWatcher(provider execgraph.SnapshotProvider, opts ...Option) *Watcher {
	w := &Watcher{
		provider: provider,
		interval: DefaultPollInterval,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts a fresh poll session for runID and returns its Subscription.
// The first fetch is issued immediately; subsequent fetches follow the poll
// interval. Options override the watcher's configuration for this session
// only. Sessions are never shared between Watch calls.
func (w *Watcher) Watch(runID string, opts ...Option) *Subscription {
	cfg := *w
	for _, opt := range opts {
		opt(&cfg)
	}
	s := newSubscription(&cfg, runID)
	go s.run()
	return s
}
