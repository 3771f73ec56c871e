// Package node wires the protocol runtime, its dependents and the
// reconfiguration machinery into one process lifetime.
package node

import (
	"log/slog"
	"time"

	"meshnode/internal/check"
	"meshnode/node/announce"
	"meshnode/node/collector"
	"meshnode/node/propagation"
	"meshnode/node/reconfig"
	"meshnode/node/resolution"
	"meshnode/node/trigger"

	"go.opentelemetry.io/otel/trace"
)

const (
	resultBuffer    = 16
	shutdownTimeout = 30 * time.Second
)

// Request reasons.
const (
	ReasonStartup       = "startup"
	ReasonConfigChanged = "config changed"
	ReasonRuntimeExited = "runtime exited"
)

// Node is one mesh node. Dependents are built from the runtime and store;
// reconfigurations run one at a time through a trigger queue.
type Node struct {
	runtime Runtime
	store   Store
	config  Config

	changes  ChangeSource
	links    func(request func(reason string)) LinkWatcher
	health   Health
	recorder reconfig.Recorder
	tracer   trace.Tracer

	collector   *collector.Collector
	announce    *announce.Manager
	resolution  *resolution.Manager
	propagation *propagation.Manager

	queue   *trigger.Queue
	manager *reconfig.Manager

	// started is closed once the startup reconfiguration has finished,
	// whatever its result.
	started chan struct{}
	log     *slog.Logger
}

// Option configures a Node. Use these to inject test dependencies.
type Option func(*Node)

// WithChanges reapplies whenever the source reports a change.
func WithChanges(c ChangeSource) Option {
	return func(n *Node) { n.changes = c }
}

// WithLinkWatcher builds a link watcher that feeds the node's queue.
func WithLinkWatcher(build func(request func(reason string)) LinkWatcher) Option {
	return func(n *Node) { n.links = build }
}

// WithHealth reports each reconfiguration result.
func WithHealth(h Health) Option {
	return func(n *Node) { n.health = h }
}

// WithRecorder injects reconfiguration metrics.
func WithRecorder(r reconfig.Recorder) Option {
	return func(n *Node) { n.recorder = r }
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(n *Node) { n.tracer = t }
}

// New creates a Node. Nothing runs until Run.
func New(rt Runtime, store Store, cfg Config, opts ...Option) *Node {
	check.Assert(rt != nil, "node.New: runtime must not be nil")
	check.Assert(store != nil, "node.New: store must not be nil")
	check.Assert(cfg != nil, "node.New: config must not be nil")

	n := &Node{
		runtime: rt,
		store:   store,
		config:  cfg,
		started: make(chan struct{}),
		log:     slog.With("component", "node"),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.collector = collector.New(rt, store)
	n.announce = announce.New(rt, store, announce.WithSettings(cfg))
	n.resolution = resolution.New(store, rt)
	n.propagation = propagation.New(rt, store, store)
	n.queue = trigger.New(n.apply, resultBuffer)
	return n
}

// Request asks for a reconfiguration. It never blocks and is safe to call
// before Run; the request is served once Run starts.
func (n *Node) Request(reason string) {
	if n.queue.Request(reason) == 0 {
		n.log.Debug("reconfiguration request after shutdown", "reason", reason)
	}
}

// Started returns a channel closed once the startup reconfiguration is done.
func (n *Node) Started() <-chan struct{} {
	return n.started
}

// Relay returns the selected propagation relay, if any.
func (n *Node) Relay() string {
	return n.propagation.Relay()
}

// MessagesSaved returns how many inbound messages were stored.
func (n *Node) MessagesSaved() int64 {
	return n.collector.Saved()
}
