// Package lifecycle gives a start/stop pair an explicit state.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"meshnode/internal/check"
)

// State is the lifecycle state of a guarded subsystem.
type State uint8

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		check.Assertf(false, "unknown lifecycle state: %d", s)
		return "unknown"
	}
}

// Guard serializes Start and Stop of one subsystem. Start on a running
// subsystem and Stop on a stopped one are no-ops. A failed start leaves the
// previous state. A failed stop leaves it Stopping until a later Stop
// succeeds, so the subsystem is never reported stopped while its work is
// still alive.
type Guard struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error

	mu    sync.Mutex
	state State
}

// NewGuard wraps start and stop.
func NewGuard(name string, start, stop func(ctx context.Context) error) *Guard {
	check.Assert(start != nil && stop != nil, "lifecycle.NewGuard: start and stop must not be nil")
	return &Guard{name: name, start: start, stop: stop}
}

func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Running {
		return nil
	}
	prev := g.state
	g.state = Starting
	if err := g.start(ctx); err != nil {
		g.state = prev
		return err
	}
	g.state = Running
	slog.Debug("subsystem started", "subsystem", g.name)
	return nil
}

func (g *Guard) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Stopped {
		return nil
	}
	g.state = Stopping
	if err := g.stop(ctx); err != nil {
		slog.Warn("subsystem did not stop", "subsystem", g.name, "err", err)
		return err
	}
	g.state = Stopped
	slog.Debug("subsystem stopped", "subsystem", g.name)
	return nil
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
