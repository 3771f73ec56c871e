// Package netwatch requests a reconfiguration when a host link changes state,
// so interfaces bound to host addresses rebind.
package netwatch

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const DefaultDebounce = 2 * time.Second

// Event is a link state observation.
type Event struct {
	Name string
	Up   bool
	// Removed is set when the link disappeared.
	Removed bool
}

// RequestFunc is handed a human-readable reason. It must not block.
type RequestFunc func(reason string)

// Watcher turns link state changes into debounced reconfiguration requests.
type Watcher struct {
	request  RequestFunc
	debounce time.Duration
	ignore   []string
	log      *slog.Logger
}

type Option func(*Watcher)

// WithDebounce sets how long link events are collected before one request.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnore skips links whose name has one of prefixes.
func WithIgnore(prefixes ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, prefixes...) }
}

func New(request RequestFunc, opts ...Option) *Watcher {
	w := &Watcher{
		request:  request,
		debounce: DefaultDebounce,
		log:      slog.With("component", "netwatch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// watch collects events until ctx is done or events closes. Each burst of
// real state changes produces one request once the link set is quiet for
// the debounce window. initial is the link state at subscription time.
func (w *Watcher) watch(ctx context.Context, initial []Event, events <-chan Event) {
	t := newTracker(w.ignore)
	t.seed(initial)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var pending []string
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			change, ok := t.observe(ev)
			if !ok {
				continue
			}
			w.log.Debug("link changed", "link", ev.Name, "change", change)
			if !slices.Contains(pending, change) {
				pending = append(pending, change)
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			reason := "link " + strings.Join(pending, ", ")
			pending = pending[:0]
			w.log.Info("requesting reconfiguration", "reason", reason)
			w.request(reason)
		}
	}
}

// tracker remembers the last state per link and reports only transitions.
// The first observation of a link is recorded without reporting.
type tracker struct {
	state  map[string]bool
	ignore []string
}

func newTracker(ignore []string) *tracker {
	return &tracker{state: make(map[string]bool), ignore: ignore}
}

func (t *tracker) observe(ev Event) (string, bool) {
	if ev.Name == "" {
		return "", false
	}
	for _, p := range t.ignore {
		if strings.HasPrefix(ev.Name, p) {
			return "", false
		}
	}

	prev, seen := t.state[ev.Name]
	if ev.Removed {
		delete(t.state, ev.Name)
		if !seen {
			return "", false
		}
		return ev.Name + " removed", true
	}

	t.state[ev.Name] = ev.Up
	switch {
	case !seen && !ev.Up:
		return "", false
	case !seen:
		return ev.Name + " added", true
	case prev == ev.Up:
		return "", false
	case ev.Up:
		return ev.Name + " up", true
	default:
		return ev.Name + " down", true
	}
}

// seed records the current state without reporting it.
func (t *tracker) seed(events []Event) {
	for _, ev := range events {
		if !ev.Removed {
			t.state[ev.Name] = ev.Up
		}
	}
}
