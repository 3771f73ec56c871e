// Package trigger serializes reconfiguration requests. At most one run is in
// flight; requests that arrive meanwhile coalesce into a single follow-up run.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"meshnode/internal/check"
)

// ErrClosed is returned by Apply once the queue has stopped.
var ErrClosed = errors.New("trigger queue closed")

// ApplyFunc performs one reconfiguration.
type ApplyFunc func(ctx context.Context) error

// Result describes one finished run.
type Result struct {
	ID       uint64
	Reason   string
	Err      error
	Started  time.Time
	Finished time.Time
}

// Queue owns the only goroutine that calls ApplyFunc.
type Queue struct {
	apply   ApplyFunc
	results chan Result
	log     *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	nextID  uint64 // id the next run will get
	done    uint64 // id of the last finished run
	last    map[uint64]error
	closed  bool
}

// New creates a Queue. Results are published to a channel of the given
// buffer size; when nobody drains it, results are dropped.
func New(apply ApplyFunc, buffer int) *Queue {
	check.Assert(apply != nil, "trigger.New: apply must not be nil")
	q := &Queue{
		apply:   apply,
		results: make(chan Result, max(buffer, 0)),
		log:     slog.With("component", "trigger"),
		nextID:  1,
		last:    make(map[uint64]error),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Results returns the channel every finished run is published on.
func (q *Queue) Results() <-chan Result {
	return q.results
}

// Request asks for a run and returns immediately with the id of the run
// that will cover it.
func (q *Queue) Request(reason string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.pending = append(q.pending, reason)
	q.cond.Broadcast()
	return q.nextID
}

// Apply requests a run and waits until it has finished.
func (q *Queue) Apply(ctx context.Context, reason string) error {
	id := q.Request(reason)
	if id == 0 {
		return ErrClosed
	}

	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-waitDone:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.done < id {
		if q.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return q.last[id]
}

// Run processes requests until ctx is done. Each run gets ctx.
func (q *Queue) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			close(q.results)
			return nil
		}
		reasons := q.pending
		q.pending = nil
		id := q.nextID
		q.nextID++
		q.mu.Unlock()

		res := Result{ID: id, Reason: strings.Join(dedupe(reasons), ", "), Started: time.Now()}
		q.log.Debug("reconfiguration started", "run", id, "reason", res.Reason)
		res.Err = q.apply(ctx)
		res.Finished = time.Now()

		q.mu.Lock()
		q.done = id
		q.last[id] = res.Err
		delete(q.last, id-resultHistory)
		q.cond.Broadcast()
		q.mu.Unlock()

		select {
		case q.results <- res:
		default:
			q.log.Debug("result dropped; no reader", "run", id)
		}
	}
}

// resultHistory bounds how many past run errors Apply callers can read.
const resultHistory = 64

func dedupe(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	seen := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
