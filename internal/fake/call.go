// Package fake provides in-memory collaborators for tests. Every fake records
// its calls, and fakes that share a Sequence record into one ordered log so
// tests can assert ordering across components.
package fake

import (
	"slices"
	"sync"
)

// Call records a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder tracks method calls for assertion in tests.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call

	seq  *Sequence
	name string
}

// Attach makes the recorder also log "name.Method" into seq.
func (r *CallRecorder) Attach(seq *Sequence, name string) {
	r.mu.Lock()
	r.seq = seq
	r.name = name
	r.mu.Unlock()
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	seq, name := r.seq, r.name
	r.mu.Unlock()

	if seq != nil {
		seq.Add(name + "." + method)
	}
}

// Calls returns recorded calls. If method is "", returns all calls.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	if method == "" {
		return slices.Clone(r.calls)
	}

	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times method was called.
func (r *CallRecorder) Count(method string) int {
	return len(r.Calls(method))
}

// Reset clears all recorded calls.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Sequence is an ordered log shared by several fakes.
type Sequence struct {
	mu      sync.Mutex
	entries []string
}

// Add appends an entry.
func (s *Sequence) Add(entry string) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

// Entries returns a copy of the log.
func (s *Sequence) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Reset clears the log.
func (s *Sequence) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
