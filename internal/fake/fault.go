package fake

import (
	"fmt"
	"strings"
	"sync"

	"meshnode/internal/check"
)

// Faults injects errors into named points of a fake. Once-errors are
// consumed in order before the persistent error is returned.
type Faults struct {
	mu     sync.Mutex
	once   map[string][]error
	always map[string]error
}

// FailOnce makes the next evaluation of point return err.
func (f *Faults) FailOnce(point string, err error) {
	check.Assert(strings.TrimSpace(point) != "", "fake.Faults.FailOnce: point must not be empty")
	check.Assert(err != nil, "fake.Faults.FailOnce: err must not be nil")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.once == nil {
		f.once = make(map[string][]error)
	}
	f.once[point] = append(f.once[point], err)
}

// FailAlways makes every evaluation of point return err until cleared.
func (f *Faults) FailAlways(point string, err error) {
	check.Assert(strings.TrimSpace(point) != "", "fake.Faults.FailAlways: point must not be empty")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.always == nil {
		f.always = make(map[string]error)
	}
	f.always[point] = err
}

// Clear removes every fault.
func (f *Faults) Clear() {
	f.mu.Lock()
	f.once = nil
	f.always = nil
	f.mu.Unlock()
}

func (f *Faults) eval(point string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.once[point]; len(errs) > 0 {
		f.once[point] = errs[1:]
		return fmt.Errorf("fault %s (once): %w", point, errs[0])
	}
	if err := f.always[point]; err != nil {
		return fmt.Errorf("fault %s (always): %w", point, err)
	}
	return nil
}
