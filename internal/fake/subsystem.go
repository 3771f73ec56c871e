package fake

import (
	"context"
	"sync"
)

// Subsystem is a background manager with idempotent Start and Stop.
type Subsystem struct {
	CallRecorder
	Faults

	mu      sync.Mutex
	running bool
	scope   context.Context
}

func (s *Subsystem) Start(ctx context.Context) error {
	s.record("Start")
	if err := s.eval("Start"); err != nil {
		return err
	}
	s.mu.Lock()
	s.running = true
	s.scope = ctx
	s.mu.Unlock()
	return nil
}

func (s *Subsystem) Stop(ctx context.Context) error {
	s.record("Stop")
	if err := s.eval("Stop"); err != nil {
		return err
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Running reports whether the last Start was not followed by a Stop.
func (s *Subsystem) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Scope returns the context passed to the last successful Start.
func (s *Subsystem) Scope() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Collector is an inbound message collector.
type Collector struct {
	CallRecorder
	Faults

	mu         sync.Mutex
	collecting bool
}

func (c *Collector) StartCollecting(ctx context.Context) error {
	c.record("StartCollecting")
	if err := c.eval("StartCollecting"); err != nil {
		return err
	}
	c.mu.Lock()
	c.collecting = true
	c.mu.Unlock()
	return nil
}

func (c *Collector) StopCollecting(ctx context.Context) error {
	c.record("StopCollecting")
	if err := c.eval("StopCollecting"); err != nil {
		return err
	}
	c.mu.Lock()
	c.collecting = false
	c.mu.Unlock()
	return nil
}

// Collecting reports whether the collector is running.
func (c *Collector) Collecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collecting
}
