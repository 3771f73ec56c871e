package fake

import (
	"context"
	"sync"

	"meshnode"
	"meshnode/internal/watch"
	"meshnode/node/runtimeconfig"
)

// Runtime is an in-memory protocol runtime. Shutdown is idempotent and a
// failed Initialize leaves it stopped.
type Runtime struct {
	CallRecorder
	Faults

	mu         sync.Mutex
	running    bool
	lastConfig runtimeconfig.Config

	// BeforeShutdown runs at the start of every Shutdown call.
	BeforeShutdown func(ctx context.Context)
	// BeforeInitialize runs at the start of every Initialize call.
	BeforeInitialize func(ctx context.Context)

	// Inbound streams; tests publish into them.
	Messages  watch.Topic[meshnode.Message]
	Announces watch.Topic[meshnode.Announce]
}

// NewRuntime returns a Runtime that is already running, like one brought up
// at process start.
func NewRuntime() *Runtime {
	return &Runtime{running: true}
}

func (r *Runtime) Shutdown(ctx context.Context) error {
	r.record("Shutdown")
	if r.BeforeShutdown != nil {
		r.BeforeShutdown(ctx)
	}
	if err := r.eval("Shutdown"); err != nil {
		return err
	}
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *Runtime) Initialize(ctx context.Context, cfg runtimeconfig.Config) error {
	r.record("Initialize", cfg)
	if r.BeforeInitialize != nil {
		r.BeforeInitialize(ctx)
	}
	if err := r.eval("Initialize"); err != nil {
		return err
	}
	r.mu.Lock()
	r.running = true
	r.lastConfig = cfg
	r.mu.Unlock()
	return nil
}

// Running reports whether the runtime is up.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastConfig returns the config of the last successful Initialize.
func (r *Runtime) LastConfig() runtimeconfig.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfig
}

func (r *Runtime) Reseed(ctx context.Context, state meshnode.ReseedState) error {
	r.record("Reseed", state)
	return r.eval("Reseed")
}

func (r *Runtime) Announce(ctx context.Context, id meshnode.Identity, appData []byte) error {
	r.record("Announce", id.Hash, string(appData))
	return r.eval("Announce")
}

func (r *Runtime) RequestPath(ctx context.Context, destinationHash string) error {
	r.record("RequestPath", destinationHash)
	return r.eval("RequestPath")
}

func (r *Runtime) SubscribeMessages(ctx context.Context) <-chan meshnode.Message {
	return r.Messages.Subscribe(ctx)
}

func (r *Runtime) SubscribeAnnounces(ctx context.Context) <-chan meshnode.Announce {
	return r.Announces.Subscribe(ctx)
}
