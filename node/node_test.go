package node

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"meshnode"
	"meshnode/config"
	"meshnode/infra/sqlite"
	"meshnode/internal/fake"
)

var (
	_ Runtime = (*fake.Runtime)(nil)
	_ Store   = (*sqlite.Store)(nil)
	_ Config  = (*config.FileSource)(nil)
)

type fakeHealth struct {
	mu     sync.Mutex
	states []bool
}

func (h *fakeHealth) SetServing(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ok)
}

func (h *fakeHealth) last() (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return false, false
	}
	return h.states[len(h.states)-1], true
}

type fakeChanges struct {
	ch chan config.Change
}

func (f *fakeChanges) Watch(ctx context.Context) (<-chan config.Change, error) {
	out := make(chan config.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-f.ch:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type linkFunc func(ctx context.Context) error

func (f linkFunc) Run(ctx context.Context) error { return f(ctx) }

type harness struct {
	t       *testing.T
	path    string
	store   *sqlite.Store
	runtime *fake.Runtime
	health  *fakeHealth
}

func newHarness(t *testing.T, ifaces ...meshnode.InterfaceConfig) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	f := &config.File{Settings: meshnode.Settings{DisplayName: "test node"}, Interfaces: ifaces}
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}
	store, err := sqlite.Open(filepath.Join(dir, "node.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &harness{t: t, path: path, store: store, runtime: fake.NewRuntime(), health: &fakeHealth{}}
}

func (h *harness) node(opts ...Option) *Node {
	opts = append([]Option{WithHealth(h.health)}, opts...)
	return New(h.runtime, h.store, config.NewFileSource(h.path), opts...)
}

// run starts n and returns a stop func that cancels it and returns Run's error.
func (h *harness) run(n *Node) func() error {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	select {
	case <-n.Started():
	case err := <-errCh:
		cancel()
		h.t.Fatalf("Run() returned before start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		h.t.Fatal("node did not start")
	}

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errCh:
			case <-time.After(5 * time.Second):
				runErr = errors.New("Run() did not return")
			}
		})
		return runErr
	}
	h.t.Cleanup(func() { _ = stop() })
	return stop
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var local = meshnode.InterfaceConfig{Name: "Local", Kind: meshnode.AutoInterface, Enabled: true}

func TestRunStartupApply(t *testing.T) {
	h := newHarness(t, local)
	n := h.node()
	stop := h.run(n)

	if got := h.runtime.Count("Initialize"); got != 1 {
		t.Fatalf("Initialize called %d times, want 1", got)
	}
	if got := h.runtime.LastConfig().InterfaceNames(); !slices.Equal(got, []string{"Local"}) {
		t.Errorf("bound interfaces = %v, want [Local]", got)
	}
	if ok, set := h.health.last(); !set || !ok {
		t.Errorf("health after startup = %v (set %v), want serving", ok, set)
	}

	id, err := h.store.ActiveIdentity(context.Background())
	if err != nil || id == nil {
		t.Fatalf("ActiveIdentity() = %v, %v; want generated identity", id, err)
	}
	reseeds := h.runtime.Calls("Reseed")
	if len(reseeds) != 1 {
		t.Fatalf("Reseed called %d times, want 1", len(reseeds))
	}
	if state := reseeds[0].Args[0].(meshnode.ReseedState); state.Identity == nil || state.Identity.Hash != id.Hash {
		t.Errorf("reseed identity = %+v, want %s", state.Identity, id.Hash)
	}

	if err := stop(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if h.runtime.Running() {
		t.Error("runtime still running after Run returned")
	}
	if ok, _ := h.health.last(); ok {
		t.Error("health should report not serving after shutdown")
	}
}

func TestConfigChangeReapplies(t *testing.T) {
	h := newHarness(t, local)
	changes := &fakeChanges{ch: make(chan config.Change)}
	n := h.node(WithChanges(changes))
	h.run(n)

	hub := meshnode.InterfaceConfig{Name: "Hub", Kind: meshnode.TCPClientInterface, Enabled: true, TargetHost: "hub.example"}
	f := &config.File{Interfaces: meshnode.InterfaceSet{local, hub}}
	if err := f.Save(h.path); err != nil {
		t.Fatal(err)
	}
	changes.ch <- config.Change{Interfaces: f.Interfaces}

	eventually(t, "second initialize", func() bool { return h.runtime.Count("Initialize") == 2 })
	eventually(t, "new interface set", func() bool {
		return slices.Equal(h.runtime.LastConfig().InterfaceNames(), []string{"Local", "Hub"})
	})
}

func TestStartupFailureKeepsRunning(t *testing.T) {
	h := newHarness(t, local)
	h.runtime.FailOnce("Initialize", errors.New("port busy"))
	n := h.node()
	h.run(n)

	if ok, set := h.health.last(); !set || ok {
		t.Fatalf("health after failed startup = %v (set %v), want not serving", ok, set)
	}
	if h.runtime.Running() {
		t.Fatal("runtime should be down after failed initialize")
	}

	n.Request("retry")
	eventually(t, "retry to succeed", func() bool {
		ok, _ := h.health.last()
		return ok && h.runtime.Running()
	})
}

func TestLinkWatcherRequests(t *testing.T) {
	h := newHarness(t, local)
	var n *Node
	n = h.node(WithLinkWatcher(func(request func(string)) LinkWatcher {
		return linkFunc(func(ctx context.Context) error {
			select {
			case <-n.Started():
				request("link eth0 up")
			case <-ctx.Done():
			}
			<-ctx.Done()
			return nil
		})
	}))
	h.run(n)

	eventually(t, "link-triggered initialize", func() bool { return h.runtime.Count("Initialize") == 2 })
}

func TestCollectsInboundMessages(t *testing.T) {
	h := newHarness(t, local)
	n := h.node()
	h.run(n)

	h.runtime.Messages.Publish(meshnode.Message{ID: "m1", SourceHash: "aa", Content: "hello", ReceivedAt: time.Now()})
	eventually(t, "message saved", func() bool { return n.MessagesSaved() == 1 })

	msgs, err := h.store.Messages(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("stored messages = %+v", msgs)
	}
}

func TestRelaySelectedFromAnnounces(t *testing.T) {
	h := newHarness(t, local)
	n := h.node()
	h.run(n)

	h.runtime.Announces.Publish(meshnode.Announce{
		DestinationHash: "relay1",
		Aspect:          meshnode.AspectPropagation,
		Hops:            1,
		ReceivedAt:      time.Now(),
	})
	eventually(t, "relay selected", func() bool { return n.Relay() == "relay1" })

	got, err := h.store.Relay(context.Background())
	if err != nil || got != "relay1" {
		t.Errorf("stored relay = %q, %v; want relay1", got, err)
	}
}
