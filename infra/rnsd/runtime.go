// Package rnsd runs the mesh protocol runtime as a supervised sidecar
// process and talks to it over a JSON-lines bridge on stdio.
package rnsd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/internal/watch"
	"meshnode/node/runtimeconfig"
)

const (
	defaultReadyTimeout = 30 * time.Second
	defaultStopGrace    = 8 * time.Second
	defaultStopForce    = 2 * time.Second
	maxEventLine        = 1 << 20
	configDirName       = "runtime"
	configFileName      = "config"
)

var (
	// ErrNotRunning is returned by commands sent while the runtime is down.
	ErrNotRunning = errors.New("runtime not running")
	// ErrRunning is returned by Initialize on a live runtime.
	ErrRunning = errors.New("runtime already running")
)

// Process is a launched bridge.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait is called once, after Stdout has been read to EOF.
	Wait() error
	Terminate() error
	Kill() error
	Pid() int
}

// Launcher starts a bridge reading its config from configDir.
type Launcher interface {
	Launch(ctx context.Context, configDir string) (Process, error)
}

// AnnounceStore persists announces as they arrive.
type AnnounceStore interface {
	SaveAnnounce(ctx context.Context, a meshnode.Announce) error
}

// Runtime supervises at most one bridge process. Messages and announces are
// fanned out to subscribers that survive restarts.
type Runtime struct {
	dataDir  string
	launcher Launcher
	store    AnnounceStore
	onExit   func(err error)

	readyTimeout time.Duration
	stopGrace    time.Duration
	stopForce    time.Duration
	now          func() time.Time
	log          *slog.Logger

	messages  watch.Topic[meshnode.Message]
	announces watch.Topic[meshnode.Announce]

	mu   sync.Mutex
	inst *instance
}

type Option func(*Runtime)

// WithLauncher replaces the exec launcher.
func WithLauncher(l Launcher) Option {
	return func(r *Runtime) { r.launcher = l }
}

// WithAnnounceStore persists every received announce.
func WithAnnounceStore(s AnnounceStore) Option {
	return func(r *Runtime) { r.store = s }
}

// WithExitHandler is called when the bridge exits without being shut down.
func WithExitHandler(fn func(err error)) Option {
	return func(r *Runtime) { r.onExit = fn }
}

// WithTimeouts overrides how long to wait for ready, for a graceful exit,
// and after each signal.
func WithTimeouts(ready, grace, force time.Duration) Option {
	return func(r *Runtime) {
		r.readyTimeout = ready
		r.stopGrace = grace
		r.stopForce = force
	}
}

// New creates a stopped Runtime rooted at dataDir.
func New(dataDir string, opts ...Option) *Runtime {
	check.Assert(strings.TrimSpace(dataDir) != "", "rnsd.New: dataDir must not be empty")

	r := &Runtime{
		dataDir:      dataDir,
		launcher:     ExecLauncher{},
		readyTimeout: defaultReadyTimeout,
		stopGrace:    defaultStopGrace,
		stopForce:    defaultStopForce,
		now:          time.Now,
		log:          slog.With("component", "rnsd"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConfigDir is where the rendered runtime config is written.
func (r *Runtime) ConfigDir() string {
	return filepath.Join(r.dataDir, configDirName)
}

// Running reports whether a bridge is up.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inst != nil
}

// Initialize writes cfg and starts the bridge, returning once it reports
// ready. On failure no process is left running. A done ctx launches nothing.
func (r *Runtime) Initialize(ctx context.Context, cfg runtimeconfig.Config) error {
	if r.Running() {
		return ErrRunning
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	dir := r.ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create runtime config dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(cfg.Render()), 0o600); err != nil {
		return fmt.Errorf("write runtime config: %w", err)
	}

	proc, err := r.launcher.Launch(ctx, dir)
	if err != nil {
		return fmt.Errorf("launch runtime: %w", err)
	}
	inst := newInstance(proc)
	go r.read(inst)

	timer := time.NewTimer(r.readyTimeout)
	defer timer.Stop()

	select {
	case names := <-inst.ready:
		r.mu.Lock()
		select {
		case <-inst.exited:
			r.mu.Unlock()
			return fmt.Errorf("runtime exited right after ready: %w", inst.exitErr())
		default:
			r.inst = inst
		}
		r.mu.Unlock()

		r.log.Info("runtime ready", "pid", proc.Pid(), "interfaces", names)
		if want := cfg.InterfaceNames(); len(names) != len(want) {
			r.log.Warn("runtime bound a different interface set", "configured", want, "bound", names)
		}
		return nil

	case <-inst.exited:
		return fmt.Errorf("runtime exited before ready: %w", inst.exitErr())

	case <-timer.C:
		r.abort(inst)
		return fmt.Errorf("runtime not ready after %s%s", r.readyTimeout, inst.lastErrorSuffix())

	case <-ctx.Done():
		r.abort(inst)
		return ctx.Err()
	}
}

// Shutdown asks the bridge to exit, then escalates to SIGTERM and SIGKILL.
// Each wait is bounded by the grace and force timeouts, not by ctx, so a
// cancelled caller still gets a graceful stop. It is a no-op when nothing is
// running.
func (r *Runtime) Shutdown(_ context.Context) error {
	r.mu.Lock()
	inst := r.inst
	r.inst = nil
	r.mu.Unlock()

	if inst == nil {
		return nil
	}
	log := r.log.With("pid", inst.proc.Pid())

	if err := inst.send(command{Op: opShutdown}); err != nil {
		log.Debug("send shutdown failed", "err", err)
	}
	_ = inst.proc.Stdin().Close()
	if inst.waitExit(r.stopGrace) {
		log.Info("runtime stopped")
		return nil
	}

	log.Warn("runtime did not exit; terminating")
	if err := inst.proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("terminate failed", "err", err)
	}
	if inst.waitExit(r.stopForce) {
		return nil
	}

	log.Warn("runtime ignored SIGTERM; killing")
	if err := inst.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("kill failed", "err", err)
	}
	if inst.waitExit(r.stopForce) {
		return nil
	}

	r.mu.Lock()
	if r.inst == nil {
		r.inst = inst
	}
	r.mu.Unlock()
	return fmt.Errorf("runtime pid %d did not exit", inst.proc.Pid())
}

// SubscribeMessages delivers inbound messages until ctx is done.
func (r *Runtime) SubscribeMessages(ctx context.Context) <-chan meshnode.Message {
	return r.messages.Subscribe(ctx)
}

// SubscribeAnnounces delivers received announces until ctx is done.
func (r *Runtime) SubscribeAnnounces(ctx context.Context) <-chan meshnode.Announce {
	return r.announces.Subscribe(ctx)
}

// Announce announces id with appData on every interface.
func (r *Runtime) Announce(ctx context.Context, id meshnode.Identity, appData []byte) error {
	return r.send(ctx, command{Op: opAnnounce, Identity: id.Hash, AppData: appData})
}

// RequestPath asks the network for a path to destinationHash.
func (r *Runtime) RequestPath(ctx context.Context, destinationHash string) error {
	return r.send(ctx, command{Op: opRequestPath, Destination: destinationHash})
}

// Reseed loads the identity, resolved peers and announces into the bridge.
func (r *Runtime) Reseed(ctx context.Context, state meshnode.ReseedState) error {
	cmds := make([]command, 0, 1+len(state.Peers)+len(state.Announces))
	if state.Identity != nil {
		cmds = append(cmds, identityCommand(*state.Identity))
	}
	for _, p := range state.Peers {
		if p.Resolved() {
			cmds = append(cmds, rememberPeer(p))
		}
	}
	for _, a := range state.Announces {
		if len(a.PublicKey) > 0 {
			cmds = append(cmds, rememberAnnounce(a))
		}
	}

	var errs []error
	for _, cmd := range cmds {
		if err := r.send(ctx, cmd); err != nil {
			if errors.Is(err, ErrNotRunning) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
	}
	r.log.Debug("runtime reseeded", "commands", len(cmds), "failed", len(errs))
	return errors.Join(errs...)
}

// Close ends every subscription.
func (r *Runtime) Close() {
	r.messages.Close()
	r.announces.Close()
}

func (r *Runtime) send(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	inst := r.inst
	r.mu.Unlock()
	if inst == nil {
		return ErrNotRunning
	}
	return inst.send(cmd)
}

// read decodes events until the bridge closes stdout, then reaps it.
func (r *Runtime) read(inst *instance) {
	sc := bufio.NewScanner(inst.proc.Stdout())
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	for sc.Scan() {
		var ev event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			r.log.Warn("malformed runtime event", "err", err)
			continue
		}
		r.dispatch(inst, ev)
	}
	if err := sc.Err(); err != nil {
		r.log.Warn("read runtime events failed", "err", err)
	}

	err := inst.proc.Wait()

	r.mu.Lock()
	inst.waitErr = err
	close(inst.exited)
	unexpected := r.inst == inst
	if unexpected {
		r.inst = nil
	}
	r.mu.Unlock()

	if unexpected {
		r.log.Error("runtime exited unexpectedly", "pid", inst.proc.Pid(), "err", err)
		if r.onExit != nil {
			r.onExit(err)
		}
	}
}

func (r *Runtime) dispatch(inst *instance, ev event) {
	switch ev.Type {
	case evReady:
		select {
		case inst.ready <- ev.Interfaces:
		default:
		}
	case evMessage:
		if ev.Message == nil {
			return
		}
		r.messages.Publish(ev.Message.toMessage(r.now()))
	case evAnnounce:
		if ev.Announce == nil {
			return
		}
		a := ev.Announce.toAnnounce(r.now())
		if r.store != nil {
			if err := r.store.SaveAnnounce(context.Background(), a); err != nil {
				r.log.Warn("save announce failed", "destination", a.DestinationHash, "err", err)
			}
		}
		r.announces.Publish(a)
	case evError:
		inst.setLastError(ev.Error)
		r.log.Warn("runtime reported an error", "err", ev.Error)
	default:
		r.log.Debug("unknown runtime event", "type", ev.Type)
	}
}

func (r *Runtime) abort(inst *instance) {
	_ = inst.proc.Kill()
	_ = inst.proc.Stdin().Close()
	if !inst.waitExit(r.stopForce) {
		r.log.Error("runtime did not exit after kill", "pid", inst.proc.Pid())
	}
}

// instance is one launched bridge.
type instance struct {
	proc   Process
	ready  chan []string
	exited chan struct{}

	writeMu sync.Mutex
	enc     *json.Encoder

	// waitErr is written before exited is closed.
	waitErr error

	errMu   sync.Mutex
	lastErr string
}

func newInstance(proc Process) *instance {
	return &instance{
		proc:   proc,
		ready:  make(chan []string, 1),
		exited: make(chan struct{}),
		enc:    json.NewEncoder(proc.Stdin()),
	}
}

func (i *instance) send(cmd command) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	select {
	case <-i.exited:
		return ErrNotRunning
	default:
	}
	if err := i.enc.Encode(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Op, err)
	}
	return nil
}

func (i *instance) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-i.exited:
		return true
	case <-timer.C:
		return false
	}
}

func (i *instance) exitErr() error {
	err := i.waitErr
	if err == nil {
		err = errors.New("exit status 0")
	}
	if msg := i.lastErrorSuffix(); msg != "" {
		return fmt.Errorf("%w%s", err, msg)
	}
	return err
}

func (i *instance) setLastError(msg string) {
	i.errMu.Lock()
	i.lastErr = msg
	i.errMu.Unlock()
}

func (i *instance) lastErrorSuffix() string {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	if strings.TrimSpace(i.lastErr) == "" {
		return ""
	}
	return ": " + i.lastErr
}
