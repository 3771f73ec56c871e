package reconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/node/runtimeconfig"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// UserMessage is what a user sees when ApplyInterfaceChanges fails.
const UserMessage = "network configuration could not be applied"

var (
	// ErrShutdown wraps a failed runtime teardown.
	ErrShutdown = errors.New("runtime shutdown failed")
	// ErrInitialize wraps a failed runtime initialization, including a
	// config that could not be built.
	ErrInitialize = errors.New("runtime initialize failed")
	// ErrNotApplied means ctx was done before anything was touched. The
	// previous runtime and its dependents are still running.
	ErrNotApplied = errors.New("reconfiguration not started")
)

const (
	spanApply      = "reconfig.apply"
	attrRunID      = "meshnode.reconfig.run_id"
	attrInterfaces = "meshnode.reconfig.interfaces"
)

// snapshot is everything read before anything is stopped.
type snapshot struct {
	reseed     meshnode.ReseedState
	interfaces meshnode.InterfaceSet
	settings   meshnode.Settings
}

// ApplyInterfaceChanges stops every dependent, shuts the runtime down,
// initializes it with the current interfaces and settings, then restarts the
// dependents. It returns nil only if both shutdown and initialize succeed.
// On error the runtime and every dependent are left stopped, except when ctx
// is already done on entry: then nothing is touched and the error wraps
// ErrNotApplied. A ctx that ends after shutdown skips initialize and fails
// with ErrInitialize.
//
// Calls must not overlap. Two calls in a row are safe: each one stops and
// restarts every component exactly once.
func (m *Manager) ApplyInterfaceChanges(ctx context.Context) (err error) {
	if m.inFlight.CompareAndSwap(false, true) {
		defer m.inFlight.Store(false)
	} else {
		check.Assert(false, "reconfig: overlapping ApplyInterfaceChanges calls")
		m.log.Warn("overlapping reconfiguration; callers must serialize")
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotApplied, err)
	}

	runID := uuid.NewString()
	log := m.log.With("run", runID)
	started := time.Now()

	ctx, span := m.tracer.Start(ctx, spanApply, trace.WithAttributes(attribute.String(attrRunID, runID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		}
		span.End()
		m.recorder.ObserveApply(err, time.Since(started))
	}()

	log.Info("applying interface changes")

	var snap snapshot
	_ = m.runPhase(ctx, log, PhaseGather, func(ctx context.Context) error {
		var gatherErr error
		snap, gatherErr = m.gather(ctx)
		return gatherErr
	})
	span.SetAttributes(attribute.StringSlice(attrInterfaces, snap.interfaces.Names()))

	_ = m.runPhase(ctx, log, PhaseStopCollector, m.stopCollector)
	_ = m.runPhase(ctx, log, PhaseStopManagers, m.stopManagers)

	shutdownErr := m.runPhase(ctx, log, PhaseShutdown, m.runtime.Shutdown)
	m.recorder.SetRuntimeUp(false)
	if shutdownErr != nil {
		return fmt.Errorf("%w: %w", ErrShutdown, shutdownErr)
	}

	if err := m.runPhase(ctx, log, PhaseInitialize, func(ctx context.Context) error {
		return m.initialize(ctx, log, snap)
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrInitialize, err)
	}
	m.recorder.SetRuntimeUp(true)

	_ = m.runPhase(ctx, log, PhaseStartCollector, m.startCollector)
	_ = m.runPhase(ctx, log, PhaseStartManagers, m.startManagers)

	log.Info("interface changes applied",
		"interfaces", len(snap.interfaces),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// runPhase runs fn under a child span. Errors from phases that do not decide
// the result are logged and recorded, never returned to the sequence.
func (m *Manager) runPhase(ctx context.Context, log *slog.Logger, phase Phase, fn func(context.Context) error) error {
	phaseCtx, span := m.tracer.Start(ctx, phase.String())
	defer span.End()

	err := fn(phaseCtx)
	if err == nil {
		log.Debug("phase complete", "phase", phase)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	m.recorder.ObservePhaseError(phase)

	if phase.Fatal() {
		log.Error("phase failed", "phase", phase, "err", err)
	} else {
		log.Warn("phase failed; continuing", "phase", phase, "err", err)
	}
	return err
}

func (m *Manager) gather(ctx context.Context) (snapshot, error) {
	var errs []error

	reseed, err := m.gatherReseed(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	var set meshnode.InterfaceSet
	if m.interfaces != nil {
		got, err := m.interfaces.EnabledInterfaces(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("read interfaces: %w", err))
		} else {
			set = got.Enabled()
		}
	}

	var settings meshnode.Settings
	if m.settings != nil {
		got, err := m.settings.Settings(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("read settings: %w", err))
		} else {
			settings = got
		}
	}

	return snapshot{reseed: reseed, interfaces: set, settings: settings}, errors.Join(errs...)
}

func (m *Manager) stopCollector(ctx context.Context) error {
	if m.collector == nil {
		return nil
	}
	if err := m.collector.StopCollecting(ctx); err != nil {
		return fmt.Errorf("stop collector: %w", err)
	}
	return nil
}

// stopManagers stops auto-announce, identity resolution, then propagation.
// It continues through errors.
func (m *Manager) stopManagers(ctx context.Context) error {
	var errs []error
	if m.autoAnnounce != nil {
		if err := m.autoAnnounce.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop auto-announce: %w", err))
		}
	}
	if m.resolution != nil {
		if err := m.resolution.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop identity resolution: %w", err))
		}
	}
	if m.propagation != nil {
		if err := m.propagation.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop propagation: %w", err))
		}
	}
	return errors.Join(errs...)
}

// initialize builds a fresh config from snap and brings the runtime up.
// Reseed failures are logged; the runtime is already live by then.
func (m *Manager) initialize(ctx context.Context, log *slog.Logger, snap snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("skip initialize: %w", err)
	}
	cfg, err := m.build(snap.interfaces, snap.settings)
	if err != nil {
		return fmt.Errorf("build runtime config: %w", err)
	}

	if err := m.runtime.Initialize(ctx, cfg); err != nil {
		return err
	}
	log.Info("runtime initialized", "fingerprint", shortFingerprint(cfg), "interfaces", cfg.InterfaceNames())

	if m.reseeder != nil {
		if err := m.reseeder.Reseed(ctx, snap.reseed); err != nil {
			log.Warn("reseed failed", "err", err)
		}
	}
	return nil
}

func (m *Manager) startCollector(ctx context.Context) error {
	if m.collector == nil {
		return nil
	}
	if err := m.collector.StartCollecting(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	return nil
}

// startManagers mirrors stopManagers. Identity resolution gets the
// application scope, not ctx.
func (m *Manager) startManagers(ctx context.Context) error {
	var errs []error
	if m.autoAnnounce != nil {
		if err := m.autoAnnounce.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start auto-announce: %w", err))
		}
	}
	if m.resolution != nil {
		if err := m.resolution.Start(m.scope); err != nil {
			errs = append(errs, fmt.Errorf("start identity resolution: %w", err))
		}
	}
	if m.propagation != nil {
		if err := m.propagation.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start propagation: %w", err))
		}
	}
	return errors.Join(errs...)
}

func shortFingerprint(cfg runtimeconfig.Config) string {
	fp := cfg.Fingerprint()
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
