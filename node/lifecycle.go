package node

import (
	"context"
	"errors"
	"fmt"

	"meshnode/config"
	"meshnode/node/reconfig"
	"meshnode/node/trigger"

	"golang.org/x/sync/errgroup"
)

// Run brings the node up through one startup reconfiguration, then serves
// change requests until ctx is cancelled. Everything is stopped in reverse
// start order before Run returns.
func (n *Node) Run(ctx context.Context) error {
	if n.manager != nil {
		return errors.New("node already ran")
	}

	settings, err := n.config.Settings(ctx)
	if err != nil {
		n.log.Warn("read settings failed, using defaults", "err", err)
	}
	id, err := n.store.LoadOrCreateIdentity(ctx, settings.DisplayName)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	n.log.Info("identity loaded", "hash", id.Hash)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	n.manager = reconfig.New(n.runtime, n.managerOptions(gctx)...)

	if n.changes != nil {
		ch, err := n.changes.Watch(gctx)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		g.Go(func() error {
			n.forwardChanges(ch)
			return nil
		})
	}

	n.Request(ReasonStartup)

	g.Go(func() error { return n.queue.Run(gctx) })
	g.Go(func() error {
		n.report(n.queue.Results())
		return nil
	})
	if n.links != nil {
		lw := n.links(n.Request)
		g.Go(func() error {
			if err := lw.Run(gctx); err != nil {
				n.log.Warn("link watcher stopped", "err", err)
			}
			return nil
		})
	}

	n.log.Info("node running")
	runErr := g.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := n.shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	n.log.Info("node stopped")
	return runErr
}

func (n *Node) managerOptions(scope context.Context) []reconfig.Option {
	opts := []reconfig.Option{
		reconfig.WithInterfaces(n.config),
		reconfig.WithSettings(n.config),
		reconfig.WithIdentities(n.store),
		reconfig.WithPeers(n.store),
		reconfig.WithAnnounces(n.store),
		reconfig.WithReseeder(n.runtime),
		reconfig.WithCollector(n.collector),
		reconfig.WithAutoAnnounce(n.announce),
		reconfig.WithIdentityResolution(n.resolution),
		reconfig.WithPropagation(n.propagation),
		reconfig.WithScope(scope),
	}
	if n.recorder != nil {
		opts = append(opts, reconfig.WithRecorder(n.recorder))
	}
	if n.tracer != nil {
		opts = append(opts, reconfig.WithTracer(n.tracer))
	}
	return opts
}

func (n *Node) apply(ctx context.Context) error {
	return n.manager.ApplyInterfaceChanges(ctx)
}

// forwardChanges turns config changes into requests until ch closes.
func (n *Node) forwardChanges(ch <-chan config.Change) {
	for c := range ch {
		n.log.Info("node config changed", "interfaces", c.Interfaces.Names())
		n.Request(ReasonConfigChanged)
	}
}

// report logs every finished run and updates health. The first result
// marks the node as started.
func (n *Node) report(results <-chan trigger.Result) {
	first := true
	for res := range results {
		switch {
		case errors.Is(res.Err, reconfig.ErrNotApplied):
			n.log.Info("reconfiguration skipped", "run", res.ID, "reason", res.Reason, "err", res.Err)
		case res.Err != nil:
			n.log.Error(reconfig.UserMessage, "run", res.ID, "reason", res.Reason, "err", res.Err)
			n.setServing(false)
		default:
			n.log.Info("network configuration applied", "run", res.ID, "reason", res.Reason,
				"elapsed", res.Finished.Sub(res.Started))
			n.setServing(true)
		}
		if first {
			close(n.started)
			first = false
		}
	}
	if first {
		close(n.started)
	}
}

func (n *Node) setServing(serving bool) {
	if n.health != nil {
		n.health.SetServing(serving)
	}
}

// shutdown stops dependents in the reconfiguration's stop order, then the
// runtime. It continues through errors.
func (n *Node) shutdown(ctx context.Context) error {
	var errs []error
	if err := n.collector.StopCollecting(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop collector: %w", err))
	}
	if err := n.announce.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop auto-announce: %w", err))
	}
	if err := n.resolution.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop identity resolution: %w", err))
	}
	if err := n.propagation.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop propagation: %w", err))
	}
	if err := n.runtime.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown runtime: %w", err))
	}
	if n.recorder != nil {
		n.recorder.SetRuntimeUp(false)
	}
	n.setServing(false)
	return errors.Join(errs...)
}
