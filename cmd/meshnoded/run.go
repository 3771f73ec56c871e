package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"meshnode/config"
	"meshnode/infra/health"
	"meshnode/infra/netwatch"
	"meshnode/infra/rnsd"
	"meshnode/infra/sqlite"
	"meshnode/internal/metrics"
	"meshnode/node"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const dbFileName = "node.db"

type runOptions struct {
	metricsAddr string
	noLinkWatch bool
}

func runCmd(g *globals) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, *g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	cmd.Flags().BoolVar(&opts.noLinkWatch, "no-link-watch", false, "Do not reconfigure on host link changes")
	return cmd
}

func runNode(ctx context.Context, g globals, opts runOptions) error {
	if err := ensureConfig(g.configPath); err != nil {
		return err
	}

	store, err := sqlite.Open(filepath.Join(g.dataDir, dbFileName))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("close store failed", "err", err)
		}
	}()

	source := config.NewFileSource(g.configPath)
	healthSrv := health.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	var n *node.Node
	rt := rnsd.New(g.dataDir,
		rnsd.WithAnnounceStore(store),
		rnsd.WithExitHandler(func(error) { n.Request(node.ReasonRuntimeExited) }),
	)
	defer rt.Close()

	nodeOpts := []node.Option{
		node.WithChanges(config.NewWatcher(source)),
		node.WithHealth(healthSrv),
		node.WithRecorder(recorder),
	}
	if !opts.noLinkWatch {
		nodeOpts = append(nodeOpts, node.WithLinkWatcher(func(request func(string)) node.LinkWatcher {
			return netwatch.New(request)
		}))
	}
	n = node.New(rt, store, source, nodeOpts...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("starting node", "config", g.configPath, "data", g.dataDir)

		// Notify systemd that the daemon is ready once the first apply is done.
		go func() {
			select {
			case <-n.Started():
				if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
					slog.Error("notify systemd failed", "err", err)
				}
			case <-ctx.Done():
			}
		}()

		return n.Run(ctx)
	})
	eg.Go(func() error { return healthSrv.ListenAndServe(ctx, healthSocket(g)) })
	if opts.metricsAddr != "" {
		eg.Go(func() error { return metrics.NewServer(opts.metricsAddr, reg).ListenAndServe(ctx) })
	}
	return eg.Wait()
}

// ensureConfig writes the default node file on first run.
func ensureConfig(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat node config: %w", err)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	slog.Info("wrote default node config", "path", path)
	return nil
}

func healthSocket(g globals) string {
	return filepath.Join(g.dataDir, "health.sock")
}
