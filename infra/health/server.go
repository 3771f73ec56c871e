// Package health serves the standard gRPC health service on a unix socket.
// The node reports SERVING while its last reconfiguration succeeded.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the node's network stack. The empty
// service name mirrors it.
const Service = "meshnode.Network"

type Server struct {
	health *health.Server
	log    *slog.Logger
}

// New starts out NOT_SERVING until the first SetServing(true).
func New() *Server {
	s := &Server{
		health: health.NewServer(),
		log:    slog.With("component", "health"),
	}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// ListenAndServe serves on socketPath until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	log := s.log.With("socket", socketPath)

	ln, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(socketPath) }()

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(srv, s.health)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	log.Debug("health listener started")

	select {
	case <-ctx.Done():
		log.Debug("shutting down health listener")
		s.health.Shutdown()
		srv.GracefulStop()
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	}
}

func listenUnix(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	// Remove stale socket from a previous run (may not exist).
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	return ln, nil
}
