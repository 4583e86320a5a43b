package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "streamchat.relay"

// healthServer serves the standard gRPC health protocol for the relay.
type healthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

func newHealthServer() *healthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &healthServer{grpc: srv, health: hs}
}

// serve blocks until ctx is done, then marks every service NOT_SERVING and
// stops gracefully.
func (h *healthServer) serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		errc <- h.grpc.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.grpc.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc health server: %w", err)
	}
}
