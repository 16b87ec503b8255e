package grpc

import (
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// PushService est le nom de service dont le statut suit le canal push :
// NOT_SERVING tant que les événements viennent du polling.
const PushService = "feedsync.push"

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func NewServer() *Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(PushService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &Server{grpcServer: grpcServer, health: healthServer}
}

// SetDegraded est branché sur les changements de mode de la source d'événements.
func (s *Server) SetDegraded(degraded bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if degraded {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(PushService, status)
	slog.Debug("Health status updated", "service", PushService, "status", status.String())
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
