// Package healthsrv exposes model availability through the standard gRPC
// health checking protocol, one service name per organ.
package healthsrv

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/logging"
)

// Server wraps a gRPC server publishing per-organ serving status.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// New registers the health service and publishes status for every organ.
// The empty service name reports the process itself and is always serving.
func New(status map[classifier.Organ]bool, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.Named("grpc_health"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, organ := range classifier.Organs() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if status[organ] {
			st = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(string(organ), st)
	}
	return s
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return logging.NewOperationError("healthsrv.serve", "", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
