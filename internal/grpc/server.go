// Package grpc exposes the approval and permission operations to internal
// tooling over gRPC, next to the standard health and reflection services.
package grpc

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps the gRPC server
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(admin *AdminServer, sessions SessionVerifier, port string, logger *zap.Logger) (*Server, error) {
	// Create listener - net.Listen is standard for gRPC server setup
	lis, err := net.Listen("tcp", ":"+port) //nolint:noctx // Server initialization doesn't require context
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}

	logger.Info("gRPC server configured", zap.String("port", port))
	return newServer(lis, admin, sessions, logger), nil
}

func newServer(lis net.Listener, admin *AdminServer, sessions SessionVerifier, logger *zap.Logger) *Server {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingInterceptor(logger),
			authInterceptor(sessions, logger),
		),
	)

	RegisterAdminServiceServer(grpcServer, admin)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Register reflection service for development (allows tools like grpcurl)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		listener:   lis,
		logger:     logger,
	}
}

// Serve starts the gRPC server
func (s *Server) Serve() error {
	s.logger.Info("starting gRPC server", zap.String("address", s.listener.Addr().String()))

	if err := s.grpcServer.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// GracefulStop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.logger.Info("gracefully stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Stop immediately stops the gRPC server
func (s *Server) Stop() {
	s.logger.Info("stopping gRPC server")
	s.grpcServer.Stop()
}
