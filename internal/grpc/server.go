// Package grpcserver serves the standard gRPC health protocol, reporting
// one service per sensor.
package grpcserver

import (
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	middleware "github.com/tejusbharadwaj/babelgas/internal/grpc/middlewares"
)

// SetupServer creates a gRPC server with the health service registered.
func SetupServer(health *HealthChecker, logger *logrus.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		middleware.ContextMiddleware,          // Add request ID first
		middleware.LoggingInterceptor(logger), // Log all requests (with request ID)
	), grpc.ChainStreamInterceptor(
		middleware.ContextStreamMiddleware,
		middleware.LoggingStreamInterceptor(logger),
	))
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, health)
	return srv
}
