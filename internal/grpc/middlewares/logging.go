package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary call at debug level, failures at warn.
func LoggingInterceptor(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := logger.WithFields(logrus.Fields{
			"request_id": RequestID(ctx),
			"method":     info.FullMethod,
			"duration":   time.Since(start),
			"code":       status.Code(err).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc call failed")
		} else {
			entry.Debug("grpc call")
		}
		return resp, err
	}
}

// LoggingStreamInterceptor logs each stream when it ends.
func LoggingStreamInterceptor(logger *logrus.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		entry := logger.WithFields(logrus.Fields{
			"request_id": RequestID(ss.Context()),
			"method":     info.FullMethod,
			"duration":   time.Since(start),
			"code":       status.Code(err).String(),
		})
		if err != nil && status.Code(err) != codes.Canceled {
			entry.WithError(err).Warn("grpc stream failed")
		} else {
			entry.Debug("grpc stream closed")
		}
		return err
	}
}
