package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type contextKey string

const (
	requestIDKey contextKey = "requestID"

	requestIDMetadata = "x-request-id"
)

// ContextMiddleware tags the call with the caller's x-request-id, or a fresh
// one when absent.
func ContextMiddleware(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	return handler(context.WithValue(ctx, requestIDKey, incomingRequestID(ctx)), req)
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDMetadata); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.NewString()
}

// RequestID returns the id stored by ContextMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDStream carries the tagged context into a server stream.
type requestIDStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestIDStream) Context() context.Context { return s.ctx }

// ContextStreamMiddleware is the streaming counterpart of ContextMiddleware.
func ContextStreamMiddleware(
	srv interface{},
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	ctx := ss.Context()
	id := incomingRequestID(ctx)
	return handler(srv, &requestIDStream{ServerStream: ss, ctx: context.WithValue(ctx, requestIDKey, id)})
}
