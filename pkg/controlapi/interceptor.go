package controlapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs every unary RPC's method, duration, and outcome,
// grounded on the teacher's ReadOnlyInterceptor shape (a plain
// grpc.UnaryServerInterceptor closure) adapted from access control to
// structured audit logging, since §6 calls for every control-surface
// action to be observable.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Err(err).Uint32("grpc_code", uint32(status.Code(err)))
		}
		ev.Str("method", info.FullMethod).Dur("duration", time.Since(start)).Msg("controlapi: rpc handled")
		return resp, err
	}
}
