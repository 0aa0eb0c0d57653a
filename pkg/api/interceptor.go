package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary call with its status code and
// duration. Failed calls are logged at warn level.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Stringer("code", status.Code(err)).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")

		return resp, err
	}
}
