package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
			"code", codeOf(err).String(),
		}
		if err != nil {
			logger.Warn("request failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("request completed", attrs...)
		}
		return resp, err
	}
}

func StreamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		attrs := []any{
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
			"code", codeOf(err).String(),
		}
		if err != nil && codeOf(err) != codes.Canceled {
			logger.Warn("stream failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("stream completed", attrs...)
		}
		return err
	}
}

// UnaryClientLoggingInterceptor tags outbound calls with the alias they
// were made for.
func UnaryClientLoggingInterceptor(logger *slog.Logger, alias string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		attrs := []any{
			"alias", alias,
			"method", method,
			"target", cc.Target(),
			"duration_ms", time.Since(start).Milliseconds(),
			"code", codeOf(err).String(),
		}
		if err != nil {
			logger.Debug("client request failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("client request completed", attrs...)
		}
		return err
	}
}
