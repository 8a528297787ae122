package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/crosslink/internal/domain"
)

const (
	authorizationHeader = "authorization"
	apiKeyScheme        = "ApiKey "
)

// apiKeyCredentials attaches an alias credential to every outbound call.
// An empty credential sends nothing.
type apiKeyCredentials struct {
	key        domain.Secret
	requireTLS bool
}

func (c apiKeyCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if !c.key.IsSet() {
		return nil, nil
	}
	return map[string]string{authorizationHeader: apiKeyScheme + c.key.Reveal()}, nil
}

func (c apiKeyCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}

// UnaryAuthInterceptor rejects calls that do not carry one of keys. With no
// keys configured every call is accepted.
func UnaryAuthInterceptor(keys []domain.Secret) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := authorize(ctx, keys); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(keys []domain.Secret) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorize(ss.Context(), keys); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func authorize(ctx context.Context, keys []domain.Secret) error {
	if len(keys) == 0 {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	for _, value := range md.Get(authorizationHeader) {
		presented, ok := strings.CutPrefix(value, apiKeyScheme)
		if !ok {
			continue
		}
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key.Reveal())) == 1 {
				return nil
			}
		}
	}
	return status.Error(codes.Unauthenticated, "missing or invalid remote cluster credentials")
}
