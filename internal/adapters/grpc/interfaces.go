package grpc

import (
	"context"
	"net"

	"github.com/eleven-am/crosslink/internal/ports"
)

type TransportClient interface {
	ports.Transport
	BreakerStates() map[string]string
}

type TransportServer interface {
	Start(ctx context.Context) error
	Serve(ctx context.Context, listener net.Listener) error
	Stop() error
	GetAddress() string
}

var (
	_ TransportClient  = (*GRPCTransport)(nil)
	_ TransportServer  = (*GRPCServer)(nil)
	_ ports.Connection = (*grpcConnection)(nil)
)
