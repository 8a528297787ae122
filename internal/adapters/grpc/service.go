package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/eleven-am/crosslink/internal/domain"
)

const (
	serviceName     = "crosslink.RemoteCluster"
	handshakeMethod = "/" + serviceName + "/Handshake"
)

type handshakeRequest struct {
	Alias       string `json:"alias"`
	ClusterName string `json:"cluster_name"`
	NodeID      string `json:"node_id"`
}

type handshakeResponse struct {
	ClusterName string                 `json:"cluster_name"`
	NodeID      string                 `json:"node_id"`
	Nodes       []domain.DiscoveryNode `json:"nodes"`
}

type remoteClusterServer interface {
	Handshake(ctx context.Context, req *handshakeRequest) (*handshakeResponse, error)
}

func handshakeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(handshakeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(remoteClusterServer).Handshake(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: handshakeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(remoteClusterServer).Handshake(ctx, req.(*handshakeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var remoteClusterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*remoteClusterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Handshake",
			Handler:    handshakeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crosslink/remote_cluster",
}

func invokeHandshake(ctx context.Context, cc grpc.ClientConnInterface, req *handshakeRequest) (*handshakeResponse, error) {
	out := new(handshakeResponse)
	if err := cc.Invoke(ctx, handshakeMethod, req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}
