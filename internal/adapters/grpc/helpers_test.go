package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/eleven-am/crosslink/internal/domain"
)

const bufSize = 1024 * 1024

type bufNetwork struct {
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
}

func newBufNetwork() *bufNetwork {
	return &bufNetwork{listeners: make(map[string]*bufconn.Listener)}
}

func (n *bufNetwork) listen(addr string) *bufconn.Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := bufconn.Listen(bufSize)
	n.listeners[addr] = l
	return l
}

func (n *bufNetwork) dialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		n.mu.Lock()
		l, ok := n.listeners[addr]
		n.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("connection refused: %s", addr)
		}
		return l.DialContext(ctx)
	})
}

type staticClusterInfo struct {
	name  string
	local domain.DiscoveryNode
	nodes []domain.DiscoveryNode
}

func (s staticClusterInfo) ClusterName() string             { return s.name }
func (s staticClusterInfo) LocalNode() domain.DiscoveryNode { return s.local }
func (s staticClusterInfo) Nodes() []domain.DiscoveryNode   { return s.nodes }

func remoteNode(id, addr string) domain.DiscoveryNode {
	return domain.DiscoveryNode{
		ID:         id,
		Name:       id,
		Address:    addr,
		Attributes: map[string]string{"gateway": "true"},
		Roles:      []domain.Role{domain.RoleData, domain.RoleRemoteClusterClient},
	}
}

func startServer(t *testing.T, network *bufNetwork, addr string, keys ...domain.Secret) *GRPCServer {
	t.Helper()

	local := remoteNode("node-"+addr, addr)
	info := staticClusterInfo{
		name:  "remote-cluster",
		local: local,
		nodes: []domain.DiscoveryNode{local, remoteNode("peer-1", "10.0.0.9:9400")},
	}

	server := NewGRPCServer(slog.Default(), &ServerConfig{BindAddress: addr, APIKeys: keys}, info)
	if err := server.Serve(context.Background(), network.listen(addr)); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func newTestTransport(t *testing.T, network *bufNetwork) *GRPCTransport {
	t.Helper()

	transport := NewGRPCTransport(slog.Default(), &ClientConfig{
		ClusterName:      "local-cluster",
		NodeID:           "local-node",
		BreakerThreshold: 2,
		Scheme:           "passthrough",
		DialOptions:      []grpc.DialOption{network.dialOption()},
	})
	t.Cleanup(func() { transport.Close() })
	return transport
}
