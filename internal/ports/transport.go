package ports

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/eleven-am/crosslink/internal/domain"
)

// Transport opens links to remote endpoints. Implementations attach the
// alias credential to every outbound call and decide when an attempt has
// succeeded; the handshake itself is opaque to callers.
type Transport interface {
	Handshake(ctx context.Context, req HandshakeRequest) (*HandshakeResponse, error)
	Open(ctx context.Context, req OpenRequest) (Connection, error)
	Close() error
}

type HandshakeRequest struct {
	Alias      string
	Address    string
	ServerName string
	Credential domain.Secret
}

type HandshakeResponse struct {
	ClusterName string
	NodeID      string
	Nodes       []domain.DiscoveryNode
}

type OpenRequest struct {
	Alias      string
	Address    string
	NodeID     string
	ServerName string
	Credential domain.Secret
}

// Connection is a single established link to one remote endpoint. Done is
// closed once the link is lost or closed.
type Connection interface {
	ID() string
	Alias() string
	Endpoint() string
	NodeID() string
	Done() <-chan struct{}
	IsClosed() bool
	Ping(ctx context.Context) error
	Conn() grpc.ClientConnInterface
	LastUsed() time.Time
	MarkUsed()
	Close() error
}

// ClusterInfoProvider serves the local side of a handshake.
type ClusterInfoProvider interface {
	ClusterName() string
	LocalNode() domain.DiscoveryNode
	Nodes() []domain.DiscoveryNode
}

type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}
