// Package remote simulates remote clusters in memory so pools and
// strategies can be exercised without sockets.
package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

type cluster struct {
	name       string
	credential domain.Secret
	nodes      []domain.DiscoveryNode
}

// Network is an in-memory ports.Transport. Every node address and proxy
// address registered on it accepts handshakes and connections.
type Network struct {
	mu         sync.Mutex
	endpoints  map[string]*cluster
	refused    map[string]bool
	hanging    map[string]bool
	opens      map[string]int
	handshakes []string
	live       map[string]*Connection
	closed     bool
}

var _ ports.Transport = (*Network)(nil)

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*cluster),
		refused:   make(map[string]bool),
		hanging:   make(map[string]bool),
		opens:     make(map[string]int),
		live:      make(map[string]*Connection),
	}
}

// Node builds a qualifying remote node with the given attributes.
func Node(id, address string, attrs map[string]string) domain.DiscoveryNode {
	return domain.DiscoveryNode{
		ID:         id,
		Name:       id,
		Address:    address,
		Attributes: attrs,
		Roles:      []domain.Role{domain.RoleData, domain.RoleRemoteClusterClient},
	}
}

// AddCluster registers a remote cluster and makes every node address
// reachable. A non-empty credential is required on every call.
func (n *Network) AddCluster(name string, credential domain.Secret, nodes ...domain.DiscoveryNode) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &cluster{name: name, credential: credential, nodes: slices.Clone(nodes)}
	for _, node := range nodes {
		n.endpoints[node.Address] = c
	}
}

// AddProxy registers a single address fronting cluster name.
func (n *Network) AddProxy(address, name string, credential domain.Secret) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[address] = &cluster{name: name, credential: credential}
}

// SetNodes replaces the topology reported by cluster name. Addresses of the
// new nodes become reachable; removed ones stay reachable until Refuse.
func (n *Network) SetNodes(name string, nodes ...domain.DiscoveryNode) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.endpoints {
		if c.name == name {
			c.nodes = slices.Clone(nodes)
			for _, node := range nodes {
				n.endpoints[node.Address] = c
			}
			return
		}
	}
}

func (n *Network) Refuse(address string, refuse bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refused[address] = refuse
}

// Hang makes attempts against address block until their context ends.
func (n *Network) Hang(address string, hang bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hanging[address] = hang
}

// Drop simulates peer failure for every live connection to address.
func (n *Network) Drop(address string) int {
	n.mu.Lock()
	var victims []*Connection
	for _, c := range n.live {
		if c.endpoint == address && !c.lost.Load() {
			victims = append(victims, c)
		}
	}
	n.mu.Unlock()

	for _, c := range victims {
		c.Lose()
	}
	return len(victims)
}

func (n *Network) OpenCount(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens[address]
}

func (n *Network) Handshakes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.handshakes)
}

// Live returns the endpoints of open connections, sorted.
func (n *Network) Live(alias string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []string
	for _, c := range n.live {
		if c.alias == alias && !c.lost.Load() {
			out = append(out, c.endpoint)
		}
	}
	slices.Sort(out)
	return out
}

func (n *Network) reach(ctx context.Context, address string, credential domain.Secret) (*cluster, error) {
	n.mu.Lock()
	closed := n.closed
	hang := n.hanging[address]
	refused := n.refused[address]
	c, ok := n.endpoints[address]
	n.mu.Unlock()

	if closed {
		return nil, domain.ErrClosed
	}
	if hang {
		<-ctx.Done()
		return nil, domain.Error{Type: domain.ErrorTypeTimeout, Message: "timed out connecting to " + address, Cause: ctx.Err()}
	}
	if !ok || refused {
		return nil, domain.NewConnectionError(address, fmt.Errorf("connection refused"))
	}
	if c.credential.IsSet() && c.credential != credential {
		return nil, domain.Error{Type: domain.ErrorTypeUnauthorized, Message: "credential rejected by " + address}
	}
	return c, nil
}

func (n *Network) Handshake(ctx context.Context, req ports.HandshakeRequest) (*ports.HandshakeResponse, error) {
	n.mu.Lock()
	n.handshakes = append(n.handshakes, req.Address)
	n.mu.Unlock()

	c, err := n.reach(ctx, req.Address, req.Credential)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return &ports.HandshakeResponse{
		ClusterName: c.name,
		NodeID:      "node@" + req.Address,
		Nodes:       slices.Clone(c.nodes),
	}, nil
}

func (n *Network) Open(ctx context.Context, req ports.OpenRequest) (ports.Connection, error) {
	if _, err := n.reach(ctx, req.Address, req.Credential); err != nil {
		return nil, err
	}

	conn := &Connection{
		id:       uuid.NewString(),
		alias:    req.Alias,
		endpoint: req.Address,
		nodeID:   req.NodeID,
		done:     make(chan struct{}),
		network:  n,
	}
	conn.MarkUsed()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, domain.ErrClosed
	}
	n.opens[req.Address]++
	n.live[conn.id] = conn
	return conn, nil
}

func (n *Network) Close() error {
	n.mu.Lock()
	n.closed = true
	conns := make([]*Connection, 0, len(n.live))
	for _, c := range n.live {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

func (n *Network) forget(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.live, id)
}

// Connection is the in-memory ports.Connection handed out by Network.
type Connection struct {
	id       string
	alias    string
	endpoint string
	nodeID   string
	network  *Network

	done     chan struct{}
	doneOnce sync.Once
	closed   atomic.Bool
	lost     atomic.Bool
	lastUsed atomic.Int64
}

var _ ports.Connection = (*Connection)(nil)

// NewConnection builds a detached connection for selector and pool tests.
func NewConnection(alias, endpoint string) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		alias:    alias,
		endpoint: endpoint,
		done:     make(chan struct{}),
	}
	c.MarkUsed()
	return c
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) Alias() string    { return c.alias }
func (c *Connection) Endpoint() string { return c.endpoint }
func (c *Connection) NodeID() string   { return c.nodeID }

func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) IsClosed() bool { return c.closed.Load() }

func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() || c.lost.Load() {
		return domain.Error{Type: domain.ErrorTypeUnavailable, Message: "connection to " + c.endpoint + " is down", Cause: domain.ErrClosed}
	}
	return ctx.Err()
}

func (c *Connection) Conn() grpc.ClientConnInterface { return nil }

func (c *Connection) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

func (c *Connection) MarkUsed() { c.lastUsed.Store(time.Now().UnixNano()) }

// SetLastUsed backdates the connection for selector tests.
func (c *Connection) SetLastUsed(t time.Time) { c.lastUsed.Store(t.UnixNano()) }

// Lose reports the connection as failed without closing it.
func (c *Connection) Lose() {
	c.lost.Store(true)
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.doneOnce.Do(func() { close(c.done) })
	if c.network != nil {
		c.network.forget(c.id)
	}
	return nil
}
