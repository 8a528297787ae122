package core

import (
	"maps"
	"slices"
	"sync"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// LocalCluster describes this node to remote clusters that handshake with
// it. The node identity comes from the process config, overridden by the
// node scoped settings read at start.
type LocalCluster struct {
	mu          sync.RWMutex
	clusterName string
	local       domain.DiscoveryNode
	peers       []domain.DiscoveryNode
}

var _ ports.ClusterInfoProvider = (*LocalCluster)(nil)

func NewLocalCluster(config *domain.Config) *LocalCluster {
	return &LocalCluster{
		clusterName: config.ClusterName,
		local: domain.DiscoveryNode{
			ID:         config.NodeID,
			Name:       config.NodeName,
			Address:    config.BindAddr,
			Attributes: map[string]string{},
			Roles:      slices.Clone(domain.DefaultRoles),
		},
	}
}

// Apply reads cluster.name, node.name, node.roles and node.attr.* from
// settings. Invalid roles leave the current roles in place; Validate has
// already rejected them by the time a Manager calls this.
func (c *LocalCluster) Apply(settings *domain.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if domain.ClusterNameSetting.Exists(settings) {
		if name, err := domain.ClusterNameSetting.Get(settings); err == nil && name != "" {
			c.clusterName = name
		}
	}
	if domain.NodeNameSetting.Exists(settings) {
		if name, err := domain.NodeNameSetting.Get(settings); err == nil && name != "" {
			c.local.Name = name
		}
	}
	if roles, err := domain.NodeRoles(settings); err == nil {
		c.local.Roles = roles
	}
	c.local.Attributes = domain.NodeAttributes(settings)
}

// SetAddress records the address the transport server actually bound.
func (c *LocalCluster) SetAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local.Address = address
}

// SetNodes replaces the other members of the local cluster advertised in a
// handshake.
func (c *LocalCluster) SetNodes(nodes []domain.DiscoveryNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = slices.Clone(nodes)
}

func (c *LocalCluster) ClusterName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clusterName
}

func (c *LocalCluster) LocalNode() domain.DiscoveryNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneNode(c.local)
}

// Nodes returns the local node followed by its peers.
func (c *LocalCluster) Nodes() []domain.DiscoveryNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.DiscoveryNode, 0, len(c.peers)+1)
	out = append(out, cloneNode(c.local))
	for _, peer := range c.peers {
		if peer.ID == c.local.ID {
			continue
		}
		out = append(out, cloneNode(peer))
	}
	return out
}

func cloneNode(n domain.DiscoveryNode) domain.DiscoveryNode {
	n.Attributes = maps.Clone(n.Attributes)
	n.Roles = slices.Clone(n.Roles)
	return n
}
