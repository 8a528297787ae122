package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eleven-am/crosslink/internal/domain"
)

func TestLocalCluster_Apply(t *testing.T) {
	config := domain.DefaultConfig()
	config.NodeID = "n1"
	config.NodeName = "n1"
	local := NewLocalCluster(config)

	assert.Equal(t, "crosslink", local.ClusterName())
	assert.True(t, local.LocalNode().HasRole(domain.RoleRemoteClusterClient))

	local.Apply(domain.NewSettingsBuilder().
		Put("cluster.name", "prod").
		Put("node.name", "edge-1").
		PutList("node.roles", "data", "remote_cluster_client").
		Put("node.attr.gateway", "true").
		Build())

	node := local.LocalNode()
	assert.Equal(t, "prod", local.ClusterName())
	assert.Equal(t, "edge-1", node.Name)
	assert.Equal(t, "n1", node.ID)
	assert.False(t, node.HasRole(domain.RoleMaster))
	assert.True(t, node.Qualifies("gateway"))
}

func TestLocalCluster_Nodes(t *testing.T) {
	config := domain.DefaultConfig()
	config.NodeID = "n1"
	local := NewLocalCluster(config)
	local.SetAddress("10.0.0.1:9400")

	local.SetNodes([]domain.DiscoveryNode{
		{ID: "n1", Address: "stale:1"},
		{ID: "n2", Address: "10.0.0.2:9400"},
	})

	nodes := local.Nodes()
	assert.Len(t, nodes, 2)
	assert.Equal(t, "10.0.0.1:9400", nodes[0].Address)
	assert.Equal(t, "n2", nodes[1].ID)

	nodes[0].Attributes["mutated"] = "true"
	assert.NotContains(t, local.LocalNode().Attributes, "mutated")
}
