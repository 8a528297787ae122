package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRoles(t *testing.T) {
	roles, err := NodeRoles(EmptySettings)
	require.NoError(t, err)
	assert.Equal(t, DefaultRoles, roles)
	assert.True(t, IsRemoteClusterClient(EmptySettings))

	withRole := NewSettingsBuilder().PutList("node.roles", "data", "remote_cluster_client").Build()
	assert.True(t, IsRemoteClusterClient(withRole))

	withoutRole := NewSettingsBuilder().PutList("node.roles", "master", "data").Build()
	assert.False(t, IsRemoteClusterClient(withoutRole))

	empty := NewSettingsBuilder().PutList("node.roles").Build()
	assert.False(t, IsRemoteClusterClient(empty))

	invalid := NewSettingsBuilder().PutList("node.roles", "wizard").Build()
	_, err = NodeRoles(invalid)
	assert.True(t, IsValidation(err))
	assert.False(t, IsRemoteClusterClient(invalid))
}

func TestNodeAttributes(t *testing.T) {
	s := NewSettingsBuilder().
		Put("node.attr.gateway", "true").
		Put("node.attr.rack", 7).
		Put("node.name", "n1").
		Build()

	assert.Equal(t, map[string]string{"gateway": "true", "rack": "7"}, NodeAttributes(s))
	assert.Empty(t, NodeAttributes(EmptySettings))
}

func TestDiscoveryNode_Qualifies(t *testing.T) {
	node := DiscoveryNode{
		ID:         "n1",
		Address:    "10.0.0.1:9400",
		Roles:      []Role{RoleData, RoleRemoteClusterClient},
		Attributes: map[string]string{"gateway": " TRUE ", "zone": "east"},
	}

	assert.True(t, node.Qualifies(""))
	assert.True(t, node.Qualifies("gateway"))
	assert.False(t, node.Qualifies("zone"))
	assert.False(t, node.Qualifies("missing"))

	noRole := node
	noRole.Roles = []Role{RoleData}
	assert.False(t, noRole.Qualifies(""))
	assert.False(t, noRole.Qualifies("gateway"))
}

func TestSortedRoles(t *testing.T) {
	assert.Equal(t,
		[]string{"data", "ingest", "master", "remote_cluster_client"},
		SortedRoles(DefaultRoles))
}
