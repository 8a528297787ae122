package crosslink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/crosslink/internal/testutil/remote"
)

func TestConfigBuilder(t *testing.T) {
	config := NewConfigBuilder("node-1", "127.0.0.1:9400").
		WithClusterName("edge").
		WithServer("k1").
		WithObservability(9191).
		WithReconnect(50*time.Millisecond, time.Second).
		WithSelection("least_recently_used").
		Build()

	assert.Equal(t, "node-1", config.NodeID)
	assert.Equal(t, "edge", config.ClusterName)
	assert.True(t, config.Server.Enabled)
	assert.Equal(t, []Secret{"k1"}, config.Server.APIKeys)
	assert.Equal(t, 9191, config.Observability.Port)
	assert.Equal(t, "least_recently_used", config.Pool.Selection)
	assert.Equal(t, DefaultSniffConfig(), config.Sniff)
}

func TestManager_EndToEndWithInMemoryTransport(t *testing.T) {
	network := remote.NewNetwork()
	network.AddCluster("eu", "",
		remote.Node("n1", "10.0.0.1:9400", nil),
		remote.Node("n2", "10.0.0.2:9400", nil),
	)

	m, err := New(NewConfigBuilder("local", "127.0.0.1:0").Build(), WithTransport(network))
	require.NoError(t, err)
	defer m.Stop()

	settings, err := SettingsFromMap(map[string]interface{}{
		"cluster.remote.eu.seeds":                   []interface{}{"10.0.0.1:9400"},
		"cluster.remote.eu.connections_per_cluster": 2,
	})
	require.NoError(t, err)
	require.NoError(t, ValidateSettings(settings))

	report, err := m.Start(context.Background(), settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu"}, report.Changed)

	conn, err := m.GetConnection("eu")
	require.NoError(t, err)
	assert.Equal(t, "eu", conn.Alias())

	_, err = m.GetConnection("us")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
}
