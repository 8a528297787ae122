package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	config := &Config{BindAddr: "127.0.0.1:9500"}
	config.Reconnect.InitialBackoff = 50 * time.Millisecond

	require.NoError(t, ApplyDefaults(config))

	assert.Equal(t, "127.0.0.1:9500", config.BindAddr)
	assert.NotEmpty(t, config.NodeID)
	assert.Equal(t, config.NodeID, config.NodeName)
	assert.NotNil(t, config.Logger)
	assert.Equal(t, 50*time.Millisecond, config.Reconnect.InitialBackoff)
	assert.Equal(t, DefaultReconnectConfig().MaxBackoff, config.Reconnect.MaxBackoff)
	assert.Equal(t, "round_robin", config.Pool.Selection)
	assert.Equal(t, DefaultSniffConfig(), config.Sniff)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty bind address", func(c *Config) { c.BindAddr = "" }, "bind_addr"},
		{"multiplier below one", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "reconnect.multiplier"},
		{"jitter above one", func(c *Config) { c.Reconnect.Jitter = 1.5 }, "reconnect.jitter"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxBackoff = time.Millisecond }, "reconnect.max_backoff"},
		{"tls without files", func(c *Config) { c.Transport.EnableTLS = true }, "transport.tls"},
		{"unknown selection", func(c *Config) { c.Pool.Selection = "random" }, "pool.selection"},
		{"zero sniff interval", func(c *Config) { c.Sniff.Interval = 0 }, "sniff.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
node_id: edge-1
bind_addr: 0.0.0.0:9600
pool:
  selection: least_recently_used
server:
  enabled: true
  api_keys: [k1, k2]
`), 0o600))

	config, err := LoadConfigFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "edge-1", config.NodeID)
	assert.Equal(t, "0.0.0.0:9600", config.BindAddr)
	assert.Equal(t, "least_recently_used", config.Pool.Selection)
	assert.True(t, config.Server.Enabled)
	assert.Equal(t, []Secret{"k1", "k2"}, config.Server.APIKeys)
	assert.Equal(t, DefaultTransportConfig().MaxMessageSizeMB, config.Transport.MaxMessageSizeMB)

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"node_id":"edge-2","cluster_name":"prod"}`), 0o600))
	config, err = LoadConfigFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "edge-2", config.NodeID)
	assert.Equal(t, "prod", config.ClusterName)

	_, err = LoadConfigFile(filepath.Join(dir, "config.toml"))
	assert.Error(t, err)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("pool: [unclosed"), 0o600))
	_, err = LoadConfigFile(badPath)
	assert.True(t, IsValidation(err))
}
