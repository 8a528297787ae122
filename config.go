package crosslink

import (
	"time"

	"github.com/eleven-am/crosslink/internal/domain"
)

type Config = domain.Config

type TransportConfig = domain.TransportConfig

type PoolConfig = domain.PoolConfig

type ReconnectConfig = domain.ReconnectConfig

type SniffConfig = domain.SniffConfig

type ServerConfig = domain.ServerConfig

type ObservabilityConfig = domain.ObservabilityConfig

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

func DefaultTransportConfig() TransportConfig {
	return domain.DefaultTransportConfig()
}

func DefaultReconnectConfig() ReconnectConfig {
	return domain.DefaultReconnectConfig()
}

func DefaultSniffConfig() SniffConfig {
	return domain.DefaultSniffConfig()
}

func DefaultObservabilityConfig() ObservabilityConfig {
	return domain.DefaultObservabilityConfig()
}

// LoadConfigFile reads a YAML or JSON process configuration and fills
// defaults.
func LoadConfigFile(path string) (*Config, error) {
	return domain.LoadConfigFile(path)
}

type ConfigBuilder struct {
	config *Config
}

func NewConfigBuilder(nodeID, bindAddr string) *ConfigBuilder {
	config := DefaultConfig()
	config.NodeID = nodeID
	config.BindAddr = bindAddr
	return &ConfigBuilder{config: config}
}

func (cb *ConfigBuilder) WithClusterName(name string) *ConfigBuilder {
	cb.config.ClusterName = name
	return cb
}

func (cb *ConfigBuilder) WithTLS(certFile, keyFile, caFile string) *ConfigBuilder {
	cb.config.Transport.EnableTLS = true
	cb.config.Transport.TLSCertFile = certFile
	cb.config.Transport.TLSKeyFile = keyFile
	cb.config.Transport.TLSCAFile = caFile
	return cb
}

// WithServer accepts inbound handshakes from remote clusters. With no keys
// every caller is accepted.
func (cb *ConfigBuilder) WithServer(apiKeys ...Secret) *ConfigBuilder {
	cb.config.Server.Enabled = true
	cb.config.Server.APIKeys = append(cb.config.Server.APIKeys, apiKeys...)
	return cb
}

func (cb *ConfigBuilder) WithObservability(port int) *ConfigBuilder {
	cb.config.Observability.Enabled = true
	cb.config.Observability.Port = port
	return cb
}

func (cb *ConfigBuilder) WithReconnect(initial, max time.Duration) *ConfigBuilder {
	cb.config.Reconnect.InitialBackoff = initial
	cb.config.Reconnect.MaxBackoff = max
	return cb
}

func (cb *ConfigBuilder) WithSniffInterval(interval time.Duration) *ConfigBuilder {
	cb.config.Sniff.Interval = interval
	return cb
}

// WithSelection picks the checkout algorithm: round_robin or
// least_recently_used.
func (cb *ConfigBuilder) WithSelection(algorithm string) *ConfigBuilder {
	cb.config.Pool.Selection = algorithm
	return cb
}

func (cb *ConfigBuilder) Build() *Config {
	return cb.config
}
