package domain

import (
	"log/slog"
	"time"
)

// Config is the process level configuration. It is fixed for the lifetime
// of a Manager; remote cluster definitions live in Settings instead.
type Config struct {
	NodeID      string       `json:"node_id" yaml:"node_id"`
	NodeName    string       `json:"node_name" yaml:"node_name"`
	ClusterName string       `json:"cluster_name" yaml:"cluster_name"`
	BindAddr    string       `json:"bind_addr" yaml:"bind_addr"`
	Logger      *slog.Logger `json:"-" yaml:"-"`

	Transport     TransportConfig     `json:"transport" yaml:"transport"`
	Pool          PoolConfig          `json:"pool" yaml:"pool"`
	Reconnect     ReconnectConfig     `json:"reconnect" yaml:"reconnect"`
	Sniff         SniffConfig         `json:"sniff" yaml:"sniff"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

type TransportConfig struct {
	EnableTLS        bool          `json:"enable_tls" yaml:"enable_tls"`
	TLSCertFile      string        `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile       string        `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`
	TLSCAFile        string        `json:"tls_ca_file,omitempty" yaml:"tls_ca_file,omitempty"`
	MaxMessageSizeMB int           `json:"max_message_size_mb" yaml:"max_message_size_mb"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `json:"request_timeout" yaml:"request_timeout"`
	KeepAliveTime    time.Duration `json:"keepalive_time" yaml:"keepalive_time"`
	KeepAliveTimeout time.Duration `json:"keepalive_timeout" yaml:"keepalive_timeout"`
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// PoolConfig selects how a pool hands out its live connections:
// round_robin or least_recently_used.
type PoolConfig struct {
	Selection string `json:"selection" yaml:"selection"`
}

// ReconnectConfig shapes the capped exponential backoff used after a live
// connection is lost.
type ReconnectConfig struct {
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Multiplier     float64       `json:"multiplier" yaml:"multiplier"`
	Jitter         float64       `json:"jitter" yaml:"jitter"`
	WarnEvery      int           `json:"warn_every" yaml:"warn_every"`
}

type SniffConfig struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`
	ResniffPerSec float64       `json:"resniff_per_sec" yaml:"resniff_per_sec"`
	ResniffBurst  int           `json:"resniff_burst" yaml:"resniff_burst"`
}

// ServerConfig configures the endpoint other clusters sniff and connect to.
type ServerConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	APIKeys          []Secret `json:"-" yaml:"api_keys"`
	EnableRPCMetrics bool     `json:"enable_rpc_metrics" yaml:"enable_rpc_metrics"`
}

type ObservabilityConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}
