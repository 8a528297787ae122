package domain

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/eleven-am/crosslink/internal/xjson"
)

func DefaultConfig() *Config {
	return &Config{
		ClusterName:   "crosslink",
		BindAddr:      "0.0.0.0:9400",
		Transport:     DefaultTransportConfig(),
		Pool:          PoolConfig{Selection: "round_robin"},
		Reconnect:     DefaultReconnectConfig(),
		Sniff:         DefaultSniffConfig(),
		Observability: DefaultObservabilityConfig(),
	}
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableTLS:        false,
		MaxMessageSizeMB: 16,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 10 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		WarnEvery:      10,
	}
}

func DefaultSniffConfig() SniffConfig {
	return SniffConfig{
		Interval:      30 * time.Second,
		ResniffPerSec: 1,
		ResniffBurst:  1,
	}
}

func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ApplyDefaults fills every zero field of config from DefaultConfig and
// assigns a node id and logger when missing.
func ApplyDefaults(config *Config) error {
	if err := mergo.Merge(config, DefaultConfig()); err != nil {
		return NewConfigError("config", err)
	}
	if config.NodeID == "" {
		config.NodeID = uuid.New().String()
	}
	if config.NodeName == "" {
		config.NodeName = config.NodeID
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config.Validate()
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return NewConfigError("bind_addr", fmt.Errorf("must not be empty"))
	}
	if c.Reconnect.Multiplier < 1 {
		return NewConfigError("reconnect.multiplier", fmt.Errorf("must be >= 1, got %v", c.Reconnect.Multiplier))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return NewConfigError("reconnect.jitter", fmt.Errorf("must be within [0, 1], got %v", c.Reconnect.Jitter))
	}
	if c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff {
		return NewConfigError("reconnect.max_backoff", fmt.Errorf("must be >= initial_backoff"))
	}
	if c.Transport.EnableTLS && c.Transport.TLSCAFile == "" && c.Transport.TLSCertFile == "" {
		return NewConfigError("transport.tls", fmt.Errorf("enable_tls requires tls_ca_file or tls_cert_file"))
	}
	switch c.Pool.Selection {
	case "round_robin", "least_recently_used", "lru":
	default:
		return NewConfigError("pool.selection", fmt.Errorf("unknown algorithm %q", c.Pool.Selection))
	}
	if c.Sniff.Interval <= 0 {
		return NewConfigError("sniff.interval", fmt.Errorf("must be positive"))
	}
	return nil
}

// LoadConfigFile reads a YAML or JSON process configuration and applies
// defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, NewConfigurationError(path, "YAML parsing failed", "ensure the file contains valid YAML")
		}
	case strings.HasSuffix(path, ".json"):
		if err := xjson.Unmarshal(data, config); err != nil {
			return nil, NewConfigurationError(path, "JSON parsing failed", "ensure the file contains valid JSON")
		}
	default:
		return nil, NewConfigurationError(path, "unsupported config file format", "use .yaml, .yml or .json")
	}

	if err := ApplyDefaults(config); err != nil {
		return nil, err
	}
	return config, nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
