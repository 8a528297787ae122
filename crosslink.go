// Package crosslink connects a node to named remote clusters.
//
// Every remote cluster is registered under an alias in the dynamic
// settings and reached either by sniffing qualifying nodes from a list of
// seeds or through a single proxy address. Each alias owns a pool of live
// connections that is rebuilt when, and only when, its own settings change.
//
// Basic usage:
//
//	manager, err := crosslink.New(crosslink.DefaultConfig())
//	settings := crosslink.NewSettingsBuilder().
//	    PutList("cluster.remote.eu.seeds", "10.0.0.1:9400").
//	    Build()
//	report, err := manager.Start(ctx, settings)
//	conn, err := manager.GetConnection("eu")
package crosslink

import (
	"github.com/eleven-am/crosslink/internal/core"
	"github.com/eleven-am/crosslink/internal/core/registry"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// Manager owns the remote cluster connections of one node.
type Manager = core.Manager

// Option customizes a Manager at construction.
type Option = core.Option

// Settings is an immutable snapshot of dynamic settings keyed by dotted
// names such as cluster.remote.<alias>.seeds.
type Settings = domain.Settings

// SettingsBuilder assembles a Settings snapshot.
type SettingsBuilder = domain.SettingsBuilder

// RemoteClusterConfig is the effective configuration of one alias.
type RemoteClusterConfig = domain.RemoteClusterConfig

// Connection is a live link to one remote endpoint.
type Connection = ports.Connection

// Transport opens links to remote endpoints.
type Transport = ports.Transport

// UpdateReport lists the aliases a settings change touched and the aliases
// that failed their first connect.
type UpdateReport = registry.UpdateReport

// Resolution splits a fan-out target list into usable, skipped and failed
// aliases.
type Resolution = registry.Resolution

// AliasInfo is the introspection view of one alias.
type AliasInfo = registry.AliasInfo

// PoolState is the aggregate health of an alias' connection pool.
type PoolState = domain.PoolState

const (
	PoolUninitialized = domain.PoolUninitialized
	PoolConnecting    = domain.PoolConnecting
	PoolConnected     = domain.PoolConnected
	PoolDegraded      = domain.PoolDegraded
	PoolDisconnected  = domain.PoolDisconnected
)

// Secret is a credential that formats as a placeholder everywhere.
type Secret = domain.Secret

// Error types surfaced by the manager.
type (
	ValidationError = domain.ValidationError
	ConnectError    = domain.ConnectError
	LookupError     = domain.LookupError
)

var (
	ErrInvalidConfig  = domain.ErrInvalidConfig
	ErrTimeout        = domain.ErrTimeout
	ErrConnection     = domain.ErrConnection
	ErrNotFound       = domain.ErrNotFound
	ErrUnavailable    = domain.ErrUnavailable
	ErrClosed         = domain.ErrClosed
	ErrAlreadyStarted = domain.ErrAlreadyStarted
	ErrNotStarted     = domain.ErrNotStarted
)

// New builds a Manager. Zero fields of config are filled from
// DefaultConfig.
func New(config *Config, opts ...Option) (*Manager, error) {
	return core.New(config, opts...)
}

// WithTransport replaces the gRPC transport used to reach remote clusters.
func WithTransport(transport Transport) Option {
	return core.WithTransport(transport)
}

func NewSettingsBuilder() *SettingsBuilder {
	return domain.NewSettingsBuilder()
}

// SettingsFromMap flattens a nested settings document into dotted keys.
func SettingsFromMap(doc map[string]interface{}) (*Settings, error) {
	return domain.SettingsFromMap(doc)
}

// LoadSettingsFile reads a YAML or JSON settings document.
func LoadSettingsFile(path string) (*Settings, error) {
	return domain.LoadSettingsFile(path)
}

// ValidateSettings reports every malformed or unknown setting at once.
func ValidateSettings(settings *Settings) error {
	return domain.Validate(settings)
}

// ConfigFor computes the effective configuration of alias.
func ConfigFor(settings *Settings, alias string) (RemoteClusterConfig, error) {
	return domain.ConfigFor(settings, alias)
}

func IsValidation(err error) bool  { return domain.IsValidation(err) }
func IsNotFound(err error) bool    { return domain.IsNotFound(err) }
func IsTimeout(err error) bool     { return domain.IsTimeout(err) }
func IsUnavailable(err error) bool { return domain.IsUnavailable(err) }
func IsSkipped(err error) bool     { return domain.IsSkipped(err) }
