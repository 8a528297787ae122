package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	grpcadapter "github.com/eleven-am/crosslink/internal/adapters/grpc"
	"github.com/eleven-am/crosslink/internal/adapters/metrics"
	"github.com/eleven-am/crosslink/internal/adapters/observability"
	"github.com/eleven-am/crosslink/internal/adapters/strategy"
	"github.com/eleven-am/crosslink/internal/core/registry"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
	"github.com/eleven-am/crosslink/internal/readiness"
)

// Manager owns the remote cluster registry of one node together with the
// transport server remote clusters connect to and the HTTP introspection
// server.
type Manager struct {
	config        *domain.Config
	logger        *slog.Logger
	transport     ports.Transport
	ownsTransport bool

	metrics   *prometheus.Registry
	collector *metrics.Collector
	registry  *registry.Registry
	local     *LocalCluster
	server    *grpcadapter.GRPCServer
	http      *observability.Server

	lifecycle *readiness.Tracker

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Manager)

// WithTransport replaces the gRPC transport used to reach remote clusters.
// The manager does not close a transport it did not create.
func WithTransport(transport ports.Transport) Option {
	return func(m *Manager) {
		m.transport = transport
	}
}

// New builds a Manager from config. A nil config uses DefaultConfig; zero
// fields are filled from the defaults.
func New(config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := domain.ApplyDefaults(config); err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "crosslink", "node_id", config.NodeID)

	m := &Manager{
		config:    config,
		logger:    logger,
		metrics:   prometheus.NewRegistry(),
		local:     NewLocalCluster(config),
		lifecycle: readiness.NewTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.transport == nil {
		m.transport = grpcadapter.NewGRPCTransport(logger, grpcadapter.ClientConfigFrom(config))
		m.ownsTransport = true
	}

	m.collector = metrics.NewCollector(m.metrics)

	factory := strategy.NewFactory(strategy.Dependencies{
		Transport: m.transport,
		Sniff:     config.Sniff,
		Observer:  m.collector,
		Logger:    logger,
	})

	reg, err := registry.New(registry.Config{
		Selection: config.Pool.Selection,
		Reconnect: config.Reconnect,
	}, factory, m.collector, logger)
	if err != nil {
		return nil, err
	}
	m.registry = reg

	if config.Server.Enabled {
		m.server = grpcadapter.NewGRPCServer(logger, grpcadapter.ServerConfigFrom(config), m.local)
	}
	if config.Observability.Enabled {
		m.http = observability.NewServer(config.Observability, introspector{m}, prometheus.Gatherers{m.metrics, prometheus.DefaultGatherer}, logger)
	}

	return m, nil
}

// Start applies the initial settings and brings every configured alias up.
// Aliases that fail their first connect are reported, not returned as an
// error; they keep retrying in the background.
func (m *Manager) Start(ctx context.Context, settings *domain.Settings) (*registry.UpdateReport, error) {
	m.mu.Lock()
	switch m.lifecycle.State() {
	case readiness.StateCreated:
	case readiness.StateStopped:
		m.mu.Unlock()
		return nil, domain.ErrClosed
	default:
		m.mu.Unlock()
		return nil, domain.ErrAlreadyStarted
	}
	if settings == nil {
		settings = domain.EmptySettings
	}
	if err := domain.Validate(settings); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.local.Apply(settings)

	if m.server != nil {
		if err := m.server.Start(m.ctx); err != nil {
			m.cancel()
			m.mu.Unlock()
			return nil, err
		}
		m.local.SetAddress(m.server.GetAddress())
	}
	if m.http != nil {
		go func(ctx context.Context) {
			if err := m.http.Start(ctx); err != nil {
				m.logger.Error("observability server stopped", "error", err)
			}
		}(m.ctx)
	}
	m.lifecycle.SetState(readiness.StateStarting)
	m.mu.Unlock()

	report, err := m.registry.Load(ctx, settings)
	if err != nil {
		// A failed start leaves nothing serving.
		if stopErr := m.Stop(); stopErr != nil {
			m.logger.Warn("cleanup after failed start reported errors", "error", stopErr)
		}
		return nil, err
	}
	m.lifecycle.SetState(readiness.StateReady)

	m.logger.Info("remote cluster service started",
		"aliases", len(m.registry.ListAliases()),
		"connect_errors", len(report.ConnectErrors),
		"disabled", m.registry.Disabled())
	return report, nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.lifecycle.State() == readiness.StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.lifecycle.SetState(readiness.StateStopped)
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := m.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.server != nil {
		if err := m.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.ownsTransport {
		if err := m.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.Info("remote cluster service stopped")
	return errors.Join(errs...)
}

// WaitUntilReady blocks until Start has applied the initial settings.
func (m *Manager) WaitUntilReady(ctx context.Context) error {
	return m.lifecycle.WaitUntilReady(ctx)
}

// GetConnection checks out a live connection to alias.
func (m *Manager) GetConnection(alias string) (ports.Connection, error) {
	return m.registry.GetConnection(alias)
}

func (m *Manager) IsSkipUnavailable(alias string) bool {
	return m.registry.IsSkipUnavailable(alias)
}

func (m *Manager) ListAliases() []string {
	return m.registry.ListAliases()
}

func (m *Manager) ResolveTargets(aliases []string) registry.Resolution {
	return m.registry.ResolveTargets(aliases)
}

func (m *Manager) RemoteInfo() map[string]registry.AliasInfo {
	return m.registry.RemoteInfo()
}

// UpdateSettings replaces the dynamic settings with next. Only aliases whose
// effective configuration changed are rebuilt.
func (m *Manager) UpdateSettings(ctx context.Context, next *domain.Settings) (*registry.UpdateReport, error) {
	return m.registry.UpdateSettings(ctx, next)
}

// UpdateClusterSettings merges patch over the current settings. Nested
// documents are flattened to dotted keys and a null value removes the key,
// which resets it to its default.
func (m *Manager) UpdateClusterSettings(ctx context.Context, patch map[string]interface{}) (*registry.UpdateReport, error) {
	delta, err := domain.SettingsFromMap(patch)
	if err != nil {
		return nil, err
	}

	return m.registry.Update(ctx, func(current *domain.Settings) (*domain.Settings, error) {
		b := current.ToBuilder()
		for _, key := range delta.Keys() {
			value, _ := delta.Get(key)
			if value == nil {
				b.Remove(key)
				continue
			}
			b.Put(key, value)
		}
		return b.Build(), nil
	})
}

// ClusterSettings returns the current settings without filtered values.
func (m *Manager) ClusterSettings() *domain.Settings {
	return m.registry.Settings()
}

func (m *Manager) LocalCluster() *LocalCluster {
	return m.local
}

// Metrics is the registry the manager's collectors are registered with.
func (m *Manager) Metrics() *prometheus.Registry {
	return m.metrics
}

// ObservabilityAddress is empty until the HTTP server is listening.
func (m *Manager) ObservabilityAddress() string {
	if m.http == nil {
		return ""
	}
	return m.http.Address()
}

func (m *Manager) TransportAddress() string {
	if m.server == nil {
		return ""
	}
	return m.server.GetAddress()
}

type breakerReporter interface {
	BreakerStates() map[string]string
}

func (m *Manager) GetHealth() ports.HealthStatus {
	switch state := m.lifecycle.State(); state {
	case readiness.StateReady:
	case readiness.StateCreated:
		return ports.HealthStatus{Healthy: false, Error: "not started"}
	default:
		return ports.HealthStatus{Healthy: false, Error: state.String()}
	}

	details := map[string]interface{}{
		"node_id": m.config.NodeID,
		"cluster": m.local.ClusterName(),
	}
	if m.registry.Disabled() {
		details["remote_cluster_client"] = "disabled"
	}
	for alias, info := range m.registry.RemoteInfo() {
		details["remote."+alias] = info.State.String()
	}
	if br, ok := m.transport.(breakerReporter); ok {
		for address, state := range br.BreakerStates() {
			details["breaker."+address] = state
		}
	}
	return ports.HealthStatus{Healthy: true, Details: details}
}

// introspector adapts the manager to the HTTP server's view of it.
type introspector struct {
	m *Manager
}

var _ ports.RemoteIntrospector = introspector{}

func (i introspector) GetHealth() ports.HealthStatus {
	return i.m.GetHealth()
}

func (i introspector) RemoteInfo() interface{} {
	return i.m.RemoteInfo()
}

func (i introspector) ClusterSettings() map[string]interface{} {
	return i.m.ClusterSettings().AsMap()
}

func (i introspector) UpdateClusterSettings(ctx context.Context, patch map[string]interface{}) (*ports.SettingsUpdate, error) {
	report, err := i.m.UpdateClusterSettings(ctx, patch)
	if err != nil {
		return nil, err
	}

	update := &ports.SettingsUpdate{Acknowledged: true, Changed: report.Changed}
	if len(report.ConnectErrors) > 0 {
		update.ConnectErrors = make(map[string]string, len(report.ConnectErrors))
		for alias, err := range report.ConnectErrors {
			update.ConnectErrors[alias] = err.Error()
		}
	}
	return update, nil
}
