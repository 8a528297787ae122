package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

const namespace = "crosslink"

// Collector exports remote cluster pool activity as Prometheus metrics.
type Collector struct {
	poolState         *prometheus.GaugeVec
	liveConnections   *prometheus.GaugeVec
	connectionsOpened *prometheus.CounterVec
	connectionsLost   *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	checkouts         *prometheus.CounterVec
	sniffs            *prometheus.CounterVec
	sniffCandidates   *prometheus.GaugeVec
	settingsUpdates   *prometheus.CounterVec
	aliasesChanged    prometheus.Counter
}

var _ ports.RemoteObserver = (*Collector)(nil)

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		poolState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_pool_state",
				Help:      "Current pool state per alias (0 uninitialized, 1 connecting, 2 connected, 3 degraded, 4 disconnected)",
			},
			[]string{"alias"},
		),
		liveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_live_connections",
				Help:      "Number of live connections per alias",
			},
			[]string{"alias"},
		),
		connectionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_connections_opened_total",
				Help:      "Total number of connections added to a pool",
			},
			[]string{"alias"},
		),
		connectionsLost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_connections_lost_total",
				Help:      "Total number of live connections lost to peer failure",
			},
			[]string{"alias"},
		),
		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_reconnect_attempts_total",
				Help:      "Total number of reconnect attempts",
			},
			[]string{"alias", "status"},
		),
		checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_checkouts_total",
				Help:      "Total number of connection lookups",
			},
			[]string{"alias", "status"},
		),
		sniffs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_sniff_total",
				Help:      "Total number of sniff rounds",
			},
			[]string{"alias", "status"},
		),
		sniffCandidates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_sniff_candidates",
				Help:      "Qualifying nodes found by the last successful sniff",
			},
			[]string{"alias"},
		),
		settingsUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_settings_updates_total",
				Help:      "Total number of applied settings updates",
			},
			[]string{"status"},
		),
		aliasesChanged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_aliases_changed_total",
				Help:      "Total number of alias pools rebuilt or updated by settings changes",
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (c *Collector) PoolStateChanged(alias string, _, to domain.PoolState) {
	c.poolState.WithLabelValues(alias).Set(float64(to))
}

func (c *Collector) ConnectionOpened(alias string, live int) {
	c.connectionsOpened.WithLabelValues(alias).Inc()
	c.liveConnections.WithLabelValues(alias).Set(float64(live))
}

func (c *Collector) ConnectionLost(alias string, live int) {
	c.connectionsLost.WithLabelValues(alias).Inc()
	c.liveConnections.WithLabelValues(alias).Set(float64(live))
}

func (c *Collector) ReconnectAttempt(alias string, err error) {
	c.reconnects.WithLabelValues(alias, status(err)).Inc()
}

func (c *Collector) Checkout(alias string, err error) {
	c.checkouts.WithLabelValues(alias, status(err)).Inc()
}

func (c *Collector) SniffCompleted(alias string, candidates int, err error) {
	c.sniffs.WithLabelValues(alias, status(err)).Inc()
	if err == nil {
		c.sniffCandidates.WithLabelValues(alias).Set(float64(candidates))
	}
}

func (c *Collector) SettingsApplied(changed int, err error) {
	c.settingsUpdates.WithLabelValues(status(err)).Inc()
	c.aliasesChanged.Add(float64(changed))
}

// Forget drops every series of alias once it is removed from settings.
func (c *Collector) Forget(alias string) {
	labels := prometheus.Labels{"alias": alias}
	c.poolState.DeletePartialMatch(labels)
	c.liveConnections.DeletePartialMatch(labels)
	c.connectionsOpened.DeletePartialMatch(labels)
	c.connectionsLost.DeletePartialMatch(labels)
	c.reconnects.DeletePartialMatch(labels)
	c.checkouts.DeletePartialMatch(labels)
	c.sniffs.DeletePartialMatch(labels)
	c.sniffCandidates.DeletePartialMatch(labels)
}
