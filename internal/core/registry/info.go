package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/eleven-am/crosslink/internal/adapters/pool"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// AliasInfo is the introspection view of one alias. It never carries the
// credential.
type AliasInfo struct {
	Connected             bool             `json:"connected"`
	Mode                  string           `json:"mode"`
	Seeds                 []string         `json:"seeds,omitempty"`
	ProxyAddress          string           `json:"proxy_address,omitempty"`
	ServerName            string           `json:"server_name,omitempty"`
	NodeAttribute         string           `json:"node_attribute,omitempty"`
	NumConnected          int              `json:"num_connections_connected"`
	MaxConnections        int              `json:"max_connections_per_cluster"`
	InitialConnectTimeout string           `json:"initial_connect_timeout"`
	SkipUnavailable       bool             `json:"skip_unavailable"`
	CredentialConfigured  bool             `json:"credentials_configured"`
	State                 domain.PoolState `json:"state"`
	Pool                  *pool.Info       `json:"pool,omitempty"`
}

// RemoteInfo reports every configured alias.
func (r *Registry) RemoteInfo() map[string]AliasInfo {
	out := make(map[string]AliasInfo)
	for _, alias := range r.ListAliases() {
		e, err := r.lookup(alias)
		if err != nil {
			continue
		}
		cfg := e.config.Load()
		if cfg == nil {
			continue
		}

		info := AliasInfo{
			Mode:                  string(cfg.Mode),
			Seeds:                 slices.Clone(cfg.Seeds),
			ProxyAddress:          cfg.ProxyAddress,
			ServerName:            cfg.ServerName,
			NodeAttribute:         cfg.NodeAttribute,
			MaxConnections:        cfg.ConnectionsPerCluster,
			InitialConnectTimeout: cfg.InitialConnectTimeout.String(),
			SkipUnavailable:       e.skip.Load(),
			CredentialConfigured:  cfg.Credential.IsSet(),
			State:                 domain.PoolUninitialized,
		}
		if p := e.pool.Load(); p != nil {
			poolInfo := p.Info()
			info.Pool = &poolInfo
			info.State = poolInfo.State
			info.NumConnected = poolInfo.Live
			info.Connected = poolInfo.Live > 0
		}
		out[alias] = info
	}
	return out
}

// Resolution splits a set of aliases into the ones that produced a
// connection, the ones skipped under skip_unavailable and hard failures.
type Resolution struct {
	Connections map[string]ports.Connection
	Skipped     map[string]error
	Failed      map[string]error
}

// Err joins the hard failures in alias order, nil when there are none.
func (res Resolution) Err() error {
	if len(res.Failed) == 0 {
		return nil
	}
	aliases := make([]string, 0, len(res.Failed))
	for alias := range res.Failed {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)

	errs := make([]error, 0, len(aliases))
	for _, alias := range aliases {
		errs = append(errs, fmt.Errorf("remote cluster [%s]: %w", alias, res.Failed[alias]))
	}
	return errors.Join(errs...)
}

// ResolveTargets looks up one connection per alias for a fan-out caller.
// Unavailable aliases with skip_unavailable are reported as skipped; every
// other failure is a hard failure. No alias affects another.
func (r *Registry) ResolveTargets(aliases []string) Resolution {
	res := Resolution{
		Connections: make(map[string]ports.Connection),
		Skipped:     make(map[string]error),
		Failed:      make(map[string]error),
	}

	for _, alias := range aliases {
		if _, done := res.Connections[alias]; done {
			continue
		}
		conn, err := r.GetConnection(alias)
		switch {
		case err == nil:
			res.Connections[alias] = conn
		case domain.IsSkipped(err):
			res.Skipped[alias] = err
		default:
			res.Failed[alias] = err
		}
	}
	return res
}
