package domain

import (
	"log/slog"
	"slices"
	"time"
)

type StrategyKind string

const (
	StrategySniff StrategyKind = "sniff"
	StrategyProxy StrategyKind = "proxy"
)

// Secret holds a credential that must never be rendered. Every formatting
// path (fmt, json, slog) prints a placeholder.
type Secret string

const filteredPlaceholder = "[filtered]"

func (s Secret) Reveal() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string { return filteredPlaceholder }

func (s Secret) GoString() string { return filteredPlaceholder }

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + filteredPlaceholder + `"`), nil
}

func (s Secret) LogValue() slog.Value { return slog.StringValue(filteredPlaceholder) }

// RemoteClusterConfig is the computed configuration of one alias with all
// defaults applied.
type RemoteClusterConfig struct {
	Alias                 string        `json:"alias"`
	Mode                  StrategyKind  `json:"mode"`
	Seeds                 []string      `json:"seeds,omitempty"`
	ProxyAddress          string        `json:"proxy_address,omitempty"`
	ServerName            string        `json:"server_name,omitempty"`
	NodeAttribute         string        `json:"node_attribute,omitempty"`
	ConnectionsPerCluster int           `json:"connections_per_cluster"`
	InitialConnectTimeout time.Duration `json:"initial_connect_timeout"`
	SkipUnavailable       bool          `json:"skip_unavailable"`
	Credential            Secret        `json:"-"`
}

// IsInert reports an alias with nothing to connect to. It stays listed but
// never produces a connection.
func (c RemoteClusterConfig) IsInert() bool {
	if c.Mode == StrategyProxy {
		return c.ProxyAddress == ""
	}
	return len(c.Seeds) == 0
}

// Equal compares every field, credentials included.
func (c RemoteClusterConfig) Equal(o RemoteClusterConfig) bool {
	return c.SkipUnavailable == o.SkipUnavailable &&
		c.InitialConnectTimeout == o.InitialConnectTimeout &&
		!RequiresRebuild(c, o)
}

// RequiresRebuild reports whether moving from old to next needs the pool to
// be torn down. skip_unavailable and the initial connect timeout are policy
// only and are applied in place.
func RequiresRebuild(old, next RemoteClusterConfig) bool {
	return old.Alias != next.Alias ||
		old.Mode != next.Mode ||
		!slices.Equal(old.Seeds, next.Seeds) ||
		old.ProxyAddress != next.ProxyAddress ||
		old.ServerName != next.ServerName ||
		old.NodeAttribute != next.NodeAttribute ||
		old.ConnectionsPerCluster != next.ConnectionsPerCluster ||
		old.Credential != next.Credential
}

// ConfigFor computes the configuration of alias from settings. Aliases that
// are absent from settings get every default.
func ConfigFor(settings *Settings, alias string) (RemoteClusterConfig, error) {
	cfg := RemoteClusterConfig{Alias: alias}
	var err error

	if cfg.Seeds, err = RemoteClusterSeeds.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	if cfg.ProxyAddress, err = RemoteClusterProxy.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	if cfg.ServerName, err = RemoteClusterServerName.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	if cfg.NodeAttribute, err = RemoteClusterNodeAttribute.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	if cfg.ConnectionsPerCluster, err = RemoteConnectionsPerCluster.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	if cfg.InitialConnectTimeout, err = RemoteInitialConnectTimeout.Get(settings); err != nil {
		return cfg, err
	}
	if cfg.SkipUnavailable, err = RemoteClusterSkipUnavailable.Concrete(alias).Get(settings); err != nil {
		return cfg, err
	}
	credential, err := RemoteClusterCredentials.Concrete(alias).Get(settings)
	if err != nil {
		return cfg, err
	}
	cfg.Credential = Secret(credential)

	mode, err := RemoteClusterMode.Concrete(alias).Get(settings)
	if err != nil {
		return cfg, err
	}
	switch {
	case mode != "":
		cfg.Mode = StrategyKind(mode)
	case cfg.ProxyAddress != "":
		cfg.Mode = StrategyProxy
	default:
		cfg.Mode = StrategySniff
	}

	return cfg, nil
}

// Diff returns the aliases whose computed configuration differs between
// old and next, including aliases added or removed.
func Diff(old, next *Settings) []string {
	oldAliases := Aliases(old)
	nextAliases := Aliases(next)
	seen := make(map[string]struct{})
	var changed []string

	consider := func(alias string) {
		if _, ok := seen[alias]; ok {
			return
		}
		seen[alias] = struct{}{}

		inOld := slices.Contains(oldAliases, alias)
		inNext := slices.Contains(nextAliases, alias)
		if inOld != inNext {
			changed = append(changed, alias)
			return
		}

		before, errBefore := ConfigFor(old, alias)
		after, errAfter := ConfigFor(next, alias)
		if errBefore != nil || errAfter != nil || !before.Equal(after) {
			changed = append(changed, alias)
		}
	}

	for _, alias := range oldAliases {
		consider(alias)
	}
	for _, alias := range nextAliases {
		consider(alias)
	}

	slices.Sort(changed)
	return changed
}
