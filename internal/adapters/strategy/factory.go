package strategy

import (
	"fmt"
	"log/slog"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

type Dependencies struct {
	Transport ports.Transport
	Sniff     domain.SniffConfig
	Observer  ports.RemoteObserver
	Logger    *slog.Logger
}

// NewFactory returns the StrategyFactory that builds the strategy matching
// the mode of an alias.
func NewFactory(deps Dependencies) ports.StrategyFactory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = ports.NopObserver{}
	}

	return func(cfg domain.RemoteClusterConfig) (ports.ConnectionStrategy, error) {
		switch cfg.Mode {
		case domain.StrategySniff:
			return NewSniffStrategy(cfg, deps.Transport, deps.Sniff, deps.Observer, deps.Logger), nil
		case domain.StrategyProxy:
			return NewProxyStrategy(cfg, deps.Transport, deps.Logger), nil
		}
		return nil, domain.NewConfigurationError("strategy", fmt.Sprintf("unknown mode %q for alias %s", cfg.Mode, cfg.Alias), "use sniff or proxy")
	}
}
