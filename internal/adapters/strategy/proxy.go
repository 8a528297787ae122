package strategy

import (
	"context"
	"log/slog"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// ProxyStrategy connects only to the configured proxy address. The pool
// target is the number of independent channels kept open to it.
type ProxyStrategy struct {
	cfg       domain.RemoteClusterConfig
	transport ports.Transport
	logger    *slog.Logger
}

func NewProxyStrategy(cfg domain.RemoteClusterConfig, transport ports.Transport, logger *slog.Logger) *ProxyStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyStrategy{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("component", "proxy-strategy", "alias", cfg.Alias, "proxy_address", cfg.ProxyAddress),
	}
}

func (s *ProxyStrategy) Kind() domain.StrategyKind {
	return domain.StrategyProxy
}

// Connect opens channels until the pool is full or an attempt fails. The
// remaining channels are left to the pool's reconnect workers.
func (s *ProxyStrategy) Connect(ctx context.Context, pool ports.PoolHandle) error {
	if s.cfg.ProxyAddress == "" {
		return nil
	}

	for pool.Size() < pool.Target() {
		conn, err := s.ConnectOne(ctx, pool)
		if err != nil {
			if pool.Size() > 0 {
				s.logger.Debug("proxy bring-up stopped early", "live", pool.Size(), "error", err)
				return nil
			}
			return err
		}
		if !pool.Add(conn) {
			break
		}
	}
	return nil
}

func (s *ProxyStrategy) ConnectOne(ctx context.Context, pool ports.PoolHandle) (ports.Connection, error) {
	if s.cfg.ProxyAddress == "" {
		return nil, nil
	}
	return s.transport.Open(ctx, ports.OpenRequest{
		Alias:      s.cfg.Alias,
		Address:    s.cfg.ProxyAddress,
		ServerName: s.cfg.ServerName,
		Credential: s.cfg.Credential,
	})
}

func (s *ProxyStrategy) OnConnectionLost(pool ports.PoolHandle, conn ports.Connection) {
	s.logger.Debug("proxy channel lost", "connection_id", conn.ID(), "live", pool.Size())
}

func (s *ProxyStrategy) Run(ctx context.Context, pool ports.PoolHandle) {}

func (s *ProxyStrategy) Teardown(pool ports.PoolHandle) {}
