package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// SniffStrategy discovers remote nodes through the seeds and connects to
// qualifying nodes directly.
type SniffStrategy struct {
	cfg       domain.RemoteClusterConfig
	transport ports.Transport
	observer  ports.RemoteObserver
	interval  time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
	resniff   chan struct{}

	mu          sync.Mutex
	candidates  []domain.DiscoveryNode
	clusterName string
	lastSniff   time.Time
}

func NewSniffStrategy(cfg domain.RemoteClusterConfig, transport ports.Transport, sniff domain.SniffConfig, observer ports.RemoteObserver, logger *slog.Logger) *SniffStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if sniff.Interval <= 0 {
		sniff.Interval = domain.DefaultSniffConfig().Interval
	}
	limit := rate.Limit(sniff.ResniffPerSec)
	if sniff.ResniffPerSec <= 0 {
		limit = rate.Inf
	}
	burst := sniff.ResniffBurst
	if burst < 1 {
		burst = 1
	}

	return &SniffStrategy{
		cfg:       cfg,
		transport: transport,
		observer:  observer,
		interval:  sniff.Interval,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With("component", "sniff-strategy", "alias", cfg.Alias),
		resniff:   make(chan struct{}, 1),
	}
}

func (s *SniffStrategy) Kind() domain.StrategyKind {
	return domain.StrategySniff
}

// sniff asks each seed in order for the remote node list until one answers
// and returns the qualifying candidates. Nodes other than the answering
// seed come first.
func (s *SniffStrategy) sniff(ctx context.Context) ([]domain.DiscoveryNode, error) {
	if len(s.cfg.Seeds) == 0 {
		return nil, nil
	}

	var errs []error
	for _, seed := range s.cfg.Seeds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		resp, err := s.transport.Handshake(ctx, ports.HandshakeRequest{
			Alias:      s.cfg.Alias,
			Address:    seed,
			ServerName: s.cfg.ServerName,
			Credential: s.cfg.Credential,
		})
		if err != nil {
			s.logger.Debug("seed handshake failed", "seed", seed, "error", err)
			errs = append(errs, fmt.Errorf("seed %s: %w", seed, err))
			continue
		}

		candidates := s.qualify(resp.Nodes, seed)

		s.mu.Lock()
		s.candidates = candidates
		s.clusterName = resp.ClusterName
		s.lastSniff = time.Now()
		s.mu.Unlock()

		s.observer.SniffCompleted(s.cfg.Alias, len(candidates), nil)
		s.logger.Debug("sniff completed",
			"seed", seed,
			"remote_cluster", resp.ClusterName,
			"nodes", len(resp.Nodes),
			"candidates", len(candidates))
		return candidates, nil
	}

	err := errors.Join(errs...)
	s.observer.SniffCompleted(s.cfg.Alias, 0, err)
	return nil, err
}

func (s *SniffStrategy) qualify(nodes []domain.DiscoveryNode, seed string) []domain.DiscoveryNode {
	seen := make(map[string]struct{}, len(nodes))
	var preferred, seeds []domain.DiscoveryNode

	for _, node := range nodes {
		if node.Address == "" || !node.Qualifies(s.cfg.NodeAttribute) {
			continue
		}
		if _, dup := seen[node.Address]; dup {
			continue
		}
		seen[node.Address] = struct{}{}

		if node.Address == seed || slices.Contains(s.cfg.Seeds, node.Address) {
			seeds = append(seeds, node)
		} else {
			preferred = append(preferred, node)
		}
	}
	return append(preferred, seeds...)
}

func (s *SniffStrategy) cached() []domain.DiscoveryNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.candidates)
}

// Connect sniffs once and connects to up to the pool target of distinct
// candidates.
func (s *SniffStrategy) Connect(ctx context.Context, pool ports.PoolHandle) error {
	candidates, err := s.sniff(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		if len(s.cfg.Seeds) == 0 {
			return nil
		}
		return s.noCandidates()
	}
	return s.fill(ctx, pool, candidates)
}

func (s *SniffStrategy) noCandidates() error {
	if s.cfg.NodeAttribute != "" {
		return fmt.Errorf("no remote node qualifies for attribute [%s]", s.cfg.NodeAttribute)
	}
	return errors.New("no remote node qualifies as a remote cluster client")
}

// fill opens connections to candidates not yet in the pool until it is
// full. Existing connections are never touched.
func (s *SniffStrategy) fill(ctx context.Context, pool ports.PoolHandle, candidates []domain.DiscoveryNode) error {
	var lastErr error
	added := 0

	for _, node := range candidates {
		if pool.Size() >= pool.Target() || pool.Closed() || ctx.Err() != nil {
			break
		}
		if pool.Contains(node.Address) {
			continue
		}

		conn, err := s.open(ctx, node)
		if err != nil {
			lastErr = err
			continue
		}
		if pool.Add(conn) {
			added++
		}
	}

	if added == 0 && pool.Size() == 0 {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return lastErr
	}
	return nil
}

func (s *SniffStrategy) open(ctx context.Context, node domain.DiscoveryNode) (ports.Connection, error) {
	conn, err := s.transport.Open(ctx, ports.OpenRequest{
		Alias:      s.cfg.Alias,
		Address:    node.Address,
		NodeID:     node.ID,
		ServerName: s.cfg.ServerName,
		Credential: s.cfg.Credential,
	})
	if err != nil {
		s.logger.Debug("connect to node failed", "node", node.ID, "address", node.Address, "error", err)
	}
	return conn, err
}

// ConnectOne tries the known candidates first and re-sniffs, subject to
// the re-sniff rate limit, when none of them accepts.
func (s *SniffStrategy) ConnectOne(ctx context.Context, pool ports.PoolHandle) (ports.Connection, error) {
	conn, err := s.connectAny(ctx, pool, s.cached())
	if conn != nil || ctx.Err() != nil {
		return conn, err
	}

	if !s.limiter.Allow() {
		if err == nil {
			err = errors.New("no candidate available, re-sniff rate limited")
		}
		return nil, err
	}

	candidates, sniffErr := s.sniff(ctx)
	if sniffErr != nil {
		return nil, sniffErr
	}
	conn, err = s.connectAny(ctx, pool, candidates)
	if conn == nil && err == nil && len(candidates) == 0 {
		err = s.noCandidates()
	}
	return conn, err
}

func (s *SniffStrategy) connectAny(ctx context.Context, pool ports.PoolHandle, candidates []domain.DiscoveryNode) (ports.Connection, error) {
	var lastErr error
	for _, node := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if pool.Contains(node.Address) {
			continue
		}
		conn, err := s.open(ctx, node)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// OnConnectionLost requests an immediate re-sniff once the pool has no
// live connection left.
func (s *SniffStrategy) OnConnectionLost(pool ports.PoolHandle, conn ports.Connection) {
	if pool.Size() > 0 {
		return
	}
	s.logger.Info("all connections lost, scheduling re-sniff", "last_endpoint", conn.Endpoint())
	select {
	case s.resniff <- struct{}{}:
	default:
	}
}

// Run re-sniffs on a fixed interval and on demand, topping the pool up
// from newly discovered nodes.
func (s *SniffStrategy) Run(ctx context.Context, pool ports.PoolHandle) {
	if len(s.cfg.Seeds) == 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.resniff:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.refresh(ctx, pool)
	}
}

func (s *SniffStrategy) refresh(ctx context.Context, pool ports.PoolHandle) {
	candidates, err := s.sniff(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("re-sniff failed", "error", err)
		}
		return
	}
	if pool.Size() >= pool.Target() {
		return
	}
	if err := s.fill(ctx, pool, candidates); err != nil && ctx.Err() == nil {
		s.logger.Debug("re-sniff could not fill pool", "live", pool.Size(), "error", err)
	}
}

// Topology reports the last sniff result.
func (s *SniffStrategy) Topology() (string, []domain.DiscoveryNode, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusterName, slices.Clone(s.candidates), s.lastSniff
}

func (s *SniffStrategy) Teardown(pool ports.PoolHandle) {
	s.mu.Lock()
	s.candidates = nil
	s.mu.Unlock()
	s.logger.Debug("sniff strategy torn down")
}
