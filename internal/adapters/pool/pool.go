package pool

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

type Config struct {
	Alias  string
	Target int
	// Inert pools never connect and report Disconnected.
	Inert bool
	// DistinctEndpoints rejects a second connection to an endpoint already
	// in the pool. Proxy pools multiplex one endpoint and leave it off.
	DistinctEndpoints bool
	Reconnect         domain.ReconnectConfig
}

// Pool owns the live connections of one alias. Membership changes only
// through Add, the loss watchers and Close; callers borrow connections via
// Checkout and never mutate the pool.
type Pool struct {
	alias     string
	target    int
	inert     bool
	distinct  bool
	reconnect domain.ReconnectConfig

	strategy ports.ConnectionStrategy
	selector ports.ConnectionSelector
	observer ports.RemoteObserver
	logger   *slog.Logger

	mu      sync.RWMutex
	conns   []ports.Connection
	state   domain.PoolState
	started bool
	closed  bool

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	reconnecting atomic.Int32
	lost         atomic.Int64
}

var _ ports.PoolHandle = (*Pool)(nil)

func New(config Config, strategy ports.ConnectionStrategy, selector ports.ConnectionSelector, observer ports.RemoteObserver, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if config.Target < 1 {
		config.Target = domain.DefaultConnectionsPerCluster
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		alias:     config.Alias,
		target:    config.Target,
		inert:     config.Inert,
		distinct:  config.DistinctEndpoints,
		reconnect: config.Reconnect,
		strategy:  strategy,
		selector:  selector,
		observer:  observer,
		logger:    logger.With("component", "remote-pool", "alias", config.Alias, "mode", string(strategy.Kind())),
		state:     domain.PoolUninitialized,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start performs the first bring-up, bounded by timeout. A pool that ends
// with no live connection returns a ConnectError but keeps retrying in the
// background until closed. Inert pools go straight to Disconnected.
func (p *Pool) Start(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	p.started = true
	p.wg.Add(1)
	defer p.wg.Done()

	if p.inert {
		p.setStateLocked(domain.PoolDisconnected)
		p.mu.Unlock()
		p.logger.Info("remote cluster has no seeds or proxy address configured, not connecting")
		return nil
	}
	p.setStateLocked(domain.PoolConnecting)
	p.mu.Unlock()

	connectCtx, cancel := p.bringUpContext(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := p.strategy.Connect(connectCtx, p)
	deadline := errors.Is(connectCtx.Err(), context.DeadlineExceeded)

	p.mu.Lock()
	live := len(p.conns)
	if !p.closed {
		p.setStateLocked(domain.StateForSize(live, p.target))
	}
	p.mu.Unlock()

	p.startBackground()

	if live > 0 {
		p.logger.Info("remote cluster connected",
			"live", live,
			"target", p.target,
			"duration", time.Since(started))
		return nil
	}

	if p.Closed() {
		return domain.ErrClosed
	}

	kind := domain.ConnectRefused
	if deadline || domain.IsTimeout(err) {
		kind = domain.ConnectTimeout
	}
	if err == nil {
		err = errors.New("no endpoint accepted a connection")
	}
	connectErr := &domain.ConnectError{Alias: p.alias, Kind: kind, Err: err}
	p.logger.Warn("remote cluster initial connect failed", "kind", kind.String(), "error", err)
	return connectErr
}

func (p *Pool) bringUpContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var connectCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		connectCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		connectCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return connectCtx, func() {
		stop()
		cancel()
	}
}

// startBackground launches the maintenance loop of the strategy and one
// reconnect worker per missing connection.
func (p *Pool) startBackground() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.strategy.Run(p.ctx, p)
	}()

	for i := len(p.conns); i < p.target; i++ {
		p.spawnReconnectLocked("")
	}
}

func (p *Pool) Alias() string { return p.alias }

func (p *Pool) Target() int { return p.target }

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Pool) State() domain.PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pool) Contains(endpoint string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.containsLocked(endpoint)
}

func (p *Pool) containsLocked(endpoint string) bool {
	for _, c := range p.conns {
		if c.Endpoint() == endpoint {
			return true
		}
	}
	return false
}

func (p *Pool) Endpoints() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c.Endpoint())
	}
	return out
}

// Add takes ownership of conn and starts watching it for loss.
func (p *Pool) Add(conn ports.Connection) bool {
	p.mu.Lock()
	reason := ""
	switch {
	case p.closed:
		reason = "pool closed"
	case len(p.conns) >= p.target:
		reason = "pool full"
	case p.distinct && p.containsLocked(conn.Endpoint()):
		reason = "endpoint already connected"
	}
	if reason != "" {
		p.mu.Unlock()
		p.logger.Debug("connection refused by pool", "endpoint", conn.Endpoint(), "reason", reason)
		conn.Close()
		return false
	}

	p.conns = append(p.conns, conn)
	live := len(p.conns)
	if p.state != domain.PoolConnecting {
		p.setStateLocked(domain.StateForSize(live, p.target))
	}
	p.wg.Add(1)
	go p.watch(conn)
	p.mu.Unlock()

	p.observer.ConnectionOpened(p.alias, live)
	p.logger.Debug("connection added", "endpoint", conn.Endpoint(), "connection_id", conn.ID(), "live", live)
	return true
}

// Checkout returns a live connection for a caller. It never blocks on
// connection attempts.
func (p *Pool) Checkout() (ports.Connection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, domain.Error{
			Type:    domain.ErrorTypeUnavailable,
			Message: "pool for " + p.alias + " is closed",
			Cause:   domain.ErrClosed,
		}
	}
	conn, err := p.selector.Select(p.conns)
	p.observer.Checkout(p.alias, err)
	return conn, err
}

func (p *Pool) watch(conn ports.Connection) {
	defer p.wg.Done()

	select {
	case <-conn.Done():
	case <-p.ctx.Done():
		return
	}

	if !p.remove(conn) {
		return
	}
	conn.Close()
	p.lost.Add(1)
	p.strategy.OnConnectionLost(p, conn)

	p.mu.Lock()
	if !p.closed {
		p.spawnReconnectLocked(conn.Endpoint())
	}
	p.mu.Unlock()
}

func (p *Pool) remove(conn ports.Connection) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	idx := slices.IndexFunc(p.conns, func(c ports.Connection) bool { return c.ID() == conn.ID() })
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	p.conns = slices.Delete(p.conns, idx, idx+1)
	live := len(p.conns)
	if p.state != domain.PoolConnecting {
		p.setStateLocked(domain.StateForSize(live, p.target))
	}
	p.mu.Unlock()

	p.observer.ConnectionLost(p.alias, live)
	p.logger.Warn("remote connection lost", "endpoint", conn.Endpoint(), "live", live, "target", p.target)
	return true
}

func (p *Pool) spawnReconnectLocked(endpoint string) {
	p.wg.Add(1)
	p.reconnecting.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.reconnecting.Add(-1)
		p.reconnectLoop(endpoint)
	}()
}

// reconnectLoop retries until the pool is full again or closed. It never
// gives up; every WarnEvery failed attempts it logs the streak.
func (p *Pool) reconnectLoop(endpoint string) {
	b := newBackoff(p.reconnect)
	warnEvery := p.reconnect.WarnEvery
	if warnEvery <= 0 {
		warnEvery = 10
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if p.Size() >= p.target {
			return
		}

		timer := time.NewTimer(b.Next())
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if p.Size() >= p.target {
			return
		}

		conn, err := p.strategy.ConnectOne(p.ctx, p)
		if p.ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		p.observer.ReconnectAttempt(p.alias, err)

		if err == nil && conn != nil {
			if p.Add(conn) {
				p.logger.Info("reconnected", "endpoint", conn.Endpoint(), "attempts", attempt)
				return
			}
			continue
		}
		if err != nil {
			lastErr = err
		}

		if attempt%warnEvery == 0 {
			exhausted := &domain.ReconnectExhaustedError{
				Alias:    p.alias,
				Endpoint: endpoint,
				Attempts: attempt,
				Err:      lastErr,
			}
			p.logger.Warn("still unable to reconnect", "error", exhausted)
		}
	}
}

func (p *Pool) setStateLocked(next domain.PoolState) {
	prev := p.state
	if prev == next {
		return
	}
	p.state = next
	p.observer.PoolStateChanged(p.alias, prev, next)
	p.logger.Debug("pool state changed", "from", prev.String(), "to", next.String())
}

// Close stops every reconnect and maintenance task, waits for them, then
// closes all owned connections. No Checkout succeeds once Close begins.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.setStateLocked(domain.PoolDisconnected)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.strategy.Teardown(p)

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("pool closed", "connections", len(conns))
	return errors.Join(errs...)
}

type ConnectionInfo struct {
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
	NodeID   string    `json:"node_id,omitempty"`
	LastUsed time.Time `json:"last_used"`
}

type Info struct {
	Alias        string           `json:"alias"`
	Mode         string           `json:"mode"`
	State        domain.PoolState `json:"state"`
	Live         int              `json:"num_connections_connected"`
	Target       int              `json:"max_connections_per_cluster"`
	Reconnecting int              `json:"reconnecting"`
	Lost         int64            `json:"connections_lost"`
	Connections  []ConnectionInfo `json:"connections"`
}

func (p *Pool) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]ConnectionInfo, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, ConnectionInfo{
			ID:       c.ID(),
			Endpoint: c.Endpoint(),
			NodeID:   c.NodeID(),
			LastUsed: c.LastUsed(),
		})
	}

	return Info{
		Alias:        p.alias,
		Mode:         string(p.strategy.Kind()),
		State:        p.state,
		Live:         len(p.conns),
		Target:       p.target,
		Reconnecting: int(p.reconnecting.Load()),
		Lost:         p.lost.Load(),
		Connections:  conns,
	}
}
