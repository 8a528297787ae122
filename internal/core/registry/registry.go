// Package registry maps every configured remote cluster alias to its
// connection pool and availability policy.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/crosslink/internal/adapters/load_balancer"
	"github.com/eleven-am/crosslink/internal/adapters/pool"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

type Config struct {
	// Selection names the checkout algorithm: round_robin or
	// least_recently_used.
	Selection string
	Reconnect domain.ReconnectConfig
}

// Registry owns one entry per alias. The registry lock only guards the
// alias map; each entry serializes its own pool swaps, so aliases update
// and connect independently.
type Registry struct {
	factory   ports.StrategyFactory
	selection string
	reconnect domain.ReconnectConfig
	observer  ports.RemoteObserver
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	entries    map[string]*entry
	settings   *domain.Settings
	generation uint64
	loaded     bool
	disabled   bool
	closed     bool
}

type entry struct {
	alias string

	// mu serializes swaps. Lookups never take it.
	mu         sync.Mutex
	generation uint64

	// claimed is the newest generation that targeted the entry. Guarded by
	// the registry lock.
	claimed uint64

	configured atomic.Bool
	skip       atomic.Bool
	config     atomic.Pointer[domain.RemoteClusterConfig]
	pool       atomic.Pointer[pool.Pool]
}

// UpdateReport describes the outcome of applying a settings snapshot.
// Connect errors are informational: the aliases stay registered and keep
// retrying in the background.
type UpdateReport struct {
	Changed       []string         `json:"changed"`
	ConnectErrors map[string]error `json:"-"`
}

func New(config Config, factory ports.StrategyFactory, observer ports.RemoteObserver, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if factory == nil {
		return nil, domain.NewConfigurationError("registry", "strategy factory is required", "pass strategy.NewFactory")
	}
	if _, err := load_balancer.NewSelector(config.Selection, logger); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		factory:   factory,
		selection: config.Selection,
		reconnect: config.Reconnect,
		observer:  observer,
		logger:    logger.With("component", "remote-registry"),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
		settings:  domain.EmptySettings,
	}, nil
}

// Load installs the startup settings. A node without the
// remote_cluster_client role keeps the settings for read-back but never
// opens a remote connection.
func (r *Registry) Load(ctx context.Context, settings *domain.Settings) (*UpdateReport, error) {
	if err := domain.Validate(settings); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if r.loaded {
		r.mu.Unlock()
		return nil, domain.ErrAlreadyStarted
	}
	r.loaded = true
	r.disabled = !domain.IsRemoteClusterClient(settings)
	if r.disabled {
		r.settings = settings
		r.mu.Unlock()
		r.logger.Info("node lacks the remote_cluster_client role, remote connections disabled",
			"aliases", len(domain.Aliases(settings)))
		return &UpdateReport{}, nil
	}
	changed := domain.Diff(r.settings, settings)
	generation, targets := r.installLocked(settings, changed)
	r.mu.Unlock()

	return r.bringUp(ctx, settings, changed, generation, targets)
}

// UpdateSettings replaces the current snapshot with next.
func (r *Registry) UpdateSettings(ctx context.Context, next *domain.Settings) (*UpdateReport, error) {
	return r.Update(ctx, func(*domain.Settings) (*domain.Settings, error) {
		return next, nil
	})
}

// Update derives the next snapshot from the current one with fn, validates
// it, and applies the aliases that changed. fn runs while the snapshot is
// being swapped, so concurrent updates never lose each other's changes;
// connection bring-up happens after the swap.
func (r *Registry) Update(ctx context.Context, fn func(current *domain.Settings) (*domain.Settings, error)) (*UpdateReport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if !r.loaded {
		r.mu.Unlock()
		return nil, domain.ErrNotStarted
	}

	current := r.settings
	next, err := fn(current)
	if err == nil {
		err = checkUpdate(current, next)
	}
	if err != nil {
		r.mu.Unlock()
		r.observer.SettingsApplied(0, err)
		return nil, err
	}

	changed := domain.Diff(current, next)
	generation, targets := r.installLocked(next, changed)
	r.mu.Unlock()

	return r.bringUp(ctx, next, changed, generation, targets)
}

// ApplySettingsUpdate installs next and rebuilds every alias in changed.
// Aliases are applied concurrently, each under its own lock; the call
// returns once every changed alias finished its first bring-up.
func (r *Registry) ApplySettingsUpdate(ctx context.Context, next *domain.Settings, changed []string) (*UpdateReport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if !r.loaded {
		r.mu.Unlock()
		return nil, domain.ErrNotStarted
	}
	if err := checkUpdate(r.settings, next); err != nil {
		r.mu.Unlock()
		r.observer.SettingsApplied(0, err)
		return nil, err
	}
	generation, targets := r.installLocked(next, changed)
	r.mu.Unlock()

	return r.bringUp(ctx, next, changed, generation, targets)
}

// checkUpdate rejects a snapshot that is malformed or that changes a
// setting which only applies at startup.
func checkUpdate(current, next *domain.Settings) error {
	if next == nil {
		return domain.NewConfigurationError("settings", "settings snapshot is required", "pass an empty snapshot to clear every alias")
	}
	if err := domain.Validate(next); err != nil {
		return err
	}
	if static := domain.StaticChanges(current, next); len(static) > 0 {
		return domain.NewValidationError(static[0], nil, "setting is not dynamic and cannot be updated")
	}
	return nil
}

func (r *Registry) installLocked(next *domain.Settings, changed []string) (uint64, []*entry) {
	r.settings = next
	if r.disabled {
		return 0, nil
	}
	r.generation++

	targets := make([]*entry, 0, len(changed))
	for _, alias := range changed {
		e, ok := r.entries[alias]
		if !ok {
			e = &entry{alias: alias}
			r.entries[alias] = e
		}
		e.claimed = r.generation
		targets = append(targets, e)
	}
	return r.generation, targets
}

func (r *Registry) bringUp(ctx context.Context, next *domain.Settings, changed []string, generation uint64, targets []*entry) (*UpdateReport, error) {
	report := &UpdateReport{Changed: slices.Clone(changed), ConnectErrors: make(map[string]error)}
	if len(targets) == 0 {
		return report, nil
	}

	configured := domain.Aliases(next)
	var reportMu sync.Mutex

	// A failing alias must not cancel the bring-up of the others.
	var g errgroup.Group
	for _, e := range targets {
		present := slices.Contains(configured, e.alias)
		g.Go(func() error {
			err := r.apply(ctx, e, generation, next, present)
			if domain.IsConnectError(err) {
				reportMu.Lock()
				report.ConnectErrors[e.alias] = err
				reportMu.Unlock()
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	r.observer.SettingsApplied(len(changed), err)
	if err != nil {
		r.logger.Error("failed to apply remote cluster settings", "changed", changed, "error", err)
		return report, err
	}
	r.logger.Info("remote cluster settings applied",
		"changed", changed,
		"connect_errors", len(report.ConnectErrors))
	return report, nil
}

// apply moves one alias to its configuration in next. The old pool is
// unpublished before it is closed and closed before the new pool makes its
// first attempt. The first attempt runs outside the entry lock, so a newer
// generation can close a pool whose bring-up is still in flight.
func (r *Registry) apply(ctx context.Context, e *entry, generation uint64, next *domain.Settings, present bool) error {
	p, cfg, err := r.swap(e, generation, next, present)
	if err != nil || p == nil {
		return err
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	err = p.Start(startCtx, cfg.InitialConnectTimeout)
	if errors.Is(err, domain.ErrClosed) || p.Closed() {
		return nil
	}
	return err
}

// swap installs the entry state of generation and returns the new pool
// still to be started, nil when nothing needs connecting.
func (r *Registry) swap(e *entry, generation uint64, next *domain.Settings, present bool) (*pool.Pool, domain.RemoteClusterConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation < e.generation {
		return nil, domain.RemoteClusterConfig{}, nil
	}
	e.generation = generation
	if r.isClosed() {
		return nil, domain.RemoteClusterConfig{}, domain.ErrClosed
	}

	logger := r.logger.With("alias", e.alias)

	if !present {
		e.configured.Store(false)
		e.skip.Store(false)
		e.config.Store(nil)
		if old := e.pool.Swap(nil); old != nil {
			old.Close()
		}
		r.observer.Forget(e.alias)
		r.forget(e, generation)
		logger.Info("remote cluster removed")
		return nil, domain.RemoteClusterConfig{}, nil
	}

	cfg, err := domain.ConfigFor(next, e.alias)
	if err != nil {
		return nil, cfg, err
	}

	prev := e.config.Load()
	e.configured.Store(true)
	e.skip.Store(cfg.SkipUnavailable)
	e.config.Store(&cfg)

	if prev != nil && e.pool.Load() != nil && !domain.RequiresRebuild(*prev, cfg) {
		logger.Info("remote cluster policy updated", "skip_unavailable", cfg.SkipUnavailable)
		return nil, cfg, nil
	}

	if old := e.pool.Swap(nil); old != nil {
		started := time.Now()
		if err := old.Close(); err != nil {
			logger.Warn("closing superseded pool reported errors", "error", err)
		}
		logger.Debug("superseded pool closed", "duration", time.Since(started))
	}

	p, err := r.build(cfg)
	if err != nil {
		return nil, cfg, err
	}
	if r.isClosed() {
		p.Close()
		return nil, cfg, domain.ErrClosed
	}
	e.pool.Store(p)

	logger.Info("remote cluster configured",
		"mode", string(cfg.Mode),
		"seeds", cfg.Seeds,
		"proxy_address", cfg.ProxyAddress,
		"connections_per_cluster", cfg.ConnectionsPerCluster,
		"skip_unavailable", cfg.SkipUnavailable)
	return p, cfg, nil
}

// forget drops a removed entry unless a newer generation already claimed
// it again.
func (r *Registry) forget(e *entry, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.alias] == e && e.claimed == generation {
		delete(r.entries, e.alias)
	}
}

func (r *Registry) build(cfg domain.RemoteClusterConfig) (*pool.Pool, error) {
	strategy, err := r.factory(cfg)
	if err != nil {
		return nil, err
	}
	selector, err := load_balancer.NewSelector(r.selection, r.logger)
	if err != nil {
		return nil, err
	}
	return pool.New(pool.Config{
		Alias:             cfg.Alias,
		Target:            cfg.ConnectionsPerCluster,
		Inert:             cfg.IsInert(),
		DistinctEndpoints: cfg.Mode == domain.StrategySniff,
		Reconnect:         r.reconnect,
	}, strategy, selector, r.observer, r.logger), nil
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) lookup(alias string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, domain.ErrClosed
	}
	if r.disabled {
		return nil, domain.Error{
			Type:    domain.ErrorTypeUnavailable,
			Message: "remote cluster [" + alias + "] cannot be used",
			Cause:   domain.ErrRemoteClusterClientDisabled,
		}
	}
	e, ok := r.entries[alias]
	if !ok || !e.configured.Load() {
		return nil, domain.NewNotFoundError("remote cluster", alias)
	}
	return e, nil
}

// GetConnection hands out a live connection of alias. It never waits for a
// connection attempt: an alias with nothing live, or one whose pool is
// being rebuilt, yields a LookupError carrying its skip_unavailable policy.
func (r *Registry) GetConnection(alias string) (ports.Connection, error) {
	e, err := r.lookup(alias)
	if err != nil {
		return nil, err
	}

	p := e.pool.Load()
	if p == nil {
		return nil, &domain.LookupError{
			Alias:   alias,
			Skipped: e.skip.Load(),
			Err: domain.Error{
				Type:    domain.ErrorTypeUnavailable,
				Message: "connection pool is being rebuilt",
			},
		}
	}

	conn, err := p.Checkout()
	if err != nil {
		return nil, &domain.LookupError{Alias: alias, Skipped: e.skip.Load(), Err: err}
	}
	return conn, nil
}

// IsSkipUnavailable reports the availability policy of alias. Unknown
// aliases are strict.
func (r *Registry) IsSkipUnavailable(alias string) bool {
	e, err := r.lookup(alias)
	if err != nil {
		return false
	}
	return e.skip.Load()
}

// ListAliases returns every configured alias, inert ones included.
func (r *Registry) ListAliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.disabled {
		return []string{}
	}
	out := make([]string, 0, len(r.entries))
	for alias, e := range r.entries {
		if e.configured.Load() {
			out = append(out, alias)
		}
	}
	slices.Sort(out)
	return out
}

// Config returns the effective configuration of alias.
func (r *Registry) Config(alias string) (domain.RemoteClusterConfig, bool) {
	e, err := r.lookup(alias)
	if err != nil {
		return domain.RemoteClusterConfig{}, false
	}
	cfg := e.config.Load()
	if cfg == nil {
		return domain.RemoteClusterConfig{}, false
	}
	return *cfg, true
}

// State returns the pool state of alias, Uninitialized while a pool is
// being swapped in.
func (r *Registry) State(alias string) (domain.PoolState, error) {
	e, err := r.lookup(alias)
	if err != nil {
		return domain.PoolUninitialized, err
	}
	if p := e.pool.Load(); p != nil {
		return p.State(), nil
	}
	return domain.PoolUninitialized, nil
}

// Settings returns the current snapshot with filtered values removed.
func (r *Registry) Settings() *domain.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Filtered(r.settings)
}

// Disabled reports whether the local node may not connect to remote
// clusters.
func (r *Registry) Disabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled
}

// Close cancels every bring-up and reconnect and closes all pools.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	r.cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.mu.Lock()
			defer e.mu.Unlock()
			if p := e.pool.Swap(nil); p != nil {
				if err := p.Close(); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("alias %s: %w", e.alias, err))
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	r.logger.Info("remote cluster registry closed", "aliases", len(entries))
	return errors.Join(errs...)
}
