package ports

import (
	"context"

	"github.com/eleven-am/crosslink/internal/domain"
)

// PoolHandle is the view of a connection pool a strategy works against.
// Strategies never hold connections themselves; everything they establish
// is handed to Add, which may refuse it.
type PoolHandle interface {
	Alias() string
	Target() int
	Size() int
	Contains(endpoint string) bool
	Endpoints() []string
	// Add takes ownership of conn. It returns false, after closing conn,
	// when the pool is full, closed or already linked to the endpoint.
	Add(conn Connection) bool
	Closed() bool
}

// ConnectionStrategy decides which endpoints a pool links to.
type ConnectionStrategy interface {
	Kind() domain.StrategyKind
	// Connect performs the first bring-up, establishing up to Target
	// connections before ctx expires.
	Connect(ctx context.Context, pool PoolHandle) error
	// ConnectOne makes a single attempt at establishing one more
	// connection. Used to replace lost connections.
	ConnectOne(ctx context.Context, pool PoolHandle) (Connection, error)
	// OnConnectionLost is called once per lost connection after it was
	// removed from the pool.
	OnConnectionLost(pool PoolHandle, conn Connection)
	// Run performs background maintenance until ctx is done.
	Run(ctx context.Context, pool PoolHandle)
	// Teardown releases strategy resources. The pool closes connections.
	Teardown(pool PoolHandle)
}

// StrategyFactory builds the strategy for one alias configuration.
type StrategyFactory func(cfg domain.RemoteClusterConfig) (ConnectionStrategy, error)
