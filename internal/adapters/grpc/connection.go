package grpc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// grpcConnection is one ClientConn pinned to a single remote endpoint. It
// never reconnects on its own: once the channel leaves READY the link is
// reported lost through Done and the pool decides what to do.
type grpcConnection struct {
	id       string
	alias    string
	endpoint string
	nodeID   string
	cc       *grpc.ClientConn
	health   grpc_health_v1.HealthClient
	logger   *slog.Logger
	onClose  func(id string)

	cancel    context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	lastUsed  atomic.Int64
}

func newConnection(id, alias, endpoint, nodeID string, cc *grpc.ClientConn, logger *slog.Logger, onClose func(string)) *grpcConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &grpcConnection{
		id:       id,
		alias:    alias,
		endpoint: endpoint,
		nodeID:   nodeID,
		cc:       cc,
		health:   grpc_health_v1.NewHealthClient(cc),
		logger:   logger.With("connection_id", id, "alias", alias, "endpoint", endpoint),
		onClose:  onClose,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.MarkUsed()
	go c.watch(ctx)
	return c
}

func (c *grpcConnection) watch(ctx context.Context) {
	for {
		state := c.cc.GetState()
		switch state {
		case connectivity.Idle, connectivity.TransientFailure, connectivity.Shutdown:
			c.logger.Info("remote connection lost", "state", state.String())
			c.signalDone()
			return
		}
		if !c.cc.WaitForStateChange(ctx, state) {
			return
		}
	}
}

func (c *grpcConnection) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *grpcConnection) ID() string       { return c.id }
func (c *grpcConnection) Alias() string    { return c.alias }
func (c *grpcConnection) Endpoint() string { return c.endpoint }
func (c *grpcConnection) NodeID() string   { return c.nodeID }

func (c *grpcConnection) Done() <-chan struct{} {
	return c.done
}

func (c *grpcConnection) IsClosed() bool {
	return c.closed.Load()
}

// Ping checks the remote health service over this connection.
func (c *grpcConnection) Ping(ctx context.Context) error {
	if c.IsClosed() {
		return errConnectionClosed(c.endpoint)
	}
	return ping(ctx, c.health)
}

func (c *grpcConnection) Conn() grpc.ClientConnInterface {
	return c.cc
}

func (c *grpcConnection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

func (c *grpcConnection) MarkUsed() {
	c.lastUsed.Store(time.Now().UnixNano())
}

func (c *grpcConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.cc.Close()
		c.signalDone()
		if c.onClose != nil {
			c.onClose(c.id)
		}
		c.logger.Debug("remote connection closed")
	})
	return err
}
