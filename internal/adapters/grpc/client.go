package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/crosslink/internal/adapters/circuit_breaker"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

type ClientConfig struct {
	ClusterName      string
	NodeID           string
	MaxMsgSize       int
	TLS              *ports.TLSConfig
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	KeepAliveTime    time.Duration
	KeepAliveTimeout time.Duration

	BreakerThreshold int
	BreakerInterval  time.Duration

	GrpcBackoffBaseDelay  time.Duration
	GrpcBackoffMaxDelay   time.Duration
	GrpcBackoffMultiplier float64
	GrpcBackoffJitter     float64

	// Scheme is the resolver used for remote addresses. Defaults to dns.
	Scheme      string
	DialOptions []grpc.DialOption
}

// ClientConfigFrom derives the transport client settings from the process
// configuration.
func ClientConfigFrom(cfg *domain.Config) *ClientConfig {
	t := cfg.Transport
	out := &ClientConfig{
		ClusterName:      cfg.ClusterName,
		NodeID:           cfg.NodeID,
		MaxMsgSize:       t.MaxMessageSizeMB * 1024 * 1024,
		HandshakeTimeout: t.HandshakeTimeout,
		RequestTimeout:   t.RequestTimeout,
		KeepAliveTime:    t.KeepAliveTime,
		KeepAliveTimeout: t.KeepAliveTimeout,
		BreakerThreshold: t.BreakerThreshold,
		BreakerInterval:  t.BreakerTimeout,
	}
	if t.EnableTLS {
		out.TLS = &ports.TLSConfig{
			Enabled:  true,
			CertFile: t.TLSCertFile,
			KeyFile:  t.TLSKeyFile,
			CAFile:   t.TLSCAFile,
		}
	}
	return out
}

// GRPCTransport opens remote cluster connections over gRPC. Every
// connection is its own ClientConn so that a pool of N connections to one
// address really is N channels.
type GRPCTransport struct {
	logger   *slog.Logger
	config   *ClientConfig
	breakers *circuit_breaker.Provider

	mu     sync.Mutex
	conns  map[string]*grpcConnection
	closed bool
}

func NewGRPCTransport(logger *slog.Logger, config *ClientConfig) *GRPCTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.KeepAliveTime == 0 {
		config.KeepAliveTime = 30 * time.Second
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = 10 * time.Second
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerInterval == 0 {
		config.BreakerInterval = 30 * time.Second
	}
	if config.GrpcBackoffBaseDelay == 0 {
		config.GrpcBackoffBaseDelay = 100 * time.Millisecond
	}
	if config.GrpcBackoffMaxDelay == 0 {
		config.GrpcBackoffMaxDelay = 15 * time.Second
	}
	if config.GrpcBackoffMultiplier == 0 {
		config.GrpcBackoffMultiplier = 1.6
	}
	if config.GrpcBackoffJitter == 0 {
		config.GrpcBackoffJitter = 0.2
	}
	if config.Scheme == "" {
		config.Scheme = "dns"
	}

	logger = logger.With("component", "grpc-transport")
	return &GRPCTransport{
		logger: logger,
		config: config,
		breakers: circuit_breaker.NewProvider(ports.CircuitBreakerConfig{
			FailureThreshold: config.BreakerThreshold,
			Interval:         config.BreakerInterval,
			IsExcluded:       isAuthFailure,
		}, logger),
		conns: make(map[string]*grpcConnection),
	}
}

func (t *GRPCTransport) Handshake(ctx context.Context, req ports.HandshakeRequest) (*ports.HandshakeResponse, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	var resp *handshakeResponse
	err := t.breakers.Get(req.Address).Call(ctx, func(ctx context.Context) error {
		cc, err := t.dial(req.Alias, req.Address, req.ServerName, req.Credential)
		if err != nil {
			return err
		}
		defer cc.Close()

		hctx, cancel := context.WithTimeout(ctx, t.config.HandshakeTimeout)
		defer cancel()

		resp, err = invokeHandshake(hctx, cc, &handshakeRequest{
			Alias:       req.Alias,
			ClusterName: t.config.ClusterName,
			NodeID:      t.config.NodeID,
		})
		return err
	})
	if err != nil {
		t.logger.Debug("handshake failed", "alias", req.Alias, "address", req.Address, "error", err)
		return nil, classify(req.Address, err)
	}

	return &ports.HandshakeResponse{
		ClusterName: resp.ClusterName,
		NodeID:      resp.NodeID,
		Nodes:       resp.Nodes,
	}, nil
}

// Open establishes a connection and treats it as successful once the
// channel is READY and the remote health service accepted the credential.
func (t *GRPCTransport) Open(ctx context.Context, req ports.OpenRequest) (ports.Connection, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	var cc *grpc.ClientConn
	err := t.breakers.Get(req.Address).Call(ctx, func(ctx context.Context) error {
		var err error
		cc, err = t.dial(req.Alias, req.Address, req.ServerName, req.Credential)
		if err != nil {
			return err
		}
		if err = waitReady(ctx, cc); err == nil {
			pctx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
			err = ping(pctx, grpc_health_v1.NewHealthClient(cc))
			cancel()
		}
		if err != nil {
			cc.Close()
		}
		return err
	})
	if err != nil {
		return nil, classify(req.Address, err)
	}

	conn := newConnection(uuid.NewString(), req.Alias, req.Address, req.NodeID, cc, t.logger, t.forget)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return nil, domain.ErrClosed
	}
	t.conns[conn.id] = conn
	t.mu.Unlock()

	t.logger.Debug("remote connection opened", "alias", req.Alias, "address", req.Address, "connection_id", conn.id)
	return conn, nil
}

func (t *GRPCTransport) forget(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *GRPCTransport) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrClosed
	}
	return nil
}

func (t *GRPCTransport) BreakerStates() map[string]string {
	states := t.breakers.States()
	out := make(map[string]string, len(states))
	for addr, state := range states {
		out[addr] = state.String()
	}
	return out
}

func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*grpcConnection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.logger.Info("transport closed", "connections", len(conns))
	return errors.Join(errs...)
}

func (t *GRPCTransport) dial(alias, address, serverName string, credential domain.Secret) (*grpc.ClientConn, error) {
	tlsEnabled := t.config.TLS != nil && t.config.TLS.Enabled

	dialOpts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  t.config.GrpcBackoffBaseDelay,
				Multiplier: t.config.GrpcBackoffMultiplier,
				Jitter:     t.config.GrpcBackoffJitter,
				MaxDelay:   t.config.GrpcBackoffMaxDelay,
			},
			MinConnectTimeout: t.config.HandshakeTimeout,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                t.config.KeepAliveTime,
			Timeout:             t.config.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithIdleTimeout(0),
		grpc.WithPerRPCCredentials(apiKeyCredentials{key: credential, requireTLS: tlsEnabled}),
		grpc.WithChainUnaryInterceptor(UnaryClientLoggingInterceptor(t.logger, alias)),
	}

	if t.config.MaxMsgSize > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(t.config.MaxMsgSize),
				grpc.MaxCallSendMsgSize(t.config.MaxMsgSize),
			),
		)
	}

	if tlsEnabled {
		creds, err := LoadClientTLSCredentials(t.config.TLS, serverName)
		if err != nil {
			t.logger.Error("failed to load TLS credentials", "error", err)
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	dialOpts = append(dialOpts, t.config.DialOptions...)

	target := fmt.Sprintf("%s:///%s", t.config.Scheme, address)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to create gRPC client connection",
			Details: map[string]interface{}{"address": address},
			Cause:   err,
		}
	}
	return cc, nil
}

// waitReady blocks until cc is READY. A transient failure ends the attempt
// rather than waiting out the channel's own backoff.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return status.Errorf(codes.Unavailable, "channel entered %s", state)
		}
		if !cc.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

func isAuthFailure(err error) bool {
	code := status.Code(err)
	return code == codes.Unauthenticated || code == codes.PermissionDenied
}

func classify(address string, err error) error {
	var derr domain.Error
	switch {
	case errors.As(err, &derr):
		return err
	case errors.Is(err, domain.ErrClosed):
		return err
	case errors.Is(err, circuit_breaker.ErrCircuitBreakerOpen), errors.Is(err, circuit_breaker.ErrTooManyRequests):
		return domain.Error{
			Type:    domain.ErrorTypeUnavailable,
			Message: "circuit breaker open for " + address,
			Details: map[string]interface{}{"address": address},
			Cause:   err,
		}
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return domain.Error{
			Type:    domain.ErrorTypeTimeout,
			Message: "timed out connecting to " + address,
			Details: map[string]interface{}{"address": address},
			Cause:   err,
		}
	case isAuthFailure(err):
		return domain.Error{
			Type:    domain.ErrorTypeUnauthorized,
			Message: "remote cluster at " + address + " rejected the credential",
			Details: map[string]interface{}{"address": address},
			Cause:   err,
		}
	}
	return domain.NewConnectionError(address, err)
}
