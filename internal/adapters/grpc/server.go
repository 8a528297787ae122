package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

// GRPCServer is the endpoint remote clusters sniff and connect to. It serves
// the handshake and the standard health service.
type GRPCServer struct {
	logger   *slog.Logger
	config   *ServerConfig
	provider ports.ClusterInfoProvider
	health   *HealthChecker

	mu           sync.RWMutex
	server       *grpc.Server
	listener     net.Listener
	started      bool
	shutdownChan chan struct{}
}

type ServerConfig struct {
	BindAddress      string
	TLS              *ports.TLSConfig
	MaxMsgSize       int
	APIKeys          []domain.Secret
	EnableRPCMetrics bool
}

// ServerConfigFrom derives the transport server settings from the process
// configuration.
func ServerConfigFrom(cfg *domain.Config) *ServerConfig {
	out := &ServerConfig{
		BindAddress:      cfg.BindAddr,
		MaxMsgSize:       cfg.Transport.MaxMessageSizeMB * 1024 * 1024,
		APIKeys:          cfg.Server.APIKeys,
		EnableRPCMetrics: cfg.Server.EnableRPCMetrics,
	}
	if cfg.Transport.EnableTLS {
		out.TLS = &ports.TLSConfig{
			Enabled:  true,
			CertFile: cfg.Transport.TLSCertFile,
			KeyFile:  cfg.Transport.TLSKeyFile,
			CAFile:   cfg.Transport.TLSCAFile,
		}
	}
	return out
}

func NewGRPCServer(logger *slog.Logger, config *ServerConfig, provider ports.ClusterInfoProvider) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc-server")
	return &GRPCServer{
		logger:       logger,
		config:       config,
		provider:     provider,
		health:       NewHealthChecker(logger),
		shutdownChan: make(chan struct{}),
	}
}

func (s *GRPCServer) GetAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.BindAddress
}

func (s *GRPCServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.BindAddress)
	if err != nil {
		s.logger.Error("failed to listen", "error", err, "address", s.config.BindAddress)
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to start gRPC server listener",
			Details: map[string]interface{}{"address": s.config.BindAddress},
			Cause:   err,
		}
	}
	if err := s.Serve(ctx, listener); err != nil {
		listener.Close()
		return err
	}
	return nil
}

// Serve starts serving on an existing listener. The server stops when ctx
// is done or Stop is called.
func (s *GRPCServer) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return domain.NewConflictError("server", "already started")
	}

	unary := []grpc.UnaryServerInterceptor{
		UnaryLoggingInterceptor(s.logger),
		UnaryAuthInterceptor(s.config.APIKeys),
	}
	stream := []grpc.StreamServerInterceptor{
		StreamLoggingInterceptor(s.logger),
		StreamAuthInterceptor(s.config.APIKeys),
	}
	if s.config.EnableRPCMetrics {
		unary = append(unary, grpc_prometheus.UnaryServerInterceptor)
		stream = append(stream, grpc_prometheus.StreamServerInterceptor)
	}

	serverOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(unary...)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(stream...)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if s.config.MaxMsgSize > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(s.config.MaxMsgSize),
			grpc.MaxSendMsgSize(s.config.MaxMsgSize),
		)
	}

	if s.config.TLS != nil && s.config.TLS.Enabled {
		creds, err := LoadServerTLSCredentials(s.config.TLS)
		if err != nil {
			s.logger.Error("failed to load TLS credentials", "error", err)
			return err
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	s.server = grpc.NewServer(serverOpts...)
	s.server.RegisterService(&remoteClusterServiceDesc, s)
	grpc_health_v1.RegisterHealthServer(s.server, s.health.Server())
	if s.config.EnableRPCMetrics {
		grpc_prometheus.Register(s.server)
	}

	s.listener = listener
	s.started = true
	s.shutdownChan = make(chan struct{})
	s.health.Serving()

	server := s.server
	shutdown := s.shutdownChan
	addr := listener.Addr().String()

	go func() {
		s.logger.Info("gRPC server starting", "address", addr)
		if err := server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			s.logger.Error("gRPC server failed", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-shutdown:
		}
	}()

	return nil
}

func (s *GRPCServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.shutdownChan)
	s.health.NotServing()

	s.logger.Info("stopping gRPC server")
	s.server.GracefulStop()
	s.started = false
	s.logger.Info("gRPC server stopped")
	return nil
}

// Handshake returns the local cluster view that sniffing clients filter.
func (s *GRPCServer) Handshake(ctx context.Context, req *handshakeRequest) (*handshakeResponse, error) {
	if s.provider == nil {
		return nil, status.Error(codes.Unavailable, "cluster info not available")
	}

	s.logger.Debug("handshake received", "alias", req.Alias, "from_cluster", req.ClusterName, "from_node", req.NodeID)

	local := s.provider.LocalNode()
	return &handshakeResponse{
		ClusterName: s.provider.ClusterName(),
		NodeID:      local.ID,
		Nodes:       s.provider.Nodes(),
	}, nil
}
