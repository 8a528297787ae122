package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

func TestGRPCTransport_Handshake(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "seed-1:9400")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := transport.Handshake(ctx, ports.HandshakeRequest{Alias: "eu", Address: "seed-1:9400"})
	require.NoError(t, err)

	assert.Equal(t, "remote-cluster", resp.ClusterName)
	assert.Equal(t, "node-seed-1:9400", resp.NodeID)
	require.Len(t, resp.Nodes, 2)
	assert.Equal(t, "10.0.0.9:9400", resp.Nodes[1].Address)
	assert.True(t, resp.Nodes[1].Qualifies("gateway"))
}

func TestGRPCTransport_HandshakeCredentials(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "secure:9400", "good-key")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := transport.Handshake(ctx, ports.HandshakeRequest{Alias: "eu", Address: "secure:9400"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)

	_, err = transport.Handshake(ctx, ports.HandshakeRequest{Alias: "eu", Address: "secure:9400", Credential: "bad-key"})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)

	resp, err := transport.Handshake(ctx, ports.HandshakeRequest{Alias: "eu", Address: "secure:9400", Credential: "good-key"})
	require.NoError(t, err)
	assert.Equal(t, "remote-cluster", resp.ClusterName)
}

func TestGRPCTransport_OpenAndPing(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "node-a:9400")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400", NodeID: "a"})
	require.NoError(t, err)

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "eu", conn.Alias())
	assert.Equal(t, "node-a:9400", conn.Endpoint())
	assert.Equal(t, "a", conn.NodeID())
	assert.NotNil(t, conn.Conn())
	assert.False(t, conn.IsClosed())
	assert.NoError(t, conn.Ping(ctx))

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.Error(t, conn.Ping(ctx))

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}

func TestGRPCTransport_OpenRejectsBadCredential(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "node-a:9400", "good-key")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400", Credential: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)

	conn, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400", Credential: "good-key"})
	require.NoError(t, err)
	assert.NoError(t, conn.Ping(ctx))
}

func TestGRPCTransport_DetectsPeerLoss(t *testing.T) {
	network := newBufNetwork()
	server := startServer(t, network, "node-a:9400")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400"})
	require.NoError(t, err)

	require.NoError(t, server.Stop())

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss was not reported")
	}
	assert.False(t, conn.IsClosed(), "loss is reported, closing is left to the owner")
}

func TestGRPCTransport_OpenUnreachable(t *testing.T) {
	network := newBufNetwork()
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "nowhere:9400"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnection), "got %v", err)
}

func TestGRPCTransport_BreakerOpensPerAddress(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "node-a:9400")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "nowhere:9400"})
		require.Error(t, err)
	}

	_, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "nowhere:9400"})
	assert.True(t, errors.Is(err, domain.ErrUnavailable), "got %v", err)
	assert.Equal(t, "open", transport.BreakerStates()["nowhere:9400"])

	conn, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400"})
	require.NoError(t, err, "a failing address must not affect others")
	assert.NoError(t, conn.Ping(ctx))
}

func TestGRPCTransport_CloseClosesConnections(t *testing.T) {
	network := newBufNetwork()
	startServer(t, network, "node-a:9400")
	transport := newTestTransport(t, network)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400"})
	require.NoError(t, err)
	second, err := transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	require.NoError(t, transport.Close())
	assert.True(t, first.IsClosed())
	assert.True(t, second.IsClosed())

	_, err = transport.Open(ctx, ports.OpenRequest{Alias: "eu", Address: "node-a:9400"})
	assert.True(t, errors.Is(err, domain.ErrClosed))
}

func TestClientConfigFrom(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.NodeID = "n1"
	cfg.Transport.EnableTLS = true
	cfg.Transport.TLSCAFile = "/etc/ca.pem"

	out := ClientConfigFrom(cfg)
	assert.Equal(t, "n1", out.NodeID)
	assert.Equal(t, 16*1024*1024, out.MaxMsgSize)
	require.NotNil(t, out.TLS)
	assert.Equal(t, "/etc/ca.pem", out.TLS.CAFile)
}
