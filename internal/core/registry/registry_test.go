package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/crosslink/internal/adapters/strategy"
	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/testutil/remote"
)

func newRegistry(t *testing.T, network *remote.Network) *Registry {
	t.Helper()
	factory := strategy.NewFactory(strategy.Dependencies{
		Transport: network,
		Sniff:     domain.SniffConfig{Interval: time.Hour, ResniffPerSec: 10, ResniffBurst: 1},
	})
	r, err := New(Config{
		Selection: "round_robin",
		Reconnect: domain.ReconnectConfig{
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Multiplier:     2,
		},
	}, factory, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func twoProxies(network *remote.Network) *domain.Settings {
	network.AddProxy("proxy-a.example:443", "cluster-a", "")
	network.AddProxy("proxy-b.example:443", "cluster-b", "")
	return domain.NewSettingsBuilder().
		Put("cluster.remote.a.proxy_address", "proxy-a.example:443").
		Put("cluster.remote.a.connections_per_cluster", 2).
		Put("cluster.remote.b.proxy_address", "proxy-b.example:443").
		Put("cluster.remote.b.connections_per_cluster", 2).
		Build()
}

func TestRegistry_LoadConnectsAliases(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)

	report, err := r.Load(context.Background(), twoProxies(network))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, report.Changed)
	assert.Empty(t, report.ConnectErrors)
	assert.Equal(t, []string{"a", "b"}, r.ListAliases())

	conn, err := r.GetConnection("a")
	require.NoError(t, err)
	assert.Equal(t, "proxy-a.example:443", conn.Endpoint())
	assert.Equal(t, "a", conn.Alias())

	state, err := r.State("b")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolConnected, state)

	_, err = r.Load(context.Background(), twoProxies(network))
	assert.ErrorIs(t, err, domain.ErrAlreadyStarted)
}

func TestRegistry_UnknownAlias(t *testing.T) {
	r := newRegistry(t, remote.NewNetwork())
	_, err := r.Load(context.Background(), domain.EmptySettings)
	require.NoError(t, err)

	_, err = r.GetConnection("nope")
	assert.True(t, domain.IsNotFound(err))
	assert.False(t, r.IsSkipUnavailable("nope"))
	assert.Empty(t, r.ListAliases())
}

func TestRegistry_InertAlias(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)

	settings := domain.NewSettingsBuilder().
		Put("cluster.remote.idle.skip_unavailable", true).
		PutNull("cluster.remote.idle.credentials").
		Build()

	report, err := r.Load(context.Background(), settings)
	require.NoError(t, err)
	assert.Empty(t, report.ConnectErrors)
	assert.Equal(t, []string{"idle"}, r.ListAliases())

	state, err := r.State("idle")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolDisconnected, state)

	_, err = r.GetConnection("idle")
	assert.True(t, domain.IsSkipped(err))
	assert.Empty(t, network.Handshakes())
}

func TestRegistry_ConnectErrorKeepsAlias(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)

	settings := domain.NewSettingsBuilder().
		Put("cluster.remote.down.proxy_address", "down.example:443").
		Put("cluster.remote.initial_connect_timeout", "100ms").
		Build()

	report, err := r.Load(context.Background(), settings)
	require.NoError(t, err)
	require.Contains(t, report.ConnectErrors, "down")
	assert.True(t, domain.IsConnectError(report.ConnectErrors["down"]))
	assert.Equal(t, []string{"down"}, r.ListAliases())

	network.AddProxy("down.example:443", "late", "")
	assert.Eventually(t, func() bool {
		_, err := r.GetConnection("down")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_SkipUnavailableSignal(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)

	settings := domain.NewSettingsBuilder().
		Put("cluster.remote.lenient.proxy_address", "lenient.example:443").
		Put("cluster.remote.lenient.skip_unavailable", true).
		Put("cluster.remote.strict.proxy_address", "strict.example:443").
		Put("cluster.remote.initial_connect_timeout", "50ms").
		Build()
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)

	assert.True(t, r.IsSkipUnavailable("lenient"))
	assert.False(t, r.IsSkipUnavailable("strict"))

	_, err = r.GetConnection("lenient")
	require.Error(t, err)
	assert.True(t, domain.IsSkipped(err))
	assert.True(t, domain.IsUnavailable(err))

	_, err = r.GetConnection("strict")
	require.Error(t, err)
	assert.False(t, domain.IsSkipped(err))
	assert.True(t, domain.IsUnavailable(err))

	res := r.ResolveTargets([]string{"lenient", "strict"})
	assert.Empty(t, res.Connections)
	assert.Contains(t, res.Skipped, "lenient")
	assert.Contains(t, res.Failed, "strict")
	assert.ErrorContains(t, res.Err(), "remote cluster [strict]")
}

func TestRegistry_UpdateDoesNotTouchOtherAliases(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)

	before := network.Live("b")
	require.Len(t, before, 2)
	opensB := network.OpenCount("proxy-b.example:443")

	network.AddProxy("proxy-a2.example:443", "cluster-a", "")
	next := settings.ToBuilder().
		Put("cluster.remote.a.proxy_address", "proxy-a2.example:443").
		Build()

	report, err := r.UpdateSettings(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Changed)

	assert.Equal(t, []string{"proxy-a2.example:443", "proxy-a2.example:443"}, network.Live("a"))
	assert.Equal(t, before, network.Live("b"))
	assert.Equal(t, opensB, network.OpenCount("proxy-b.example:443"))

	state, err := r.State("b")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolConnected, state)
}

func TestRegistry_SniffSeedsChangeIsolated(t *testing.T) {
	network := remote.NewNetwork()
	network.AddCluster("east", "",
		remote.Node("e1", "10.1.0.1:9400", nil),
		remote.Node("e2", "10.1.0.2:9400", nil),
	)
	network.AddCluster("west", "",
		remote.Node("w1", "10.2.0.1:9400", nil),
		remote.Node("w2", "10.2.0.2:9400", nil),
	)
	r := newRegistry(t, network)

	settings := domain.NewSettingsBuilder().
		PutList("cluster.remote.east.seeds", "10.1.0.1:9400").
		PutList("cluster.remote.west.seeds", "10.2.0.1:9400").
		Put("cluster.remote.connections_per_cluster", 2).
		Build()
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)
	west := network.Live("west")
	require.Len(t, west, 2)

	next := settings.ToBuilder().PutList("cluster.remote.east.seeds", "10.1.0.2:9400").Build()
	report, err := r.UpdateSettings(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, []string{"east"}, report.Changed)
	assert.Equal(t, west, network.Live("west"))
	assert.Equal(t, 1, network.OpenCount("10.2.0.1:9400"))
}

func TestRegistry_NoCheckoutFromSupersededPool(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)
	_, err := r.Load(context.Background(), settings.ToBuilder().
		Put("cluster.remote.initial_connect_timeout", "300ms").
		Build())
	require.NoError(t, err)

	old, err := r.GetConnection("a")
	require.NoError(t, err)

	network.AddProxy("slow.example:443", "cluster-a", "")
	network.Hang("slow.example:443", true)

	next := settings.ToBuilder().
		Put("cluster.remote.initial_connect_timeout", "300ms").
		Put("cluster.remote.a.proxy_address", "slow.example:443").
		Build()

	done := make(chan *UpdateReport, 1)
	go func() {
		report, err := r.UpdateSettings(context.Background(), next)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, old.IsClosed, time.Second, 5*time.Millisecond)
	for range 20 {
		conn, err := r.GetConnection("a")
		assert.Nil(t, conn)
		assert.True(t, domain.IsUnavailable(err))
	}

	_, err = r.GetConnection("b")
	assert.NoError(t, err, "other aliases keep serving during the rebuild")

	select {
	case report := <-done:
		require.Contains(t, report.ConnectErrors, "a")
		assert.True(t, domain.IsTimeout(report.ConnectErrors["a"]))
	case <-time.After(2 * time.Second):
		t.Fatal("update did not finish")
	}
}

func TestRegistry_PolicyChangeAppliedInPlace(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)
	opens := network.OpenCount("proxy-a.example:443")

	report, err := r.UpdateSettings(context.Background(), settings.ToBuilder().
		Put("cluster.remote.a.skip_unavailable", true).
		Build())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Changed)
	assert.True(t, r.IsSkipUnavailable("a"))
	assert.Equal(t, opens, network.OpenCount("proxy-a.example:443"))
	assert.Len(t, network.Live("a"), 2)
}

func TestRegistry_RemoveAlias(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)

	next := settings.ToBuilder().
		Remove("cluster.remote.a.proxy_address").
		Remove("cluster.remote.a.connections_per_cluster").
		Build()
	report, err := r.UpdateSettings(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Changed)

	assert.Equal(t, []string{"b"}, r.ListAliases())
	assert.Empty(t, network.Live("a"))
	_, err = r.GetConnection("a")
	assert.True(t, domain.IsNotFound(err))

	_, err = r.UpdateSettings(context.Background(), settings)
	require.NoError(t, err)
	_, err = r.GetConnection("a")
	assert.NoError(t, err)
}

func TestRegistry_UpdateRejectsInvalidSettings(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)

	_, err := r.UpdateSettings(context.Background(), settings)
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	_, err = r.Load(context.Background(), settings)
	require.NoError(t, err)

	_, err = r.UpdateSettings(context.Background(), settings.ToBuilder().
		Put("cluster.remote.a.connections_per_cluster", 0).
		Build())
	assert.True(t, domain.IsValidation(err))

	_, err = r.UpdateSettings(context.Background(), settings.ToBuilder().
		Put("cluster.remote.a.bogus", "x").
		Build())
	assert.True(t, domain.IsValidation(err))

	_, err = r.UpdateSettings(context.Background(), settings.ToBuilder().
		PutList("node.roles", "data").
		Build())
	assert.True(t, domain.IsValidation(err))

	assert.Len(t, network.Live("a"), 2)
}

func TestRegistry_DisabledWithoutRole(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)

	settings := twoProxies(network).ToBuilder().PutList("node.roles", "master", "data").Build()
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)

	assert.True(t, r.Disabled())
	assert.Empty(t, r.ListAliases())
	_, err = r.GetConnection("a")
	assert.ErrorIs(t, err, domain.ErrRemoteClusterClientDisabled)
	assert.Equal(t, 0, network.OpenCount("proxy-a.example:443"))
	assert.True(t, r.Settings().Has("cluster.remote.a.proxy_address"))
}

func TestRegistry_CredentialsNeverReadBack(t *testing.T) {
	network := remote.NewNetwork()
	network.AddProxy("secure.example:443", "secure", "top-secret")
	r := newRegistry(t, network)

	settings := domain.NewSettingsBuilder().
		Put("cluster.remote.secure.proxy_address", "secure.example:443").
		Put("cluster.remote.secure.credentials", "top-secret").
		Put("cluster.remote.empty.credentials", "").
		PutNull("cluster.remote.null.credentials").
		Build()
	report, err := r.Load(context.Background(), settings)
	require.NoError(t, err)
	assert.Empty(t, report.ConnectErrors)

	for _, key := range r.Settings().Keys() {
		assert.NotContains(t, key, "credentials")
	}

	info := r.RemoteInfo()
	require.Contains(t, info, "secure")
	assert.True(t, info["secure"].CredentialConfigured)
	assert.True(t, info["secure"].Connected)
	assert.False(t, info["empty"].CredentialConfigured)

	cfg, ok := r.Config("secure")
	require.True(t, ok)
	assert.Equal(t, "[filtered]", cfg.Credential.String())
}

func TestRegistry_RemoteInfo(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	_, err := r.Load(context.Background(), twoProxies(network))
	require.NoError(t, err)

	info := r.RemoteInfo()
	require.Len(t, info, 2)
	a := info["a"]
	assert.Equal(t, "proxy", a.Mode)
	assert.Equal(t, "proxy-a.example:443", a.ProxyAddress)
	assert.Equal(t, 2, a.NumConnected)
	assert.Equal(t, 2, a.MaxConnections)
	assert.Equal(t, "30s", a.InitialConnectTimeout)
	assert.Equal(t, domain.PoolConnected, a.State)
	require.NotNil(t, a.Pool)
	assert.Len(t, a.Pool.Connections, 2)
}

func TestRegistry_Close(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	_, err := r.Load(context.Background(), twoProxies(network))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Empty(t, network.Live("a"))
	assert.Empty(t, network.Live("b"))
	_, err = r.GetConnection("a")
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = r.UpdateSettings(context.Background(), domain.EmptySettings)
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestRegistry_ConcurrentUpdatesDoNotLoseChanges(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	_, err := r.Load(context.Background(), twoProxies(network))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, alias := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Update(context.Background(), func(current *domain.Settings) (*domain.Settings, error) {
				return current.ToBuilder().Put("cluster.remote."+alias+".skip_unavailable", true).Build(), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, r.IsSkipUnavailable("a"))
	assert.True(t, r.IsSkipUnavailable("b"))
	assert.True(t, r.Settings().Has("cluster.remote.a.skip_unavailable"))
	assert.True(t, r.Settings().Has("cluster.remote.b.skip_unavailable"))
}

func hangingProxy(network *remote.Network) *domain.Settings {
	network.Hang("stuck.example:443", true)
	network.AddProxy("proxy-x.example:443", "cluster-x", "")
	return domain.NewSettingsBuilder().
		Put("cluster.remote.initial_connect_timeout", "3s").
		Put("cluster.remote.x.proxy_address", "stuck.example:443").
		Put("cluster.remote.x.connections_per_cluster", 1).
		Build()
}

func loadInBackground(t *testing.T, r *Registry, settings *domain.Settings) <-chan *UpdateReport {
	t.Helper()
	done := make(chan *UpdateReport, 1)
	go func() {
		report, err := r.Load(context.Background(), settings)
		assert.NoError(t, err)
		done <- report
	}()
	require.Eventually(t, func() bool {
		state, err := r.State("x")
		return err == nil && state == domain.PoolConnecting
	}, time.Second, 5*time.Millisecond)
	return done
}

func TestRegistry_ReconfigureDuringHangingBringUp(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := hangingProxy(network)
	loaded := loadInBackground(t, r, settings)

	started := time.Now()
	report, err := r.UpdateSettings(context.Background(), settings.ToBuilder().
		Put("cluster.remote.x.proxy_address", "proxy-x.example:443").
		Build())
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, []string{"x"}, report.Changed)
	assert.Empty(t, report.ConnectErrors)

	conn, err := r.GetConnection("x")
	require.NoError(t, err)
	assert.Equal(t, "proxy-x.example:443", conn.Endpoint())

	select {
	case first := <-loaded:
		assert.Empty(t, first.ConnectErrors)
	case <-time.After(time.Second):
		t.Fatal("superseded bring-up did not return after its pool was closed")
	}
}

func TestRegistry_RemoveDuringHangingBringUp(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := hangingProxy(network)
	loaded := loadInBackground(t, r, settings)

	started := time.Now()
	_, err := r.UpdateSettings(context.Background(), settings.ToBuilder().
		Remove("cluster.remote.x.proxy_address").
		Remove("cluster.remote.x.connections_per_cluster").
		Build())
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second)
	assert.Empty(t, r.ListAliases())

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("superseded bring-up did not return after its pool was closed")
	}
}

func TestRegistry_ApplySettingsUpdateValidates(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)

	_, err := r.ApplySettingsUpdate(context.Background(), settings, []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	_, err = r.Load(context.Background(), settings)
	require.NoError(t, err)
	before := r.Settings().AsMap()

	bad := settings.ToBuilder().
		Put("cluster.remote.a.connections_per_cluster", "lots").
		Put("cluster.remote.bogus_key", 1).
		Build()
	_, err = r.ApplySettingsUpdate(context.Background(), bad, []string{"a"})
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, before, r.Settings().AsMap())

	_, err = r.ApplySettingsUpdate(context.Background(), settings.ToBuilder().
		PutList("node.roles", "data").
		Build(), nil)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, before, r.Settings().AsMap())

	_, err = r.Update(context.Background(), func(current *domain.Settings) (*domain.Settings, error) {
		return current.ToBuilder().Put("cluster.remote.b.skip_unavailable", true).Build(), nil
	})
	require.NoError(t, err)
	assert.True(t, r.IsSkipUnavailable("b"))
	assert.Len(t, network.Live("a"), 2)
}

func TestRegistry_RemovedAliasIsForgotten(t *testing.T) {
	network := remote.NewNetwork()
	r := newRegistry(t, network)
	settings := twoProxies(network)
	_, err := r.Load(context.Background(), settings)
	require.NoError(t, err)

	_, err = r.UpdateSettings(context.Background(), settings.ToBuilder().
		Remove("cluster.remote.a.proxy_address").
		Remove("cluster.remote.a.connections_per_cluster").
		Build())
	require.NoError(t, err)

	r.mu.RLock()
	_, kept := r.entries["a"]
	remaining := len(r.entries)
	r.mu.RUnlock()
	assert.False(t, kept)
	assert.Equal(t, 1, remaining)
}
