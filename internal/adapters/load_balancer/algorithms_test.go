package load_balancer

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
	"github.com/eleven-am/crosslink/internal/testutil/remote"
)

func threeConnections() []ports.Connection {
	return []ports.Connection{
		remote.NewConnection("eu", "node1:9400"),
		remote.NewConnection("eu", "node2:9400"),
		remote.NewConnection("eu", "node3:9400"),
	}
}

func TestRoundRobinStrategy(t *testing.T) {
	strategy := NewRoundRobinStrategy(slog.Default())
	conns := threeConnections()

	var selections []string
	for i := 0; i < 6; i++ {
		selected, err := strategy.Select(conns)
		require.NoError(t, err)
		selections = append(selections, selected.Endpoint())
	}

	expected := []string{"node1:9400", "node2:9400", "node3:9400", "node1:9400", "node2:9400", "node3:9400"}
	assert.Equal(t, expected, selections)
}

func TestLeastRecentlyUsedStrategy(t *testing.T) {
	strategy := NewLeastRecentlyUsedStrategy(slog.Default())
	conns := threeConnections()

	base := time.Now().Add(-time.Hour)
	conns[0].(*remote.Connection).SetLastUsed(base.Add(2 * time.Minute))
	conns[1].(*remote.Connection).SetLastUsed(base)
	conns[2].(*remote.Connection).SetLastUsed(base.Add(time.Minute))

	first, err := strategy.Select(conns)
	require.NoError(t, err)
	assert.Equal(t, "node2:9400", first.Endpoint())

	second, err := strategy.Select(conns)
	require.NoError(t, err)
	assert.Equal(t, "node3:9400", second.Endpoint())

	third, err := strategy.Select(conns)
	require.NoError(t, err)
	assert.Equal(t, "node1:9400", third.Endpoint())
}

func TestSelectorsRejectEmpty(t *testing.T) {
	for _, algorithm := range []string{AlgorithmRoundRobin, AlgorithmLeastRecentlyUsed} {
		selector, err := NewSelector(algorithm, nil)
		require.NoError(t, err)
		assert.Equal(t, algorithm, selector.Name())

		_, err = selector.Select(nil)
		assert.True(t, domain.IsUnavailable(err), "%s: got %v", algorithm, err)
	}
}

func TestNewSelector(t *testing.T) {
	selector, err := NewSelector("", nil)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRoundRobin, selector.Name())

	selector, err = NewSelector("lru", nil)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmLeastRecentlyUsed, selector.Name())

	_, err = NewSelector("weighted", nil)
	assert.True(t, domain.IsValidation(err))
}
