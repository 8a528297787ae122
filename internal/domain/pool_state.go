package domain

type PoolState int

const (
	PoolUninitialized PoolState = iota
	PoolConnecting
	PoolConnected
	PoolDegraded
	PoolDisconnected
)

func (s PoolState) String() string {
	switch s {
	case PoolUninitialized:
		return "uninitialized"
	case PoolConnecting:
		return "connecting"
	case PoolConnected:
		return "connected"
	case PoolDegraded:
		return "degraded"
	case PoolDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s PoolState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateForSize maps a live connection count to the steady state of a pool
// with the given target.
func StateForSize(live, target int) PoolState {
	switch {
	case live <= 0:
		return PoolDisconnected
	case live >= target:
		return PoolConnected
	default:
		return PoolDegraded
	}
}
