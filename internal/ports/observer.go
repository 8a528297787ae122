package ports

import "github.com/eleven-am/crosslink/internal/domain"

// RemoteObserver receives lifecycle events from pools and strategies.
// Implementations must not block.
type RemoteObserver interface {
	PoolStateChanged(alias string, from, to domain.PoolState)
	ConnectionOpened(alias string, live int)
	ConnectionLost(alias string, live int)
	ReconnectAttempt(alias string, err error)
	Checkout(alias string, err error)
	SniffCompleted(alias string, candidates int, err error)
	SettingsApplied(changed int, err error)
	Forget(alias string)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) PoolStateChanged(string, domain.PoolState, domain.PoolState) {}
func (NopObserver) ConnectionOpened(string, int)                                {}
func (NopObserver) ConnectionLost(string, int)                                  {}
func (NopObserver) ReconnectAttempt(string, error)                              {}
func (NopObserver) Checkout(string, error)                                      {}
func (NopObserver) SniffCompleted(string, int, error)                           {}
func (NopObserver) SettingsApplied(int, error)                                  {}
func (NopObserver) Forget(string)                                               {}
