// Package readiness tracks the lifecycle of the remote cluster service so
// callers can wait for the first settings to be applied.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/eleven-am/crosslink/internal/domain"
)

type State int

const (
	StateCreated State = iota
	StateStarting
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Tracker struct {
	mu       sync.RWMutex
	state    State
	ready    chan struct{}
	stopped  chan struct{}
	changeAt time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		state:    StateCreated,
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		changeAt: time.Now(),
	}
}

// SetState moves to state. Stopped is terminal; later calls are ignored.
func (t *Tracker) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.state
	if old == StateStopped || old == state {
		return
	}
	t.state = state
	t.changeAt = time.Now()

	switch {
	case state == StateReady:
		close(t.ready)
	case old == StateReady:
		t.ready = make(chan struct{})
	}
	if state == StateStopped {
		close(t.stopped)
	}
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Since reports how long the tracker has been in its current state.
func (t *Tracker) Since() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.changeAt)
}

func (t *Tracker) IsReady() bool {
	return t.State() == StateReady
}

// WaitUntilReady blocks until the state is Ready. It returns ErrClosed once
// the tracker is stopped.
func (t *Tracker) WaitUntilReady(ctx context.Context) error {
	t.mu.RLock()
	state, ready, stopped := t.state, t.ready, t.stopped
	t.mu.RUnlock()

	switch state {
	case StateReady:
		return nil
	case StateStopped:
		return domain.ErrClosed
	}

	select {
	case <-ready:
		return nil
	case <-stopped:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) WaitUntilReadyTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.WaitUntilReady(ctx)
}
