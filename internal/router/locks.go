package router

import (
	"context"
	"sync"
	"time"

	"github.com/orin-labs/uciagent/internal/domain"
)

// LockRegistry serializes script execution per router address. Each address
// gets a one-slot channel acting as a mutex; waiters that cannot acquire the
// slot within the timeout give up instead of queueing indefinitely.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]chan struct{})}
}

func (r *LockRegistry) slot(address string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[address]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[address] = ch
	}
	return ch
}

// Acquire takes the lock for the given router address, waiting up to timeout.
// It returns a release function on success and ErrRouterBusy when another
// execution holds the lock past the deadline.
func (r *LockRegistry) Acquire(ctx context.Context, address string, timeout time.Duration) (func(), error) {
	ch := r.slot(address)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, domain.ErrRouterBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
