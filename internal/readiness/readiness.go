// Package readiness provides a one-way broadcast flag used to gate the DAP
// connection on the adapter announcing that it is listening.
package readiness

import (
	"context"
	"sync"
)

// Signal is a boolean that starts false and can be set to true exactly once.
//
// Any number of goroutines may wait on it. Once set it stays set for the
// lifetime of the Signal; there is no reset.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// New creates an unset Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set marks the signal as ready and wakes every waiter.
// Calling Set more than once is a no-op.
func (s *Signal) Set() {
	s.once.Do(func() {
		close(s.done)
	})
}

// IsSet reports whether Set has been called.
func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the signal is set or ctx is done.
//
// An already-set signal wins over a cancelled context, so Wait returns nil
// whenever the flag is true at the time of the call.
func (s *Signal) Wait(ctx context.Context) error {
	if s.IsSet() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
