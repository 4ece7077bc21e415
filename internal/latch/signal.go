// Package latch provides a single-slot, cancellable wake-up primitive used by
// the worker pool to sleep until new work is enqueued.
package latch

import (
	"context"
	"fmt"
	"sync"
)

// ErrDisposed is returned by Signal and Wait once the signal has been disposed.
// It wraps context.Canceled so callers treat disposal like cancellation.
var ErrDisposed = fmt.Errorf("latch: signal disposed: %w", context.Canceled)

// Signal wakes at most one waiter per call. A Signal with no waiter is latched
// and consumed by the next Wait; at most one pending signal is buffered.
//
// The zero value is not usable; construct with New.
type Signal struct {
	ch       chan struct{}
	done     chan struct{}
	disposer sync.Once
}

// New returns a ready Signal.
func New() *Signal {
	return &Signal{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Signal wakes one waiter, or latches the signal when nobody is waiting.
func (s *Signal) Signal() error {
	if s.disposed() {
		return ErrDisposed
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until a signal arrives, ctx is done, or the signal is disposed.
func (s *Signal) Wait(ctx context.Context) error {
	if s.disposed() {
		return ErrDisposed
	}
	select {
	case <-s.ch:
		if s.disposed() {
			return ErrDisposed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrDisposed
	}
}

// Dispose fails every outstanding and future Wait. Repeated calls are no-ops.
func (s *Signal) Dispose() {
	s.disposer.Do(func() { close(s.done) })
}

func (s *Signal) disposed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
