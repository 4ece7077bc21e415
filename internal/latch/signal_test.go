package latch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaconv/internal/latch"
)

func TestSignalWakesWaiter(t *testing.T) {
	sig := latch.New()
	done := make(chan error, 1)
	go func() { done <- sig.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	if err := sig.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestSignalLatchesSinglePending(t *testing.T) {
	sig := latch.New()
	for i := 0; i < 3; i++ {
		if err := sig.Signal(); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}
	if err := sig.Wait(context.Background()); err != nil {
		t.Fatalf("expected latched signal to be consumed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sig.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected only one buffered signal, got %v", err)
	}
}

func TestSignalWakesAtMostOneWaiter(t *testing.T) {
	sig := latch.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var woken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sig.Wait(ctx) == nil {
				woken.Add(1)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	if err := sig.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()
	if got := woken.Load(); got != 1 {
		t.Fatalf("expected exactly one woken waiter, got %d", got)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	sig := latch.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sig.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDisposeFailsPendingWait(t *testing.T) {
	sig := latch.New()
	done := make(chan error, 1)
	go func() { done <- sig.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	sig.Dispose()
	select {
	case err := <-done:
		if !errors.Is(err, latch.ErrDisposed) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected disposal cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending wait hung after dispose")
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	sig := latch.New()
	if err := sig.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	sig.Dispose()
	sig.Dispose()

	if err := sig.Wait(context.Background()); !errors.Is(err, latch.ErrDisposed) {
		t.Fatalf("expected ErrDisposed even with a latched signal, got %v", err)
	}
	if err := sig.Signal(); !errors.Is(err, latch.ErrDisposed) {
		t.Fatalf("expected Signal to fail after dispose, got %v", err)
	}
}
