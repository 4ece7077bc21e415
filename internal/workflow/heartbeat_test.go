package workflow

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeHeartbeatStore struct {
	mu      sync.Mutex
	beats   []string
	cutoffs []time.Time
}

func (f *fakeHeartbeatStore) UpdateHeartbeat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats = append(f.beats, id)
	return nil
}

func (f *fakeHeartbeatStore) ReclaimStaleProcessing(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

func TestHeartbeatLoopUpdatesUntilCancelled(t *testing.T) {
	store := &fakeHeartbeatStore{}
	monitor := NewHeartbeatMonitor(store, nil, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(ctx, &wg, "item-1")
	time.Sleep(40 * time.Millisecond)
	cancel()
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.beats) == 0 {
		t.Fatal("expected heartbeat updates")
	}
	for _, id := range store.beats {
		if id != "item-1" {
			t.Fatalf("unexpected heartbeat id %q", id)
		}
	}
}

func TestReclaimStaleItemsUsesTimeout(t *testing.T) {
	store := &fakeHeartbeatStore{}
	monitor := NewHeartbeatMonitor(store, nil, time.Second, time.Minute)

	before := time.Now()
	n, err := monitor.ReclaimStaleItems(context.Background(), nil)
	if err != nil || n != 2 {
		t.Fatalf("ReclaimStaleItems: n=%d err=%v", n, err)
	}
	cutoff := store.cutoffs[0]
	if cutoff.After(before.Add(-time.Minute+time.Second)) || cutoff.Before(before.Add(-time.Minute-time.Second)) {
		t.Fatalf("unexpected cutoff %v", cutoff)
	}

	disabled := NewHeartbeatMonitor(store, nil, time.Second, 0)
	if n, err := disabled.ReclaimStaleItems(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("disabled monitor should be a no-op: n=%d err=%v", n, err)
	}
}
