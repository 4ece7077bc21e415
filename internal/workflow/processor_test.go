package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaconv/internal/encoding"
	"mediaconv/internal/queue"
	"mediaconv/internal/reservation"
	"mediaconv/internal/workflow"
)

type recordingRepo struct {
	mu        sync.Mutex
	statuses  []queue.Status
	progress  []int
	cancelled []bool
	last      map[string]queue.Status
	items     map[string]queue.Item
	err       error
}

// add stores items as the repository's current state without recording
// updates.
func (r *recordingRepo) add(items ...*queue.Item) *recordingRepo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[string]queue.Item)
	}
	for _, item := range items {
		r.items[item.ID] = *item
	}
	return r
}

func (r *recordingRepo) GetByID(_ context.Context, id string) (*queue.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *recordingRepo) Update(ctx context.Context, item *queue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.last == nil {
		r.last = make(map[string]queue.Status)
	}
	r.statuses = append(r.statuses, item.Status)
	r.progress = append(r.progress, item.Progress)
	r.cancelled = append(r.cancelled, ctx.Err() != nil)
	r.last[item.ID] = item.Status
	if r.items == nil {
		r.items = make(map[string]queue.Item)
	}
	r.items[item.ID] = *item
	return nil
}

func (r *recordingRepo) lastStatus(id string) queue.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[id]
}

type converterFunc func(ctx context.Context, item *queue.Item, sink encoding.ProgressSink) (encoding.Outcome, error)

func (f converterFunc) Execute(ctx context.Context, item *queue.Item, sink encoding.ProgressSink) (encoding.Outcome, error) {
	return f(ctx, item, sink)
}

type eventLog struct {
	mu       sync.Mutex
	kinds    []string
	progress []int
	// persisted records the repository status observed when each event fired.
	persisted []queue.Status
}

func (e *eventLog) listener(repo *recordingRepo) workflow.Listener {
	record := func(kind string, item queue.Item) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.kinds = append(e.kinds, kind)
		e.persisted = append(e.persisted, repo.lastStatus(item.ID))
	}
	return workflow.ListenerFuncs{
		OnStarted: func(_ context.Context, item queue.Item) { record("started", item) },
		OnProgress: func(_ context.Context, item queue.Item, percent int) {
			record("progress", item)
			e.mu.Lock()
			e.progress = append(e.progress, percent)
			e.mu.Unlock()
		},
		OnCompleted: func(_ context.Context, item queue.Item) { record("completed", item) },
		OnFailed:    func(_ context.Context, item queue.Item) { record("failed", item) },
		OnCancelled: func(_ context.Context, item queue.Item) { record("cancelled", item) },
	}
}

func (e *eventLog) snapshot() ([]string, []int, []queue.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.kinds...), append([]int(nil), e.progress...), append([]queue.Status(nil), e.persisted...)
}

func newPendingItem(id string) *queue.Item {
	return &queue.Item{ID: id, SourcePath: "/media/" + id + ".mkv", Status: queue.StatusPending}
}

func TestProcessItemSuccess(t *testing.T) {
	repo := &recordingRepo{}
	reservations := reservation.NewMemory(nil)
	events := &eventLog{}
	converter := converterFunc(func(_ context.Context, _ *queue.Item, sink encoding.ProgressSink) (encoding.Outcome, error) {
		for _, p := range []int{10, 5, 10, 30, 100} {
			sink(p)
		}
		return encoding.Succeeded(2048), nil
	})
	proc := workflow.NewProcessor(reservations, repo, converter, events.listener(repo))

	item := newPendingItem("ok")
	repo.add(item)
	if err := proc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if item.Status != queue.StatusCompleted || item.OutputSizeBytes != 2048 || item.Progress != 100 {
		t.Fatalf("unexpected item state: %+v", item)
	}

	kinds, progress, persisted := events.snapshot()
	wantKinds := []string{"started", "progress", "progress", "progress", "completed"}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("unexpected events: %v", kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("event %d = %s, want %s (%v)", i, kinds[i], wantKinds[i], kinds)
		}
	}
	wantProgress := []int{10, 30, 100}
	for i, p := range wantProgress {
		if progress[i] != p {
			t.Fatalf("progress = %v, want %v", progress, wantProgress)
		}
	}
	if persisted[0] != queue.StatusProcessing || persisted[len(persisted)-1] != queue.StatusCompleted {
		t.Fatalf("events fired before persistence: %v", persisted)
	}

	entry, ok := reservations.Lookup("ok")
	if !ok || entry.State != queue.ReservationCompleted || entry.Last == nil || entry.Last.OutputSize != 2048 {
		t.Fatalf("unexpected reservation entry: %+v", entry)
	}
}

func TestProcessItemSkipsWhenReservedElsewhere(t *testing.T) {
	repo := &recordingRepo{}
	reservations := reservation.NewMemory(nil)
	if ok, err := reservations.TryReserve(context.Background(), "taken"); err != nil || !ok {
		t.Fatalf("pre-reserve: %v %v", ok, err)
	}
	events := &eventLog{}
	called := false
	converter := converterFunc(func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
		called = true
		return encoding.Succeeded(0), nil
	})
	proc := workflow.NewProcessor(reservations, repo, converter, events.listener(repo))

	item := newPendingItem("taken")
	if err := proc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if called || item.Status != queue.StatusPending || len(repo.statuses) != 0 {
		t.Fatalf("expected no work, called=%v status=%s updates=%d", called, item.Status, len(repo.statuses))
	}
	if kinds, _, _ := events.snapshot(); len(kinds) != 0 {
		t.Fatalf("expected no events, got %v", kinds)
	}
}

func TestProcessItemFailures(t *testing.T) {
	tests := []struct {
		name      string
		converter converterFunc
		wantMsg   string
	}{
		{
			name: "failed outcome",
			converter: func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
				return encoding.Failed("encoder exited with code 1"), nil
			},
			wantMsg: "encoder exited with code 1",
		},
		{
			name: "use case error",
			converter: func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
				return encoding.Outcome{}, errors.New("source missing")
			},
			wantMsg: "source missing",
		},
		{
			name: "panic",
			converter: func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
				panic("boom")
			},
			wantMsg: "conversion panicked: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &recordingRepo{}
			reservations := reservation.NewMemory(nil)
			events := &eventLog{}
			proc := workflow.NewProcessor(reservations, repo, tt.converter, events.listener(repo))

			item := newPendingItem("bad")
			repo.add(item)
			if err := proc.ProcessItem(context.Background(), item); err != nil {
				t.Fatalf("ProcessItem should report failures through the item, got %v", err)
			}
			if item.Status != queue.StatusFailed || item.ErrorMessage != tt.wantMsg {
				t.Fatalf("unexpected item: status=%s msg=%q", item.Status, item.ErrorMessage)
			}
			kinds, _, persisted := events.snapshot()
			if kinds[len(kinds)-1] != "failed" || persisted[len(persisted)-1] != queue.StatusFailed {
				t.Fatalf("unexpected events %v persisted %v", kinds, persisted)
			}
			entry, _ := reservations.Lookup("bad")
			if entry.State != queue.ReservationCompleted || entry.Last.Status != queue.StatusFailed || entry.Last.ErrorMessage != tt.wantMsg {
				t.Fatalf("unexpected reservation: %+v", entry)
			}
		})
	}
}

func TestProcessItemCancellation(t *testing.T) {
	repo := &recordingRepo{}
	reservations := reservation.NewMemory(nil)
	events := &eventLog{}
	started := make(chan struct{})
	converter := converterFunc(func(ctx context.Context, _ *queue.Item, sink encoding.ProgressSink) (encoding.Outcome, error) {
		sink(12)
		close(started)
		<-ctx.Done()
		return encoding.Outcome{}, ctx.Err()
	})
	proc := workflow.NewProcessor(reservations, repo, converter, events.listener(repo))

	ctx, cancel := context.WithCancel(context.Background())
	item := newPendingItem("stop")
	repo.add(item)
	errCh := make(chan error, 1)
	go func() { errCh <- proc.ProcessItem(ctx, item) }()

	<-started
	cancel()
	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessItem did not return after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if item.Status != queue.StatusCancelled || item.ErrorMessage != "" {
		t.Fatalf("unexpected item: %+v", item)
	}
	repo.mu.Lock()
	lastCancelled := repo.cancelled[len(repo.cancelled)-1]
	lastStatus := repo.statuses[len(repo.statuses)-1]
	repo.mu.Unlock()
	if lastStatus != queue.StatusCancelled || lastCancelled {
		t.Fatalf("terminal state must be persisted with a live context: status=%s ctxDone=%v", lastStatus, lastCancelled)
	}
	kinds, _, _ := events.snapshot()
	if kinds[len(kinds)-1] != "cancelled" {
		t.Fatalf("unexpected events: %v", kinds)
	}
	entry, _ := reservations.Lookup("stop")
	if entry.State != queue.ReservationCompleted || entry.Last.Status != queue.StatusCancelled {
		t.Fatalf("unexpected reservation: %+v", entry)
	}
}

type countingReservations struct {
	*reservation.Memory
	want    int32
	tried   atomic.Int32
	allDone chan struct{}
}

func (c *countingReservations) TryReserve(ctx context.Context, id string) (bool, error) {
	ok, err := c.Memory.TryReserve(ctx, id)
	if c.tried.Add(1) == c.want {
		close(c.allDone)
	}
	return ok, err
}

func TestProcessItemConcurrentCallersConvertOnce(t *testing.T) {
	const callers = 8
	reservations := &countingReservations{
		Memory:  reservation.NewMemory(nil),
		want:    callers,
		allDone: make(chan struct{}),
	}
	var calls atomic.Int32
	converter := converterFunc(func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
		calls.Add(1)
		<-reservations.allDone
		return encoding.Succeeded(1), nil
	})
	repo := (&recordingRepo{}).add(newPendingItem("shared"))
	proc := workflow.NewProcessor(reservations, repo, converter, nil)

	var wg sync.WaitGroup
	for range callers {
		item := newPendingItem("shared")
		wg.Go(func() {
			if err := proc.ProcessItem(context.Background(), item); err != nil {
				t.Errorf("ProcessItem: %v", err)
			}
		})
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one conversion, got %d", got)
	}
}

func TestProcessItemReturnsReservationErrors(t *testing.T) {
	proc := workflow.NewProcessor(reservation.NewMemory(nil), &recordingRepo{}, converterFunc(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := proc.ProcessItem(ctx, newPendingItem("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected reservation error, got %v", err)
	}
}

func TestProcessItemPersistFailureReleasesReservation(t *testing.T) {
	repo := (&recordingRepo{err: errors.New("disk full")}).add(newPendingItem("x"))
	reservations := reservation.NewMemory(nil)
	proc := workflow.NewProcessor(reservations, repo, converterFunc(nil), nil)
	if err := proc.ProcessItem(context.Background(), newPendingItem("x")); err == nil {
		t.Fatal("expected persistence error")
	}
	ok, err := reservations.TryReserve(context.Background(), "x")
	if err != nil || !ok {
		t.Fatalf("reservation should have been released: %v %v", ok, err)
	}
}
