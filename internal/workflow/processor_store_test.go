package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"

	"mediaconv/internal/encoding"
	"mediaconv/internal/queue"
	"mediaconv/internal/testsupport"
	"mediaconv/internal/workflow"
)

type terminalCounter struct {
	started, completed, failed, cancelled atomic.Int32
}

func (c *terminalCounter) listener() workflow.Listener {
	return workflow.ListenerFuncs{
		OnStarted:   func(context.Context, queue.Item) { c.started.Add(1) },
		OnCompleted: func(context.Context, queue.Item) { c.completed.Add(1) },
		OnFailed:    func(context.Context, queue.Item) { c.failed.Add(1) },
		OnCancelled: func(context.Context, queue.Item) { c.cancelled.Add(1) },
	}
}

func (c *terminalCounter) total() int32 {
	return c.started.Load() + c.completed.Load() + c.failed.Load() + c.cancelled.Load()
}

func countingConverter(calls *atomic.Int32) converterFunc {
	return func(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
		calls.Add(1)
		return encoding.Succeeded(64), nil
	}
}

func TestProcessItemSkipsItemChangedAfterFetch(t *testing.T) {
	tests := []struct {
		name   string
		change func(ctx context.Context, store *queue.Store, id string) error
		want   queue.Status
	}{
		{
			name:   "cancelled",
			change: func(ctx context.Context, store *queue.Store, id string) error { return store.CancelQueued(ctx, id) },
			want:   queue.StatusCancelled,
		},
		{
			name:   "paused",
			change: func(ctx context.Context, store *queue.Store, id string) error { return store.Pause(ctx, id) },
			want:   queue.StatusPaused,
		},
		{
			name: "removed",
			change: func(ctx context.Context, store *queue.Store, id string) error {
				_, err := store.Remove(ctx, id)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			testsupport.NewItem(t, store, cfg, "movie.mkv")

			fetched, err := store.NextPending(ctx)
			if err != nil || fetched == nil {
				t.Fatalf("NextPending: %v %v", fetched, err)
			}
			if err := tt.change(ctx, store, fetched.ID); err != nil {
				t.Fatalf("change item: %v", err)
			}

			var calls atomic.Int32
			events := &terminalCounter{}
			proc := workflow.NewProcessor(store, store, countingConverter(&calls), events.listener())
			if err := proc.ProcessItem(ctx, fetched); err != nil {
				t.Fatalf("ProcessItem: %v", err)
			}

			if calls.Load() != 0 || events.total() != 0 {
				t.Fatalf("expected no work, converter calls=%d events=%d", calls.Load(), events.total())
			}
			if fetched.Status != queue.StatusPending {
				t.Fatalf("fetched copy should be untouched, got %s", fetched.Status)
			}
			stored, err := store.GetByID(ctx, fetched.ID)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if tt.want == "" {
				if stored != nil {
					t.Fatalf("expected item to stay removed, got %+v", stored)
				}
			} else if stored == nil || stored.Status != tt.want {
				t.Fatalf("stored item = %+v, want status %s", stored, tt.want)
			}

			reserved, err := store.TryReserve(ctx, fetched.ID)
			if err != nil || !reserved {
				t.Fatalf("reservation should have been released: %v %v", reserved, err)
			}
		})
	}
}

func TestProcessItemConvertsDuplicateCopiesOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewItem(t, store, cfg, "episode.mkv")

	first, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	second, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	var calls atomic.Int32
	events := &terminalCounter{}
	proc := workflow.NewProcessor(store, store, countingConverter(&calls), events.listener())
	for _, snapshot := range []*queue.Item{first, second} {
		if err := proc.ProcessItem(ctx, snapshot); err != nil {
			t.Fatalf("ProcessItem: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one conversion, got %d", got)
	}
	if events.started.Load() != 1 || events.completed.Load() != 1 {
		t.Fatalf("expected one start and one completion, got %d/%d", events.started.Load(), events.completed.Load())
	}
	if first.Status != queue.StatusCompleted || second.Status != queue.StatusPending {
		t.Fatalf("unexpected copies: first=%s second=%s", first.Status, second.Status)
	}
	stored, err := store.GetByID(ctx, item.ID)
	if err != nil || stored == nil || stored.Status != queue.StatusCompleted || stored.OutputSizeBytes != 64 {
		t.Fatalf("unexpected stored item %+v (%v)", stored, err)
	}
}
