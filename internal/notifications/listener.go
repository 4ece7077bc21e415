package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
)

const defaultSendTimeout = 30 * time.Second

// Listener forwards terminal queue events to a Service. Sends run on their
// own goroutines so a slow transport never holds up a worker.
type Listener struct {
	svc     Service
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewListener wraps svc. A nil svc yields a listener that drops everything.
func NewListener(svc Service, logger *slog.Logger) *Listener {
	if svc == nil {
		svc = noopService{}
	}
	return &Listener{
		svc:     svc,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: defaultSendTimeout,
	}
}

func (l *Listener) ItemStarted(context.Context, queue.Item)       {}
func (l *Listener) ItemProgress(context.Context, queue.Item, int) {}

func (l *Listener) ItemCompleted(ctx context.Context, item queue.Item) {
	l.dispatch(ctx, item, "completed", l.svc.NotifyItemCompleted)
}

func (l *Listener) ItemFailed(ctx context.Context, item queue.Item) {
	l.dispatch(ctx, item, "failed", l.svc.NotifyItemFailed)
}

func (l *Listener) ItemCancelled(ctx context.Context, item queue.Item) {
	l.dispatch(ctx, item, "cancelled", l.svc.NotifyItemCancelled)
}

func (l *Listener) dispatch(ctx context.Context, item queue.Item, kind string, send func(context.Context, Event) error) {
	evt := EventFromItem(item)
	// Worker contexts are cancelled on shutdown; the notification should still go out.
	base := context.WithoutCancel(ctx)
	l.wg.Go(func() {
		sendCtx, cancel := context.WithTimeout(base, l.timeout)
		defer cancel()
		if err := send(sendCtx, evt); err != nil {
			logging.WarnWithContext(l.logger, "notification delivery failed", "notification_failed",
				logging.Item(evt.ItemID),
				logging.String("kind", kind),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications settings and connectivity"),
			)
		}
	})
}

// Flush waits for in-flight sends, giving up when ctx ends.
func (l *Listener) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
