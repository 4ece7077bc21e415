package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaconv/internal/config"
	"mediaconv/internal/metrics"
	"mediaconv/internal/queue"
)

const userAgent = "mediaconv/0.1.0"

// Event describes a queue item reaching a terminal status.
type Event struct {
	ItemID       string        `json:"item_id"`
	Title        string        `json:"title"`
	Status       queue.Status  `json:"status"`
	SourcePath   string        `json:"source_path"`
	OutputPath   string        `json:"output_path,omitempty"`
	Profile      string        `json:"profile,omitempty"`
	OutputSize   int64         `json:"output_size_bytes,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration_ns,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// EventFromItem snapshots item into an Event.
func EventFromItem(item queue.Item) Event {
	evt := Event{
		ItemID:       item.ID,
		Title:        item.DisplayTitle(),
		Status:       item.Status,
		SourcePath:   item.SourcePath,
		OutputPath:   item.OutputPath,
		Profile:      item.Profile,
		OutputSize:   item.OutputSizeBytes,
		ErrorMessage: item.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	}
	if item.CompletedAt != nil {
		evt.OccurredAt = item.CompletedAt.UTC()
		if item.StartedAt != nil {
			evt.Duration = item.CompletedAt.Sub(*item.StartedAt)
		}
	}
	return evt
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyItemCompleted(ctx context.Context, evt Event) error
	NotifyItemFailed(ctx context.Context, evt Event) error
	NotifyItemCancelled(ctx context.Context, evt Event) error
	TestNotification(ctx context.Context) error
}

// NewService builds the configured transports. Events disabled in the
// notifications section are dropped before reaching any transport. When no
// transport is configured a no-op Service is returned.
func NewService(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) Service {
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	var channels []namedService
	if n.NtfyTopic != "" {
		channels = append(channels, namedService{name: "ntfy", svc: newNtfyService(n.NtfyTopic, time.Duration(n.RequestTimeout)*time.Second)})
	}
	if n.AMQPURL != "" {
		channels = append(channels, namedService{name: "amqp", svc: NewAMQPPublisher(n.AMQPURL, n.AMQPExchange, logger)})
	}
	if len(channels) == 0 {
		return noopService{}
	}
	return &filteredService{
		next:      &Multi{channels: channels, metrics: m},
		completed: n.Completed,
		failed:    n.Failed,
		cancelled: n.Cancelled,
	}
}

type namedService struct {
	name string
	svc  Service
}

// Multi fans every call out to several services, returning the joined
// errors of the ones that failed.
type Multi struct {
	channels []namedService
	metrics  *metrics.Metrics
}

// NewMulti combines services under generic channel names.
func NewMulti(services ...Service) *Multi {
	m := &Multi{}
	for _, svc := range services {
		if svc != nil {
			m.channels = append(m.channels, namedService{name: "custom", svc: svc})
		}
	}
	return m
}

func (m *Multi) each(fn func(Service) error) error {
	var errs []error
	for _, ch := range m.channels {
		err := fn(ch.svc)
		m.metrics.NotificationSent(ch.name, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) NotifyItemCompleted(ctx context.Context, evt Event) error {
	return m.each(func(s Service) error { return s.NotifyItemCompleted(ctx, evt) })
}

func (m *Multi) NotifyItemFailed(ctx context.Context, evt Event) error {
	return m.each(func(s Service) error { return s.NotifyItemFailed(ctx, evt) })
}

func (m *Multi) NotifyItemCancelled(ctx context.Context, evt Event) error {
	return m.each(func(s Service) error { return s.NotifyItemCancelled(ctx, evt) })
}

func (m *Multi) TestNotification(ctx context.Context) error {
	return m.each(func(s Service) error { return s.TestNotification(ctx) })
}

// Close releases transports that hold connections.
func (m *Multi) Close() error {
	var errs []error
	for _, ch := range m.channels {
		if closer, ok := ch.svc.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

type filteredService struct {
	next      *Multi
	completed bool
	failed    bool
	cancelled bool
}

func (f *filteredService) NotifyItemCompleted(ctx context.Context, evt Event) error {
	if !f.completed {
		return nil
	}
	return f.next.NotifyItemCompleted(ctx, evt)
}

func (f *filteredService) NotifyItemFailed(ctx context.Context, evt Event) error {
	if !f.failed {
		return nil
	}
	return f.next.NotifyItemFailed(ctx, evt)
}

func (f *filteredService) NotifyItemCancelled(ctx context.Context, evt Event) error {
	if !f.cancelled {
		return nil
	}
	return f.next.NotifyItemCancelled(ctx, evt)
}

func (f *filteredService) TestNotification(ctx context.Context) error {
	return f.next.TestNotification(ctx)
}

func (f *filteredService) Close() error {
	return f.next.Close()
}

type noopService struct{}

func (noopService) NotifyItemCompleted(context.Context, Event) error { return nil }
func (noopService) NotifyItemFailed(context.Context, Event) error    { return nil }
func (noopService) NotifyItemCancelled(context.Context, Event) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
