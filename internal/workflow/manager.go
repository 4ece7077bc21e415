package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaconv/internal/config"
	"mediaconv/internal/latch"
	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/queue"
	"mediaconv/internal/reservation"
)

// Manager runs the worker pool that drains the queue.
type Manager struct {
	cfg           *config.Config
	store         *queue.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	events        *Broadcaster
	processor     *Processor
	heartbeat     *HeartbeatMonitor
	workers       int
	pollInterval  time.Duration
	retryInterval time.Duration

	mu       sync.RWMutex
	signal   *latch.Signal
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *queue.Item
	inFlight map[string]context.CancelCauseFunc
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	listeners    []Listener
	metrics      *metrics.Metrics
	reservations reservation.Store
}

// WithListener subscribes l to item lifecycle events.
func WithListener(l Listener) ManagerOption {
	return func(o *managerOptions) { o.listeners = append(o.listeners, l) }
}

// WithMetrics records worker pool metrics into m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// WithReservations overrides the reservation store. The queue store's
// durable reservations are used by default.
func WithReservations(r reservation.Store) ManagerOption {
	return func(o *managerOptions) { o.reservations = r }
}

// NewManager constructs a worker pool that converts items with converter.
func NewManager(cfg *config.Config, store *queue.Store, converter Converter, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.reservations == nil {
		options.reservations = store
	}

	interval, timeout := cfg.Workflow.Heartbeat()
	heartbeat := NewHeartbeatMonitor(store, logger, interval, timeout)
	events := NewBroadcaster(options.listeners...)

	pollInterval := cfg.Workflow.PollInterval()
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	retryInterval := cfg.Workflow.RetryInterval()
	if retryInterval <= 0 {
		retryInterval = pollInterval
	}
	workers := max(cfg.Workflow.Workers, 1)

	return &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "workflow"),
		metrics: options.metrics,
		events:  events,
		processor: NewProcessor(options.reservations, store, converter, events,
			WithHeartbeat(heartbeat),
			WithProcessorMetrics(options.metrics),
			WithProcessorLogger(logger),
		),
		heartbeat:     heartbeat,
		workers:       workers,
		pollInterval:  pollInterval,
		retryInterval: retryInterval,
		signal:        latch.New(),
		inFlight:      make(map[string]context.CancelCauseFunc),
	}
}

// Subscribe adds a lifecycle listener after construction.
func (m *Manager) Subscribe(l Listener) {
	m.events.Subscribe(l)
}

// Processor exposes the single-item processor the workers use.
func (m *Manager) Processor() *Processor {
	return m.processor
}

func (m *Manager) wake() {
	m.mu.RLock()
	sig := m.signal
	m.mu.RUnlock()
	_ = sig.Signal()
}
