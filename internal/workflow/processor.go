package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediaconv/internal/encoding"
	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/queue"
	"mediaconv/internal/reservation"
	"mediaconv/internal/services"
)

const (
	stageConversion = "conversion"
	persistTimeout  = 10 * time.Second
)

// Repository persists item state. *queue.Store satisfies it. GetByID
// returns nil, nil for unknown ids.
type Repository interface {
	GetByID(ctx context.Context, id string) (*queue.Item, error)
	Update(ctx context.Context, item *queue.Item) error
}

// Converter performs the conversion for one item. *encoding.Service satisfies it.
type Converter interface {
	Execute(ctx context.Context, item *queue.Item, sink encoding.ProgressSink) (encoding.Outcome, error)
}

// Processor runs a single queue item from reservation to terminal state.
type Processor struct {
	reservations reservation.Store
	repo         Repository
	converter    Converter
	events       Listener
	heartbeat    *HeartbeatMonitor
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// ProcessorOption configures optional Processor collaborators.
type ProcessorOption func(*Processor)

// WithHeartbeat keeps the item's heartbeat fresh while it converts.
func WithHeartbeat(h *HeartbeatMonitor) ProcessorOption {
	return func(p *Processor) { p.heartbeat = h }
}

// WithProcessorMetrics records in-flight, outcome and duration metrics.
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithProcessorLogger sets the base logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor wires a Processor. A nil events listener drops every event.
func NewProcessor(reservations reservation.Store, repo Repository, converter Converter, events Listener, opts ...ProcessorOption) *Processor {
	if events == nil {
		events = ListenerFuncs{}
	}
	p := &Processor{
		reservations: reservations,
		repo:         repo,
		converter:    converter,
		events:       events,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "processor")
	return p
}

// ProcessItem converts item if this caller wins its reservation and the
// stored item is still pending. Losing the reservation, or finding the item
// removed or already moved on, returns nil without touching the item. Failures are recorded
// on the item and reported through ItemFailed; only reservation errors,
// persistence errors before the conversion starts, and cancellation are
// returned. A cancelled conversion yields an error matching context.Canceled.
func (p *Processor) ProcessItem(ctx context.Context, item *queue.Item) error {
	if item == nil {
		return errors.New("process item: item is nil")
	}
	reserved, err := p.reservations.TryReserve(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("reserve item %s: %w", item.ID, err)
	}
	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithStage(ctx, stageConversion)
	logger := logging.WithContext(ctx, p.logger)
	if !reserved {
		p.metrics.ReservationConflict()
		logger.Debug("item already reserved; skipping")
		return nil
	}

	current, err := p.repo.GetByID(ctx, item.ID)
	if err != nil {
		p.releaseUnchanged(ctx, logger, item.ID, queue.Completion{Status: item.Status})
		return fmt.Errorf("reload item %s: %w", item.ID, err)
	}
	if current == nil || current.Status != queue.StatusPending {
		completion := queue.Completion{Status: item.Status}
		state := "removed"
		if current != nil {
			completion = current.Completion()
			state = string(current.Status)
		}
		p.releaseUnchanged(ctx, logger, item.ID, completion)
		logger.Debug("item no longer pending; skipping", logging.String("status", state))
		return nil
	}
	*item = *current

	started := time.Now()
	item.SetProcessing()
	if err := p.repo.Update(ctx, item); err != nil {
		wrapped := fmt.Errorf("persist processing transition: %w", err)
		item.SetFailed(wrapped.Error())
		p.release(ctx, logger, item)
		return wrapped
	}
	p.metrics.ItemStarted()
	logger.Info("conversion started",
		logging.String(logging.FieldEventType, "item_start"),
		logging.String("source", item.SourcePath),
		logging.String("profile", item.Profile),
	)
	p.events.ItemStarted(ctx, *item)

	outcome, execErr := p.executeWithHeartbeat(ctx, logger, item)

	switch {
	case services.IsCancellation(execErr) || (execErr != nil && ctx.Err() != nil):
		return p.cancelled(ctx, logger, item, started, execErr)
	case execErr != nil:
		p.failed(ctx, logger, item, started, failureMessage(execErr), execErr)
	case !outcome.Success:
		p.failed(ctx, logger, item, started, outcome.ErrorMessage, nil)
	default:
		p.completed(ctx, logger, item, started, outcome.OutputSize)
	}
	return nil
}

func (p *Processor) executeWithHeartbeat(ctx context.Context, logger *slog.Logger, item *queue.Item) (encoding.Outcome, error) {
	var hbWG sync.WaitGroup
	hbCtx, hbCancel := context.WithCancel(ctx)
	if p.heartbeat != nil {
		hbWG.Add(1)
		go p.heartbeat.StartLoop(hbCtx, &hbWG, item.ID)
	}
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()
	return p.execute(ctx, item, p.progressSink(ctx, logger, item))
}

func (p *Processor) execute(ctx context.Context, item *queue.Item, sink encoding.ProgressSink) (outcome encoding.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = encoding.Outcome{}
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return p.converter.Execute(ctx, item, sink)
}

func (p *Processor) progressSink(ctx context.Context, logger *slog.Logger, item *queue.Item) encoding.ProgressSink {
	return func(percent int) {
		if !item.SetProgress(percent) {
			return
		}
		now := time.Now().UTC()
		item.LastHeartbeat = &now
		if err := p.repo.Update(ctx, item); err != nil && ctx.Err() == nil {
			logger.Warn("failed to persist progress", logging.Error(err), logging.Int("progress", item.Progress))
		}
		p.events.ItemProgress(ctx, *item, item.Progress)
	}
}

func (p *Processor) completed(ctx context.Context, logger *slog.Logger, item *queue.Item, started time.Time, size int64) {
	item.SetCompleted(size)
	p.finish(ctx, logger, item, started)
	logger.Info("conversion completed",
		logging.String(logging.FieldEventType, "item_complete"),
		logging.String("output", item.OutputPath),
		logging.Int64("output_size_bytes", size),
		logging.Duration("duration", time.Since(started)),
	)
	p.events.ItemCompleted(ctx, *item)
}

func (p *Processor) failed(ctx context.Context, logger *slog.Logger, item *queue.Item, started time.Time, message string, cause error) {
	if strings.TrimSpace(message) == "" {
		message = "conversion failed"
	}
	item.SetFailed(message)
	p.finish(ctx, logger, item, started)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String("error_message", message),
		logging.Alert("item_failure"),
	}
	if hint := services.FailureHint(cause); hint != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
	}
	logging.ErrorWithContext(logger, "conversion failed", "item_failed", attrs...)
	p.events.ItemFailed(ctx, *item)
}

func (p *Processor) cancelled(ctx context.Context, logger *slog.Logger, item *queue.Item, started time.Time, cause error) error {
	item.SetCancelled()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	p.finish(persistCtx, logger, item, started)
	logger.Info("conversion cancelled",
		logging.String(logging.FieldEventType, "item_cancelled"),
		logging.Duration("duration", time.Since(started)),
	)
	p.events.ItemCancelled(persistCtx, *item)

	if cause == nil {
		cause = context.Cause(ctx)
	}
	if errors.Is(cause, context.Canceled) {
		return fmt.Errorf("item %s cancelled: %w", item.ID, cause)
	}
	return fmt.Errorf("item %s cancelled: %w: %w", item.ID, context.Canceled, cause)
}

// finish releases the reservation and persists the terminal state; both
// happen before any terminal event is raised.
func (p *Processor) finish(ctx context.Context, logger *slog.Logger, item *queue.Item, started time.Time) {
	p.release(ctx, logger, item)
	if err := p.repo.Update(ctx, item); err != nil {
		logging.ErrorWithContext(logger, "failed to persist terminal state", "persist_failed",
			logging.String("status", string(item.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	p.metrics.ItemFinished(string(item.Status), time.Since(started))
}

func (p *Processor) release(ctx context.Context, logger *slog.Logger, item *queue.Item) {
	if err := p.reservations.Complete(ctx, item.ID, item.Completion()); err != nil {
		logging.WarnWithContext(logger, "failed to release reservation", "reservation_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item may be skipped until the daemon restarts"),
		)
	}
}

// releaseUnchanged frees a reservation taken for an item that will not be
// processed, recording the status found in the repository.
func (p *Processor) releaseUnchanged(ctx context.Context, logger *slog.Logger, id string, completion queue.Completion) {
	if err := p.reservations.Complete(context.WithoutCancel(ctx), id, completion); err != nil {
		logging.WarnWithContext(logger, "failed to release reservation", "reservation_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item may be skipped until the daemon restarts"),
		)
	}
}

func failureMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "conversion failed"
	}
	return msg
}
