package workflow

import (
	"context"
	"errors"
	"log/slog"

	"mediaconv/internal/latch"
	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
	"mediaconv/internal/services"
)

// Start resets items orphaned by a previous run and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}

	reset, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if reset > 0 {
		m.logger.Info("returned interrupted items to the queue", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	sig := latch.New()
	m.signal = sig
	m.cancel = cancel
	m.running = true
	m.lastErr = nil
	m.wg.Add(m.workers)
	m.mu.Unlock()

	for slot := range m.workers {
		go m.runWorker(runCtx, slot, sig)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.Duration("poll_interval", m.pollInterval),
	)
	return nil
}

// Stop cancels every worker, including running conversions, and waits for
// them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	sig := m.signal
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	sig.Dispose()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runWorker(ctx context.Context, slot int, sig *latch.Signal) {
	defer m.wg.Done()
	ctx = services.WithWorker(ctx, slot)
	logger := logging.WithContext(ctx, m.logger)

	for {
		if ctx.Err() != nil {
			return
		}

		if slot == 0 {
			if _, err := m.heartbeat.ReclaimStaleItems(ctx, logger); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(logger, "reclaim stale processing failed; stuck items may remain", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		item, err := m.store.NextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleNextItemError(ctx, logger, err)
			continue
		}
		if item == nil {
			if m.waitForWork(ctx, sig) != nil {
				return
			}
			continue
		}
		// Another idle worker may find more pending work.
		_ = sig.Signal()

		m.runItem(ctx, logger, item)
		if item.Status == queue.StatusPending {
			// Lost the reservation race.
			if m.waitForWork(ctx, sig) != nil {
				return
			}
		}
	}
}

func (m *Manager) runItem(ctx context.Context, logger *slog.Logger, item *queue.Item) {
	itemCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	m.mu.Lock()
	m.inFlight[item.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, item.ID)
		m.mu.Unlock()
	}()

	err := m.processor.ProcessItem(itemCtx, item)
	if item.Status != queue.StatusPending {
		m.setLastItem(item)
	}
	if err != nil && !services.IsCancellation(err) {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "item processing aborted", "item_process_error",
			logging.Item(item.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
}

func (m *Manager) handleNextItemError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to fetch next queue item", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	waitCtx, cancel := context.WithTimeout(ctx, m.retryInterval)
	defer cancel()
	<-waitCtx.Done()
}

// waitForWork sleeps until the signal fires or the poll interval elapses. It
// returns an error only when the worker should exit.
func (m *Manager) waitForWork(ctx context.Context, sig *latch.Signal) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.pollInterval)
	defer cancel()
	err := sig.Wait(waitCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, latch.ErrDisposed):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return nil
	}
}
