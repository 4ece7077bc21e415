package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaconv/internal/encoding"
	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
	"mediaconv/internal/services"
)

// ErrItemRunning is returned when an operation requires an idle item.
var ErrItemRunning = errors.New("item is being converted")

var errCancelRequested = errors.New("cancellation requested")

// Enqueue validates source and adds a pending conversion job, waking an idle
// worker. output and profile are optional.
func (m *Manager) Enqueue(ctx context.Context, source, output, profile string) (*queue.Item, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "enqueue", "validate source", "Source path is required", nil)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "enqueue", "resolve source", source, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "enqueue", "stat source", abs, err)
		}
		return nil, services.Wrap(services.ErrValidation, "enqueue", "stat source", abs, err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrValidation, "enqueue", "validate source", abs+" is not a regular file", nil)
	}
	if strings.TrimSpace(profile) != "" {
		if _, err := encoding.LookupProfile(profile); err != nil {
			return nil, err
		}
	}
	if output = strings.TrimSpace(output); output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return nil, services.Wrap(services.ErrValidation, "enqueue", "resolve output", output, err)
		}
		if output == abs {
			return nil, services.Wrap(services.ErrValidation, "enqueue", "validate output", "Output path must differ from source", nil)
		}
	}

	item, err := m.store.NewItem(ctx, abs, output, profile, info.Size())
	if err != nil {
		return nil, err
	}
	m.logger.Info("item enqueued",
		logging.Item(item.ID),
		logging.String(logging.FieldEventType, "item_enqueued"),
		logging.String("source", abs),
		logging.Int64("size_bytes", info.Size()),
	)
	m.wake()
	return item, nil
}

// Cancel stops a running conversion, or cancels a pending or paused item
// directly.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	cancel, running := m.inFlight[id]
	m.mu.RUnlock()
	if running {
		cancel(errCancelRequested)
		m.logger.Info("cancellation requested", logging.Item(id))
		return nil
	}

	if err := m.store.CancelQueued(ctx, id); err != nil {
		return err
	}
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item != nil {
		m.events.ItemCancelled(ctx, *item)
	}
	m.logger.Info("queued item cancelled", logging.Item(id))
	return nil
}

// Pause parks a pending item.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.store.Pause(ctx, id)
}

// Resume returns a paused item to the queue.
func (m *Manager) Resume(ctx context.Context, id string) error {
	if err := m.store.Resume(ctx, id); err != nil {
		return err
	}
	m.wake()
	return nil
}

// Retry requeues failed and cancelled items; with no ids every such item is
// retried.
func (m *Manager) Retry(ctx context.Context, ids ...string) (int64, error) {
	count, err := m.store.Retry(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.Info("items requeued", logging.Int64("count", count))
		m.wake()
	}
	return count, nil
}

// Remove deletes an item that is not currently converting.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.RLock()
	_, running := m.inFlight[id]
	m.mu.RUnlock()
	if running {
		return fmt.Errorf("remove %s: %w", id, ErrItemRunning)
	}
	removed, err := m.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("item %s: %w", id, queue.ErrNotFound)
	}
	return nil
}
