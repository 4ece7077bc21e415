package workflow

import (
	"context"
	"slices"

	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool
	Workers    int
	InFlight   []string
	LastError  string
	LastItem   *queue.Item
	QueueStats map[queue.Status]int
}

// Status returns the latest workflow information and refreshes the queue
// depth gauges.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:  m.running,
		Workers:  m.workers,
		InFlight: make([]string, 0, len(m.inFlight)),
	}
	for id := range m.inFlight {
		summary.InFlight = append(summary.InFlight, id)
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastItem != nil {
		copy := *m.lastItem
		summary.LastItem = &copy
	}
	m.mu.RUnlock()
	slices.Sort(summary.InFlight)

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
		return summary
	}
	summary.QueueStats = stats
	depth := make(map[string]int, len(stats))
	for status, count := range stats {
		depth[string(status)] = count
	}
	m.metrics.SetQueueDepth(depth)
	return summary
}

// IsRunning reports whether the workers are active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copy := *item
		m.lastItem = &copy
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
