// Package reservation arbitrates which worker owns a queue item. A Store
// hands out at most one active reservation per job id; completing a job
// releases its slot and records the outcome.
package reservation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
)

// Store is the reservation contract used by the processor. *queue.Store
// provides a durable implementation; Memory serves single-process setups and
// tests.
type Store interface {
	// TryReserve claims id. Exactly one of any number of concurrent callers
	// observes true.
	TryReserve(ctx context.Context, id string) (bool, error)
	// Complete records the outcome for id and releases the reservation.
	Complete(ctx context.Context, id string, completion queue.Completion) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*queue.Store)(nil)
)

// Entry is a snapshot of one id's reservation state.
type Entry struct {
	State      queue.ReservationState
	Attempts   int
	ReservedAt time.Time
	Last       *queue.Completion
}

// DefaultHistoryLimit caps how many completed ids Memory remembers.
const DefaultHistoryLimit = 1024

// Memory is a mutex-guarded in-process Store. Reserved ids are always kept;
// completed ids are kept up to a history limit, oldest completion first out.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	logger  *slog.Logger

	limit     int
	seq       uint64
	completed map[string]uint64
	history   []completionRecord
}

type completionRecord struct {
	id  string
	seq uint64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithHistoryLimit bounds the number of completed ids retained for Lookup and
// reprocess detection. Values below one fall back to DefaultHistoryLimit.
func WithHistoryLimit(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.limit = n
		}
	}
}

// NewMemory constructs an empty store. logger may be nil.
func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:   make(map[string]*Entry),
		logger:    logging.NewComponentLogger(logger, "reservation"),
		limit:     DefaultHistoryLimit,
		completed: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryReserve claims id unless it is currently reserved. Ids whose previous
// run completed can be reserved again; that case is logged as a warning.
func (m *Memory) TryReserve(ctx context.Context, id string) (bool, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	entry, ok := m.entries[id]
	if ok && entry.State == queue.ReservationReserved {
		m.mu.Unlock()
		return false, nil
	}
	if !ok {
		entry = &Entry{}
		m.entries[id] = entry
	}
	reprocess := entry.Last != nil && entry.Last.Status == queue.StatusCompleted
	delete(m.completed, id)
	entry.State = queue.ReservationReserved
	entry.ReservedAt = time.Now().UTC()
	entry.Attempts++
	attempts := entry.Attempts
	m.mu.Unlock()

	if reprocess {
		logging.WarnWithContext(m.logger, "re-reserving a completed job", "reservation_reprocess",
			logging.Item(id),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "completed items are being reprocessed; check for duplicate retry requests"),
		)
	}
	return true, nil
}

// Complete records completion for id. Unknown ids are recorded as completed
// without ever having been reserved.
func (m *Memory) Complete(_ context.Context, id string, completion queue.Completion) error {
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		entry = &Entry{}
		m.entries[id] = entry
	}
	entry.State = queue.ReservationCompleted
	entry.Last = &completion

	m.seq++
	m.completed[id] = m.seq
	m.history = append(m.history, completionRecord{id: id, seq: m.seq})
	m.pruneLocked()
	return nil
}

// pruneLocked forgets the oldest completed ids beyond the limit. Records made
// stale by a later reserve or completion of the same id are skipped.
func (m *Memory) pruneLocked() {
	for len(m.completed) > m.limit && len(m.history) > 0 {
		rec := m.history[0]
		m.history = m.history[1:]
		if seq, ok := m.completed[rec.id]; ok && seq == rec.seq {
			delete(m.completed, rec.id)
			delete(m.entries, rec.id)
		}
	}
	if len(m.history) > 2*m.limit {
		live := make([]completionRecord, 0, len(m.completed))
		for _, rec := range m.history {
			if m.completed[rec.id] == rec.seq {
				live = append(live, rec)
			}
		}
		m.history = live
	}
}

// Lookup returns a copy of the state for id.
func (m *Memory) Lookup(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	snapshot := *entry
	if entry.Last != nil {
		last := *entry.Last
		snapshot.Last = &last
	}
	return snapshot, true
}
