package logging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEvent is a structured log line retained by a StreamHub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	ItemID        string            `json:"item_id,omitempty"`
	Worker        *int              `json:"worker,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub stores recent log events and wakes waiters when new events arrive.
type StreamHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []LogEvent
	nextSeq  uint64
}

// NewStreamHub constructs a bounded in-memory log buffer.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &StreamHub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends a new log event, evicting the oldest when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
}

// Fetch returns events with a sequence greater than since. When wait is true
// it blocks until at least one event is available or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	if wait {
		stop := context.AfterFunc(ctx, func() {
			h.mu.Lock()
			h.cond.Broadcast()
			h.mu.Unlock()
		})
		defer stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copyLocked(max(len(h.buffer)-limit, 0), len(h.buffer)), h.nextSeq
}

// snapshotLocked returns up to limit events after since and the sequence to
// resume from.
func (h *StreamHub) snapshotLocked(since uint64, limit int) ([]LogEvent, uint64) {
	// Sequences in the buffer are ascending.
	start := sort.Search(len(h.buffer), func(i int) bool { return h.buffer[i].Sequence > since })
	if start == len(h.buffer) {
		return nil, h.nextSeq
	}
	out := h.copyLocked(start, min(start+limit, len(h.buffer)))
	return out, out[len(out)-1].Sequence
}

func (h *StreamHub) copyLocked(from, to int) []LogEvent {
	return append([]LogEvent(nil), h.buffer[from:to]...)
}

// streamHandler publishes records into a StreamHub. It is combined with the
// output handler through newFanoutHandler.
type streamHandler struct {
	hub    *StreamHub
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newStreamHandler(hub *StreamHub, level slog.Leveler) slog.Handler {
	if hub == nil {
		return nil
	}
	return &streamHandler{hub: hub, level: level}
}

func (h *streamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.level == nil || level >= h.level.Level()
}

func (h *streamHandler) Handle(_ context.Context, record slog.Record) error {
	h.hub.Publish(h.event(record))
	return nil
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *streamHandler) event(record slog.Record) LogEvent {
	event := LogEvent{
		Timestamp: record.Time.UTC(),
		Level:     levelLabel(record.Level),
		Message:   strings.TrimSpace(record.Message),
	}

	kvs := make(kvList, 0, len(h.attrs)+record.NumAttrs())
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})

	// Later attributes win, so call-site values override logger.With values.
	for _, entry := range kvs {
		switch entry.key {
		case "":
			continue
		case FieldComponent:
			event.Component = attrString(entry.value)
		case FieldItemID:
			event.ItemID = attrString(entry.value)
		case FieldStage:
			event.Stage = attrString(entry.value)
		case FieldCorrelationID:
			event.CorrelationID = attrString(entry.value)
		case FieldWorker:
			if entry.value.Kind() == slog.KindInt64 {
				worker := int(entry.value.Int64())
				event.Worker = &worker
			}
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[entry.key] = attrString(entry.value)
		}
	}
	return event
}
