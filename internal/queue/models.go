package queue

import (
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DaemonStopReason is the progress note left on items reset after an unclean shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	MissingColumns   []string
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Paused     int
	Failed     int
	Cancelled  int
	Completed  int
}

// Item represents a conversion job persisted in SQLite.
type Item struct {
	ID              string
	SourcePath      string
	OutputPath      string
	SizeBytes       int64
	Profile         string
	Status          Status
	Progress        int
	ErrorMessage    string
	OutputSizeBytes int64
	AddedAt         time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// Completion is the terminal outcome recorded against a reservation.
type Completion struct {
	Status        Status
	ErrorMessage  string
	OutputSize    int64
	HasOutputSize bool
	CompletedAt   time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsTerminal reports whether the item reached completed, failed, or cancelled.
func (i Item) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// IsProcessing returns true while a worker owns the item.
func (i Item) IsProcessing() bool {
	return i.Status == StatusProcessing
}

// SetProcessing moves the item into processing and resets per-run fields.
func (i *Item) SetProcessing() {
	now := time.Now().UTC()
	i.Status = StatusProcessing
	i.Progress = 0
	i.ErrorMessage = ""
	i.OutputSizeBytes = 0
	i.StartedAt = &now
	i.CompletedAt = nil
	i.LastHeartbeat = &now
}

// SetProgress records a new percentage. Values are clamped to [0,100] and
// ignored unless the item is processing and the value moves forward. It
// reports whether the stored progress changed.
func (i *Item) SetProgress(percent int) bool {
	if i.Status != StatusProcessing {
		return false
	}
	percent = min(max(percent, 0), 100)
	if percent <= i.Progress {
		return false
	}
	i.Progress = percent
	return true
}

// SetCompleted marks the item as successfully converted.
func (i *Item) SetCompleted(outputSize int64) {
	now := time.Now().UTC()
	i.Status = StatusCompleted
	i.Progress = 100
	i.ErrorMessage = ""
	i.OutputSizeBytes = outputSize
	i.CompletedAt = &now
	i.LastHeartbeat = nil
}

// SetFailed marks the item as failed with the given error message.
// Clears heartbeat so stale-item recovery ignores it.
func (i *Item) SetFailed(message string) {
	now := time.Now().UTC()
	i.Status = StatusFailed
	i.ErrorMessage = message
	i.OutputSizeBytes = 0
	i.CompletedAt = &now
	i.LastHeartbeat = nil
}

// SetCancelled marks the item as cancelled. Cancellation is a distinct
// terminal state and carries no error message.
func (i *Item) SetCancelled() {
	now := time.Now().UTC()
	i.Status = StatusCancelled
	i.ErrorMessage = ""
	i.OutputSizeBytes = 0
	i.CompletedAt = &now
	i.LastHeartbeat = nil
}

// Completion snapshots the item's terminal fields for the reservation store.
func (i Item) Completion() Completion {
	c := Completion{
		Status:       i.Status,
		ErrorMessage: i.ErrorMessage,
		CompletedAt:  time.Now().UTC(),
	}
	if i.CompletedAt != nil {
		c.CompletedAt = *i.CompletedAt
	}
	if i.Status == StatusCompleted {
		c.OutputSize = i.OutputSizeBytes
		c.HasOutputSize = true
	}
	return c
}

// DisplayTitle returns a human-friendly name derived from the source file stem.
func (i Item) DisplayTitle() string {
	base := strings.TrimSpace(filepath.Base(i.SourcePath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "Untitled"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(stem)
	stem = strings.Join(strings.Fields(stem), " ")
	if stem == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(stem)
}
