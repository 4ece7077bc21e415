package api

import (
	"time"

	"mediaconv/internal/deps"
	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
	"mediaconv/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	SourcePath      string `json:"sourcePath"`
	OutputPath      string `json:"outputPath,omitempty"`
	Profile         string `json:"profile,omitempty"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	SizeBytes       int64  `json:"sizeBytes"`
	OutputSizeBytes int64  `json:"outputSizeBytes,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	AddedAt         string `json:"addedAt,omitempty"`
	StartedAt       string `json:"startedAt,omitempty"`
	CompletedAt     string `json:"completedAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// FromQueueItem converts a queue item into its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	return QueueItem{
		ID:              item.ID,
		Title:           item.DisplayTitle(),
		SourcePath:      item.SourcePath,
		OutputPath:      item.OutputPath,
		Profile:         item.Profile,
		Status:          string(item.Status),
		Progress:        item.Progress,
		SizeBytes:       item.SizeBytes,
		OutputSizeBytes: item.OutputSizeBytes,
		ErrorMessage:    item.ErrorMessage,
		AddedAt:         formatTime(item.AddedAt),
		StartedAt:       formatTimePtr(item.StartedAt),
		CompletedAt:     formatTimePtr(item.CompletedAt),
		UpdatedAt:       formatTime(item.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// WorkflowStatus summarizes worker pool state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	Workers    int            `json:"workers"`
	InFlight   []string       `json:"inFlight"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastItem   *QueueItem     `json:"lastItem,omitempty"`
}

// FromStatusSummary converts workflow diagnostics into the API shape.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}
	out := WorkflowStatus{
		Running:    summary.Running,
		Workers:    summary.Workers,
		InFlight:   summary.InFlight,
		QueueStats: stats,
		LastError:  summary.LastError,
	}
	if out.InFlight == nil {
		out.InFlight = []string{}
	}
	if summary.LastItem != nil {
		item := FromQueueItem(summary.LastItem)
		out.LastItem = &item
	}
	return out
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// FromDependencies converts dependency checks into the API shape.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		}
	}
	return out
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    string             `json:"startedAt,omitempty"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// EnqueueRequest is the body accepted by POST /api/queue.
type EnqueueRequest struct {
	SourcePath string `json:"sourcePath" binding:"required"`
	OutputPath string `json:"outputPath"`
	Profile    string `json:"profile"`
}

// RetryRequest is the optional body accepted by POST /api/queue/retry.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

// RetryResponse reports how many items were requeued.
type RetryResponse struct {
	Retried int64 `json:"retried"`
}

// LogStreamResponse carries a batch of log events and the cursor to resume from.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ClearRequest is the body accepted by POST /api/queue/clear. Scope is one of
// "all", "completed" or "failed"; empty means all.
type ClearRequest struct {
	Scope string `json:"scope"`
}

// ClearResponse reports how many items were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueHealth reports per-status counts.
type QueueHealth struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Paused     int `json:"paused"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Completed  int `json:"completed"`
}

// FromHealthSummary converts store health counts into the API shape.
func FromHealthSummary(h queue.HealthSummary) QueueHealth {
	return QueueHealth(h)
}
