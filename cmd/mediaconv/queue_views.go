package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mediaconv/internal/api"
	"mediaconv/internal/queue"
)

const shortIDLength = 8

func buildQueueStatusRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[string(status)]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{formatStatusLabel(string(status)), fmt.Sprintf("%d", count)})
	}
	return rows
}

// buildQueueListRows sorts newest first.
func buildQueueListRows(items []api.QueueItem, now time.Time) [][]string {
	sorted := make([]api.QueueItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseQueueTime(sorted[i].AddedAt).After(parseQueueTime(sorted[j].AddedAt))
	})

	rows := make([][]string, 0, len(sorted))
	for _, item := range sorted {
		rows = append(rows, []string{
			shortID(item.ID),
			item.Title,
			formatStatusLabel(item.Status),
			formatProgress(item),
			humanize.Bytes(uint64(max(item.SizeBytes, 0))),
			formatOutputSize(item.OutputSizeBytes),
			formatRelative(item.AddedAt, now),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return strings.ToUpper(status[:1]) + strings.ToLower(status[1:])
}

func formatProgress(item api.QueueItem) string {
	switch item.Status {
	case string(queue.StatusProcessing), string(queue.StatusFailed), string(queue.StatusCancelled):
		return fmt.Sprintf("%d%%", item.Progress)
	case string(queue.StatusCompleted):
		return "100%"
	default:
		return "-"
	}
}

func formatOutputSize(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(size))
}

func formatRelative(value string, now time.Time) string {
	t := parseQueueTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func parseQueueTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// describeItem renders one item as aligned key/value lines.
func describeItem(item api.QueueItem) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%-14s %s\n", label+":", value)
	}
	line("ID", item.ID)
	line("Title", item.Title)
	line("Status", formatStatusLabel(item.Status))
	line("Progress", formatProgress(item))
	line("Profile", item.Profile)
	line("Source", item.SourcePath)
	line("Source size", humanize.Bytes(uint64(max(item.SizeBytes, 0))))
	line("Output", item.OutputPath)
	if item.OutputSizeBytes > 0 {
		line("Output size", humanize.Bytes(uint64(item.OutputSizeBytes)))
		if item.SizeBytes > 0 {
			line("Ratio", fmt.Sprintf("%.1f%%", float64(item.OutputSizeBytes)*100/float64(item.SizeBytes)))
		}
	}
	line("Error", item.ErrorMessage)
	line("Added", item.AddedAt)
	line("Started", item.StartedAt)
	line("Completed", item.CompletedAt)
	return b.String()
}
