package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, source_path, output_path, size_bytes, profile, status, progress, error_message, output_size_bytes, added_at, started_at, completed_at, updated_at, last_heartbeat"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               string
		sourcePath       string
		outputPath       sql.NullString
		sizeBytes        sql.NullInt64
		profile          sql.NullString
		statusStr        string
		progress         sql.NullInt64
		errorMessage     sql.NullString
		outputSize       sql.NullInt64
		addedRaw         sql.NullString
		startedRaw       sql.NullString
		completedRaw     sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&outputPath,
		&sizeBytes,
		&profile,
		&statusStr,
		&progress,
		&errorMessage,
		&outputSize,
		&addedRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:              id,
		SourcePath:      sourcePath,
		OutputPath:      outputPath.String,
		SizeBytes:       sizeBytes.Int64,
		Profile:         profile.String,
		Status:          Status(statusStr),
		Progress:        int(progress.Int64),
		ErrorMessage:    errorMessage.String,
		OutputSizeBytes: outputSize.Int64,
		StartedAt:       parseNullableTime(startedRaw),
		CompletedAt:     parseNullableTime(completedRaw),
		LastHeartbeat:   parseNullableTime(lastHeartbeatRaw),
	}
	if added, err := parseTimeString(addedRaw.String); err == nil {
		item.AddedAt = added
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}
