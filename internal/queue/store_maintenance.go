package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const healthProbeTimeout = 2 * time.Second

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	var summary HealthSummary
	buckets := map[Status]*int{
		StatusPending:    &summary.Pending,
		StatusProcessing: &summary.Processing,
		StatusPaused:     &summary.Paused,
		StatusFailed:     &summary.Failed,
		StatusCancelled:  &summary.Cancelled,
		StatusCompleted:  &summary.Completed,
	}
	for status, count := range stats {
		summary.Total += count
		if bucket, ok := buckets[status]; ok {
			*bucket += count
		}
	}
	return summary, nil
}

// PurgeFinished deletes terminal items that completed before cutoff, along
// with their reservation records.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM queue_items
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished items: %w", err)
	}
	if err := s.deleteOrphanReservations(ctx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// itemColumnNames lists the queue_items columns the store reads and writes.
var itemColumnNames = []string{
	"id", "source_path", "output_path", "size_bytes", "profile", "status",
	"progress", "error_message", "output_size_bytes", "added_at",
	"started_at", "completed_at", "updated_at", "last_heartbeat",
}

// CheckHealth inspects the database file, schema version, table layout and
// integrity. A missing file is reported, not treated as an error.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	exists, err := s.databaseFileExists()
	if err != nil || !exists {
		return health, err
	}
	health.DatabaseExists = true
	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	fail := func(err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, err
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping queue database: %w", err))
	}
	health.DatabaseReadable = true

	if health.SchemaVersion, err = s.readSchemaVersion(ctx); err != nil {
		return fail(err)
	}

	present, err := s.tableColumns(ctx, "queue_items")
	if err != nil {
		return fail(err)
	}
	health.TableExists = len(present) > 0
	for _, col := range itemColumnNames {
		if !present[col] {
			health.MissingColumns = append(health.MissingColumns, col)
		}
	}
	if health.TableExists {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&health.TotalItems); err != nil {
			return fail(fmt.Errorf("count queue items: %w", err))
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return fail(fmt.Errorf("integrity check: %w", err))
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}

func (s *Store) databaseFileExists() (bool, error) {
	if s.path == "" {
		return false, errors.New("queue database path is unknown")
	}
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat queue database: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	return true, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return present, nil
}
