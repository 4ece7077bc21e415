package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewItem inserts a pending conversion job and returns the stored row.
func (s *Store) NewItem(ctx context.Context, sourcePath, outputPath, profile string, sizeBytes int64) (*Item, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	id := uuid.NewString()
	timestamp := nowString()

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (
            id, source_path, output_path, size_bytes, profile, status,
            progress, added_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		sourcePath,
		nullableString(strings.TrimSpace(outputPath)),
		sizeBytes,
		nullableString(strings.ToLower(strings.TrimSpace(profile))),
		StatusPending,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier. A missing item yields nil, nil.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing queue item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET source_path = ?, output_path = ?, size_bytes = ?, profile = ?, status = ?,
             progress = ?, error_message = ?, output_size_bytes = ?, started_at = ?,
             completed_at = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		item.SourcePath,
		nullableString(item.OutputPath),
		item.SizeBytes,
		nullableString(item.Profile),
		item.Status,
		item.Progress,
		nullableString(item.ErrorMessage),
		item.OutputSizeBytes,
		nullableTime(item.StartedAt),
		nullableTime(item.CompletedAt),
		formatTime(item.UpdatedAt),
		nullableTime(item.LastHeartbeat),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// List returns queue items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY added_at, rowid`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextPending returns the oldest pending item that no worker currently holds a
// reservation for, or nil when the queue is idle.
func (s *Store) NextPending(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE status = ?
           AND id NOT IN (SELECT job_id FROM reservations WHERE state = ?)
         ORDER BY added_at, rowid LIMIT 1`,
		StatusPending,
		ReservationReserved,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending item: %w", err)
	}
	return item, nil
}

// Remove deletes an item and its reservation record.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM reservations WHERE job_id = ? AND state <> ?`, id, ReservationReserved); err != nil {
		return affected > 0, fmt.Errorf("delete reservation: %w", err)
	}
	return affected > 0, nil
}

// Clear removes every item that is not currently processing.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status <> ?`, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	if err := s.deleteOrphanReservations(ctx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed items from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.clearStatus(ctx, StatusCompleted)
}

// ClearFailed removes failed and cancelled items from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.clearStatus(ctx, StatusFailed, StatusCancelled)
}

func (s *Store) clearStatus(ctx context.Context, statuses ...Status) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_items WHERE status IN (`+makePlaceholders(len(statuses))+`)`,
		statusArgs(statuses)...,
	)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", statuses[0], err)
	}
	if err := s.deleteOrphanReservations(ctx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) deleteOrphanReservations(ctx context.Context) error {
	if _, err := s.execWithRetry(
		ctx,
		`DELETE FROM reservations
         WHERE state <> ? AND job_id NOT IN (SELECT id FROM queue_items)`,
		ReservationReserved,
	); err != nil {
		return fmt.Errorf("delete orphan reservations: %w", err)
	}
	return nil
}
