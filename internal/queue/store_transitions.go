package queue

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckProcessing returns items left processing by a previous daemon run
// to pending and releases their reservations. Call only while holding the
// daemon lock; no worker can own these items at that point.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, progress = 0, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		nowString(),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE reservations SET state = ? WHERE state = ?`,
		ReservationReleased,
		ReservationReserved,
	); err != nil {
		return 0, fmt.Errorf("release reservations: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := nowString()
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusProcessing,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns processing items whose heartbeat expired
// before cutoff to pending and releases their reservations.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoffRaw := formatTime(cutoff)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE reservations SET state = ?
         WHERE state = ? AND job_id IN (
             SELECT id FROM queue_items
             WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?
         )`,
		ReservationReleased,
		ReservationReserved,
		StatusProcessing,
		cutoffRaw,
	); err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE queue_items
         SET status = ?, progress = 0, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		nowString(),
		StatusProcessing,
		cutoffRaw,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return res.RowsAffected()
}

// Retry moves failed and cancelled items back to pending. With no ids every
// eligible item is retried.
func (s *Store) Retry(ctx context.Context, ids ...string) (int64, error) {
	args := []any{StatusPending, nowString(), StatusFailed, StatusCancelled}
	query := `UPDATE queue_items
        SET status = ?, progress = 0, error_message = NULL, output_size_bytes = 0,
            started_at = NULL, completed_at = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (?, ?)`
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry items: %w", err)
	}
	return res.RowsAffected()
}

// Pause parks a pending item so workers skip it.
func (s *Store) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusPaused, StatusPending)
}

// Resume returns a paused item to pending.
func (s *Store) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusPending, StatusPaused)
}

// CancelQueued cancels an item that has not started yet. Running items are
// cancelled through the workflow manager instead.
func (s *Store) CancelQueued(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusCancelled, StatusPending, StatusPaused)
}

func (s *Store) transition(ctx context.Context, id string, to Status, from ...Status) error {
	args := []any{to, nowString()}
	completedClause := ""
	if to.IsTerminal() {
		completedClause = ", completed_at = ?"
		args = append(args, nowString())
	}
	args = append(args, id)
	args = append(args, statusArgs(from)...)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items SET status = ?, updated_at = ?`+completedClause+`
         WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%w: item %s is %s, cannot become %s", ErrInvalidTransition, id, item.Status, to)
}
