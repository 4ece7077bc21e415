package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediaconv/internal/logging"
)

// ReservationState is the lifecycle of a job id in the reservations table.
type ReservationState string

const (
	ReservationReserved  ReservationState = "reserved"
	ReservationCompleted ReservationState = "completed"
	ReservationReleased  ReservationState = "released"
)

// Reservation describes the reservation row for one job id.
type Reservation struct {
	JobID      string
	State      ReservationState
	Attempts   int
	ReservedAt time.Time
	Last       *Completion
}

// TryReserve atomically claims id for the caller. Exactly one of any number of
// concurrent callers observes true; the rest observe false without blocking.
// Completed or released ids can be reserved again.
func (s *Store) TryReserve(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var (
		attempts    int
		lastOutcome string
		reserved    bool
	)
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`INSERT INTO reservations (job_id, state, reserved_at, attempts)
             VALUES (?, ?, ?, 1)
             ON CONFLICT(job_id) DO UPDATE SET
                 state = excluded.state,
                 reserved_at = excluded.reserved_at,
                 attempts = reservations.attempts + 1
             WHERE reservations.state <> ?
             RETURNING attempts, COALESCE(outcome_status, '')`,
			id,
			ReservationReserved,
			nowString(),
			ReservationReserved,
		)
		scanErr := row.Scan(&attempts, &lastOutcome)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			reserved = false
			return nil
		case scanErr != nil:
			return scanErr
		default:
			reserved = true
			return nil
		}
	})
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", id, err)
	}
	if reserved && Status(lastOutcome) == StatusCompleted {
		logging.WarnWithContext(s.logger, "re-reserving a completed job", "reservation_reprocess",
			logging.String(logging.FieldItemID, id),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "completed items are being reprocessed; check for duplicate retry requests"),
		)
	}
	return reserved, nil
}

// Complete records the terminal outcome for id and releases its reservation.
// Ids that were never reserved are recorded without error.
func (s *Store) Complete(ctx context.Context, id string, completion Completion) error {
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = time.Now().UTC()
	}
	var outputSize any
	if completion.HasOutputSize {
		outputSize = completion.OutputSize
	}
	completedAt := formatTime(completion.CompletedAt)
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO reservations (
             job_id, state, reserved_at, completed_at, outcome_status, error_message, output_size, attempts
         ) VALUES (?, ?, ?, ?, ?, ?, ?, 0)
         ON CONFLICT(job_id) DO UPDATE SET
             state = excluded.state,
             completed_at = excluded.completed_at,
             outcome_status = excluded.outcome_status,
             error_message = excluded.error_message,
             output_size = excluded.output_size`,
		id,
		ReservationCompleted,
		completedAt,
		completedAt,
		completion.Status,
		nullableString(completion.ErrorMessage),
		outputSize,
	); err != nil {
		return fmt.Errorf("complete reservation %s: %w", id, err)
	}
	return nil
}

// LookupReservation returns the reservation row for id, if any.
func (s *Store) LookupReservation(ctx context.Context, id string) (*Reservation, error) {
	var (
		state        string
		attempts     int
		reservedRaw  string
		completedRaw sql.NullString
		outcome      sql.NullString
		errorMessage sql.NullString
		outputSize   sql.NullInt64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT state, attempts, reserved_at, completed_at, outcome_status, error_message, output_size
         FROM reservations WHERE job_id = ?`,
		id,
	).Scan(&state, &attempts, &reservedRaw, &completedRaw, &outcome, &errorMessage, &outputSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup reservation: %w", err)
	}

	res := &Reservation{
		JobID:    id,
		State:    ReservationState(state),
		Attempts: attempts,
	}
	if reservedAt, err := parseTimeString(reservedRaw); err == nil {
		res.ReservedAt = reservedAt
	}
	if outcome.Valid {
		last := &Completion{
			Status:        Status(outcome.String),
			ErrorMessage:  errorMessage.String,
			OutputSize:    outputSize.Int64,
			HasOutputSize: outputSize.Valid,
		}
		if completedAt := parseNullableTime(completedRaw); completedAt != nil {
			last.CompletedAt = *completedAt
		}
		res.Last = last
	}
	return res, nil
}
