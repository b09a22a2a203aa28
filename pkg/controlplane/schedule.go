package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PatternType selects how Pattern is interpreted when a schedule fires.
type PatternType string

const (
	PatternExact PatternType = "EXACT"
	PatternGlob  PatternType = "GLOB"
)

// Schedule is a durable, optionally recurring invalidation job.
type Schedule struct {
	ID              uuid.UUID
	Reason          string
	Pattern         string
	PatternType     PatternType
	Namespace       string
	ExecuteAt       time.Time
	Recurring       bool
	IntervalSeconds int64
	Cancelled       bool
	CreatedAt       time.Time
}

// ErrScheduleNotFound is returned when a schedule id doesn't exist.
var ErrScheduleNotFound = errors.New("controlplane: schedule not found")

// CreateSchedule inserts a new scheduled invalidation and returns its id.
func (s *Store) CreateSchedule(ctx context.Context, sched Schedule) (uuid.UUID, error) {
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO scheduled_invalidations
			(id, reason, pattern, pattern_type, namespace, execute_at, recurring, interval_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sched.ID, sched.Reason, sched.Pattern, string(sched.PatternType), sched.Namespace,
		sched.ExecuteAt, sched.Recurring, sched.IntervalSeconds,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating schedule: %w", err)
	}
	return sched.ID, nil
}

// CancelSchedule marks a schedule cancelled so it no longer fires.
func (s *Store) CancelSchedule(ctx context.Context, id uuid.UUID) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, "UPDATE scheduled_invalidations SET cancelled = true WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("cancelling schedule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ListDueSchedules returns every non-cancelled schedule whose execute_at has
// passed asOf, for the invalidation worker to pick up and act on.
func (s *Store) ListDueSchedules(ctx context.Context, asOf time.Time) ([]Schedule, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, reason, pattern, pattern_type, namespace, execute_at, recurring, interval_seconds, cancelled, created_at
		FROM scheduled_invalidations
		WHERE NOT cancelled AND execute_at <= $1
		ORDER BY execute_at`, asOf)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sched Schedule
		var patternType string
		if err := rows.Scan(&sched.ID, &sched.Reason, &sched.Pattern, &patternType, &sched.Namespace,
			&sched.ExecuteAt, &sched.Recurring, &sched.IntervalSeconds, &sched.Cancelled, &sched.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		sched.PatternType = PatternType(patternType)
		out = append(out, sched)
	}
	return out, rows.Err()
}

// RescheduleNext advances a recurring schedule's execute_at by its interval,
// called by the worker after it fires.
func (s *Store) RescheduleNext(ctx context.Context, id uuid.UUID, next time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, "UPDATE scheduled_invalidations SET execute_at = $1 WHERE id = $2", next, id)
	if err != nil {
		return fmt.Errorf("rescheduling %s: %w", id, err)
	}
	return nil
}

// GetSchedule retrieves a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (Schedule, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	var sched Schedule
	var patternType string
	err = conn.QueryRow(ctx, `
		SELECT id, reason, pattern, pattern_type, namespace, execute_at, recurring, interval_seconds, cancelled, created_at
		FROM scheduled_invalidations WHERE id = $1`, id,
	).Scan(&sched.ID, &sched.Reason, &sched.Pattern, &patternType, &sched.Namespace,
		&sched.ExecuteAt, &sched.Recurring, &sched.IntervalSeconds, &sched.Cancelled, &sched.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, ErrScheduleNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("querying schedule %s: %w", id, err)
	}
	sched.PatternType = PatternType(patternType)
	return sched, nil
}
