package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventTrigger fires a pattern-based invalidation in response to an upstream
// event type (e.g. "order.updated"), optionally gated by a set of
// attribute-match conditions on the event payload.
type EventTrigger struct {
	ID          uuid.UUID
	EventType   string
	Pattern     string
	PatternType PatternType
	Namespace   string
	Conditions  map[string]any
	Paused      bool
}

// ErrTriggerNotFound is returned when a trigger id doesn't exist.
var ErrTriggerNotFound = errors.New("controlplane: event trigger not found")

// CreateEventTrigger inserts a new trigger and returns its id.
func (s *Store) CreateEventTrigger(ctx context.Context, t EventTrigger) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Conditions == nil {
		t.Conditions = map[string]any{}
	}
	conditions, err := json.Marshal(t.Conditions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling trigger conditions: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO event_triggers (id, event_type, pattern, pattern_type, namespace, conditions)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.EventType, t.Pattern, string(t.PatternType), t.Namespace, conditions,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating event trigger: %w", err)
	}
	return t.ID, nil
}

// PauseTrigger stops a trigger from firing without deleting it.
func (s *Store) PauseTrigger(ctx context.Context, id uuid.UUID) error {
	return s.setTriggerPaused(ctx, id, true)
}

// ResumeTrigger re-enables a paused trigger.
func (s *Store) ResumeTrigger(ctx context.Context, id uuid.UUID) error {
	return s.setTriggerPaused(ctx, id, false)
}

func (s *Store) setTriggerPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, "UPDATE event_triggers SET paused = $1 WHERE id = $2", paused, id)
	if err != nil {
		return fmt.Errorf("updating trigger %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// ListEventTriggers returns every non-paused trigger registered for eventType.
func (s *Store) ListEventTriggers(ctx context.Context, eventType string) ([]EventTrigger, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, event_type, pattern, pattern_type, namespace, conditions, paused
		FROM event_triggers WHERE event_type = $1 AND NOT paused`, eventType)
	if err != nil {
		return nil, fmt.Errorf("listing event triggers for %s: %w", eventType, err)
	}
	defer rows.Close()

	var out []EventTrigger
	for rows.Next() {
		var t EventTrigger
		var patternType string
		var conditions []byte
		if err := rows.Scan(&t.ID, &t.EventType, &t.Pattern, &patternType, &t.Namespace, &conditions, &t.Paused); err != nil {
			return nil, fmt.Errorf("scanning event trigger: %w", err)
		}
		t.PatternType = PatternType(patternType)
		if err := json.Unmarshal(conditions, &t.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshaling trigger conditions: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetEventTrigger retrieves a trigger by id.
func (s *Store) GetEventTrigger(ctx context.Context, id uuid.UUID) (EventTrigger, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return EventTrigger{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	var t EventTrigger
	var patternType string
	var conditions []byte
	err = conn.QueryRow(ctx, `
		SELECT id, event_type, pattern, pattern_type, namespace, conditions, paused
		FROM event_triggers WHERE id = $1`, id,
	).Scan(&t.ID, &t.EventType, &t.Pattern, &patternType, &t.Namespace, &conditions, &t.Paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return EventTrigger{}, ErrTriggerNotFound
	}
	if err != nil {
		return EventTrigger{}, fmt.Errorf("querying event trigger %s: %w", id, err)
	}
	t.PatternType = PatternType(patternType)
	if err := json.Unmarshal(conditions, &t.Conditions); err != nil {
		return EventTrigger{}, fmt.Errorf("unmarshaling trigger conditions: %w", err)
	}
	return t, nil
}
