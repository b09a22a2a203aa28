package controlplane

import (
	"context"
	"fmt"
	"time"
)

// NodeEvent is one append-only entry in the node registry audit log,
// recording a cluster membership observation (join, leave, suspect).
type NodeEvent struct {
	NodeID     string
	Address    string
	Status     string
	ObservedAt time.Time
}

// RecordNodeEvent appends a membership observation. The log is append-only;
// there is no update or delete path, matching its use as an audit trail.
func (s *Store) RecordNodeEvent(ctx context.Context, ev NodeEvent) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO node_audit_log (node_id, address, status, observed_at)
		VALUES ($1, $2, $3, now())`, ev.NodeID, ev.Address, ev.Status)
	if err != nil {
		return fmt.Errorf("recording node event for %s: %w", ev.NodeID, err)
	}
	return nil
}

// ListNodeHistory returns the most recent limit audit entries for a node,
// newest first.
func (s *Store) ListNodeHistory(ctx context.Context, nodeID string, limit int) ([]NodeEvent, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT node_id, address, status, observed_at FROM node_audit_log
		WHERE node_id = $1 ORDER BY observed_at DESC LIMIT $2`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing node history for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []NodeEvent
	for rows.Next() {
		var ev NodeEvent
		if err := rows.Scan(&ev.NodeID, &ev.Address, &ev.Status, &ev.ObservedAt); err != nil {
			return nil, fmt.Errorf("scanning node event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
