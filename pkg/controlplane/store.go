// Package controlplane persists durable cache control-plane metadata:
// namespace policies, key dependency edges, scheduled invalidations, event
// triggers, node registry audit history, and a durable revocation ledger.
// None of this is cache content itself — see spec Non-goals on durable
// storage of cached values.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a pgx-backed handle onto the control-plane schema.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New constructs a Store against an already-configured pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Ping verifies connectivity, used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
