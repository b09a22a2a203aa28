package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrRevocationNotFound is returned when a token hash has no ledger entry.
var ErrRevocationNotFound = errors.New("controlplane: revocation not found")

// RecordRevocation writes a durable revocation record for tokenHash,
// backstopping the TTL'd Redis revocation key: Redis answers the hot path,
// this ledger survives a cache flush.
func (s *Store) RecordRevocation(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO token_revocations (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		tokenHash, userID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("recording revocation for %s: %w", tokenHash, err)
	}
	return nil
}

// IsRevoked reports whether tokenHash has a live (non-expired) revocation
// record, for use when rehydrating the Redis cache after a flush.
func (s *Store) IsRevoked(ctx context.Context, tokenHash string, asOf time.Time) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	var expiresAt time.Time
	err = conn.QueryRow(ctx, "SELECT expires_at FROM token_revocations WHERE token_hash = $1", tokenHash).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying revocation for %s: %w", tokenHash, err)
	}
	return expiresAt.After(asOf), nil
}

// CleanupExpiredRevocations deletes ledger rows whose expiry has passed,
// returning the number of rows removed. Intended to run on a periodic
// housekeeping schedule since the ledger has no TTL of its own.
func (s *Store) CleanupExpiredRevocations(ctx context.Context, asOf time.Time) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, "DELETE FROM token_revocations WHERE expires_at <= $1", asOf)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}
