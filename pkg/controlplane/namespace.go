package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// NamespacePolicy is the durable eviction/TTL policy for one cache namespace.
type NamespacePolicy struct {
	Name           string
	TenantID       string
	EvictionPolicy string
	DefaultTTL     time.Duration
	MaxEntries     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNamespaceNotFound is returned when a namespace policy doesn't exist.
var ErrNamespaceNotFound = errors.New("controlplane: namespace policy not found")

// UpsertNamespacePolicy inserts or replaces the policy for a namespace.
func (s *Store) UpsertNamespacePolicy(ctx context.Context, p NamespacePolicy) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO namespace_policies (name, tenant_id, eviction_policy, default_ttl_seconds, max_entries, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (name) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			eviction_policy = EXCLUDED.eviction_policy,
			default_ttl_seconds = EXCLUDED.default_ttl_seconds,
			max_entries = EXCLUDED.max_entries,
			updated_at = now()`,
		p.Name, p.TenantID, p.EvictionPolicy, int64(p.DefaultTTL.Seconds()), p.MaxEntries,
	)
	if err != nil {
		return fmt.Errorf("upserting namespace policy %q: %w", p.Name, err)
	}
	return nil
}

// GetNamespacePolicy retrieves the policy for a namespace.
func (s *Store) GetNamespacePolicy(ctx context.Context, name string) (NamespacePolicy, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return NamespacePolicy{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	var p NamespacePolicy
	var ttlSeconds int64
	err = conn.QueryRow(ctx, `
		SELECT name, tenant_id, eviction_policy, default_ttl_seconds, max_entries, created_at, updated_at
		FROM namespace_policies WHERE name = $1`, name,
	).Scan(&p.Name, &p.TenantID, &p.EvictionPolicy, &ttlSeconds, &p.MaxEntries, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return NamespacePolicy{}, ErrNamespaceNotFound
	}
	if err != nil {
		return NamespacePolicy{}, fmt.Errorf("querying namespace policy %q: %w", name, err)
	}
	p.DefaultTTL = time.Duration(ttlSeconds) * time.Second
	return p, nil
}

// ListNamespacePolicies returns every registered namespace policy, ordered by name.
func (s *Store) ListNamespacePolicies(ctx context.Context) ([]NamespacePolicy, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT name, tenant_id, eviction_policy, default_ttl_seconds, max_entries, created_at, updated_at
		FROM namespace_policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing namespace policies: %w", err)
	}
	defer rows.Close()

	var out []NamespacePolicy
	for rows.Next() {
		var p NamespacePolicy
		var ttlSeconds int64
		if err := rows.Scan(&p.Name, &p.TenantID, &p.EvictionPolicy, &ttlSeconds, &p.MaxEntries, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning namespace policy: %w", err)
		}
		p.DefaultTTL = time.Duration(ttlSeconds) * time.Second
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteNamespacePolicy removes a namespace's policy.
func (s *Store) DeleteNamespacePolicy(ctx context.Context, name string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, "DELETE FROM namespace_policies WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("deleting namespace policy %q: %w", name, err)
	}
	return nil
}
