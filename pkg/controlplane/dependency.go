package controlplane

import (
	"context"
	"fmt"
)

// RecordDependency records that invalidating parentKey in namespace should
// also invalidate dependentKey, per the cascading-invalidation graph.
func (s *Store) RecordDependency(ctx context.Context, namespace, parentKey, dependentKey string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO cache_dependencies (namespace, parent_key, dependent_key)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, namespace, parentKey, dependentKey)
	if err != nil {
		return fmt.Errorf("recording dependency %s -> %s: %w", parentKey, dependentKey, err)
	}
	return nil
}

// RemoveDependency removes one dependency edge.
func (s *Store) RemoveDependency(ctx context.Context, namespace, parentKey, dependentKey string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		DELETE FROM cache_dependencies WHERE namespace = $1 AND parent_key = $2 AND dependent_key = $3`,
		namespace, parentKey, dependentKey)
	if err != nil {
		return fmt.Errorf("removing dependency %s -> %s: %w", parentKey, dependentKey, err)
	}
	return nil
}

// ListDependents returns every key directly dependent on parentKey within namespace.
func (s *Store) ListDependents(ctx context.Context, namespace, parentKey string) ([]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT dependent_key FROM cache_dependencies WHERE namespace = $1 AND parent_key = $2`,
		namespace, parentKey)
	if err != nil {
		return nil, fmt.Errorf("listing dependents of %s: %w", parentKey, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning dependent key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// ListDependentsTransitive walks the dependency graph breadth-first from
// parentKey, returning every key reachable through cascading invalidation.
// visited guards against cycles that RecordDependency itself doesn't forbid.
func (s *Store) ListDependentsTransitive(ctx context.Context, namespace, parentKey string) ([]string, error) {
	visited := map[string]bool{parentKey: true}
	queue := []string{parentKey}
	var out []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := s.ListDependents(ctx, namespace, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

// RemoveAllDependenciesForKey removes every edge where key appears as either
// parent or dependent, used when a key is deleted outright.
func (s *Store) RemoveAllDependenciesForKey(ctx context.Context, namespace, key string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		DELETE FROM cache_dependencies WHERE namespace = $1 AND (parent_key = $2 OR dependent_key = $2)`,
		namespace, key)
	if err != nil {
		return fmt.Errorf("removing dependencies for key %s: %w", key, err)
	}
	return nil
}
