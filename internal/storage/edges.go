package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// UpsertEdge inserts or replaces the dependency edge keyed by (source, target).
func (db *DB) UpsertEdge(ctx context.Context, edge model.DependencyEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO knowledge_dependencies (source_id, target_id, relation, strength, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id, target_id)
		 DO UPDATE SET relation = EXCLUDED.relation, strength = EXCLUDED.strength`,
		edge.Source, edge.Target, edge.Relation, edge.Strength, edge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert edge: %w", err)
	}
	return nil
}

// Dependents returns all edges leaving id, ordered by target for stable
// cascade traversal.
func (db *DB) Dependents(ctx context.Context, id uuid.UUID) ([]model.DependencyEdge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT source_id, target_id, relation, strength, created_at
		 FROM knowledge_dependencies WHERE source_id = $1
		 ORDER BY target_id`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: dependents: %w", err)
	}
	defer rows.Close()

	var out []model.DependencyEdge
	for rows.Next() {
		var e model.DependencyEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Strength, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
