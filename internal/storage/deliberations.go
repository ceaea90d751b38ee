package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// InsertDeliberation persists a council deliberation. The full protocol
// record (responses, challenges, verdict) is stored as one JSON document;
// scalar columns exist for lookup and reporting.
func (db *DB) InsertDeliberation(ctx context.Context, d model.CouncilDeliberation) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("storage: marshal deliberation: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO deliberations (id, request_id, query, verdict_kind, total_duration_ms, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.RequestID, d.Query, d.Verdict.Kind, d.TotalDurationMs, payload, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: insert deliberation: %w", err)
	}
	return nil
}

// GetDeliberation retrieves a deliberation by id.
func (db *DB) GetDeliberation(ctx context.Context, id uuid.UUID) (model.CouncilDeliberation, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx,
		`SELECT payload FROM deliberations WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CouncilDeliberation{}, fmt.Errorf("storage: deliberation %s: %w", id, model.ErrNotFound)
		}
		return model.CouncilDeliberation{}, fmt.Errorf("storage: get deliberation: %w", err)
	}
	var d model.CouncilDeliberation
	if err := json.Unmarshal(payload, &d); err != nil {
		return model.CouncilDeliberation{}, fmt.Errorf("storage: unmarshal deliberation: %w", err)
	}
	return d, nil
}

// InsertAttributions persists the Shapley breakdown of one deliberation.
func (db *DB) InsertAttributions(ctx context.Context, deliberationID uuid.UUID, attrs []model.Attribution) error {
	for _, a := range attrs {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO shapley_attributions (deliberation_id, member, shapley_value, percentage,
			 response_quality, challenge_impact, consensus_alignment)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (deliberation_id, member)
			 DO UPDATE SET shapley_value = EXCLUDED.shapley_value, percentage = EXCLUDED.percentage,
			   response_quality = EXCLUDED.response_quality, challenge_impact = EXCLUDED.challenge_impact,
			   consensus_alignment = EXCLUDED.consensus_alignment`,
			deliberationID, a.Member, a.ShapleyValue, a.Percentage,
			a.ResponseQuality, a.ChallengeImpact, a.ConsensusAlignment,
		)
		if err != nil {
			return fmt.Errorf("storage: insert attribution: %w", err)
		}
	}
	return nil
}
