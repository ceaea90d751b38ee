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

// InsertCheckpoint persists a checkpoint with its snapshots.
func (db *DB) InsertCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	snapshots, err := json.Marshal(cp.Snapshots)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshots: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, user_id, label, description, state_hash, member_ids, snapshots, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cp.ID, cp.UserID, cp.Label, cp.Description, cp.StateHash, cp.MemberIDs, snapshots, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by id.
func (db *DB) GetCheckpoint(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error) {
	var (
		cp        model.Checkpoint
		snapshots []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, label, description, state_hash, member_ids, snapshots, created_at
		 FROM checkpoints WHERE id = $1`, id,
	).Scan(&cp.ID, &cp.UserID, &cp.Label, &cp.Description, &cp.StateHash, &cp.MemberIDs, &snapshots, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: checkpoint %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get checkpoint: %w", err)
	}
	if err := json.Unmarshal(snapshots, &cp.Snapshots); err != nil {
		return nil, fmt.Errorf("storage: unmarshal snapshots: %w", err)
	}
	return &cp, nil
}
