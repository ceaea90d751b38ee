package storage

import (
	"context"
	"fmt"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// InsertAlert persists a watcher alert.
func (db *DB) InsertAlert(ctx context.Context, alert model.Alert) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO alerts (id, node_id, alert_type, severity, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.ID, alert.NodeID, alert.Type, alert.Severity, alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the most recent alerts, newest first.
func (db *DB) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, node_id, alert_type, severity, message, created_at
		 FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.NodeID, &a.Type, &a.Severity, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
