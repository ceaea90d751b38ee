package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

const nodeColumns = `id, statement, domain, tags, branch, state, confidence, velocity,
	priority_queue, last_scan, next_scan, idle_cycles, audit_trail, shapley, sources,
	created_at, updated_at`

// InsertNode persists a new knowledge node.
func (db *DB) InsertNode(ctx context.Context, node *model.KnowledgeNode) error {
	audit, shapley, sources, err := marshalNodeJSON(node)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO knowledge_nodes (id, statement, domain, tags, branch, state, confidence,
		 velocity, priority_queue, last_scan, next_scan, idle_cycles, audit_trail, shapley,
		 sources, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		node.ID, node.Statement, node.Domain, node.Tags, node.Branch, node.State, node.Confidence,
		node.Velocity, node.Queue, node.LastScan, node.NextScan, node.IdleCycles, audit, shapley,
		sources, node.Embedding, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert node: %w", err)
	}
	return nil
}

// GetNode retrieves a node by id.
func (db *DB) GetNode(ctx context.Context, id uuid.UUID) (*model.KnowledgeNode, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE id = $1`, id)
	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: node %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get node: %w", err)
	}
	return node, nil
}

// UpdateNode applies fn to the node inside a transaction holding a row lock,
// then writes the result back. Concurrent updates of the same node serialize
// on the lock.
func (db *DB) UpdateNode(ctx context.Context, id uuid.UUID, fn func(*model.KnowledgeNode) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE id = $1 FOR UPDATE`, id)
	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: node %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("storage: lock node: %w", err)
	}

	if err := fn(node); err != nil {
		return err
	}

	audit, shapley, sources, err := marshalNodeJSON(node)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE knowledge_nodes SET statement = $2, domain = $3, tags = $4, branch = $5,
		 state = $6, confidence = $7, velocity = $8, priority_queue = $9, last_scan = $10,
		 next_scan = $11, idle_cycles = $12, audit_trail = $13, shapley = $14, sources = $15,
		 updated_at = $16
		 WHERE id = $1`,
		node.ID, node.Statement, node.Domain, node.Tags, node.Branch, node.State,
		node.Confidence, node.Velocity, node.Queue, node.LastScan, node.NextScan,
		node.IdleCycles, audit, shapley, sources, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: update node: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit node update: %w", err)
	}
	return nil
}

// DueNodes returns up to limit nodes in queue due for a scan at cutoff,
// excluding terminal states, ordered by next_scan with NULLs first.
func (db *DB) DueNodes(ctx context.Context, queue model.PriorityQueue, cutoff time.Time, limit int) ([]*model.KnowledgeNode, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes
		 WHERE priority_queue = $1
		   AND state NOT IN ('DEPRECATED', 'REJECTED')
		   AND (next_scan IS NULL OR next_scan <= $2)
		 ORDER BY next_scan ASC NULLS FIRST
		 LIMIT $3`,
		queue, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: due nodes: %w", err)
	}
	defer rows.Close()

	var out []*model.KnowledgeNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan due node: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// Stats aggregates node, edge, and alert counts.
func (db *DB) Stats(ctx context.Context) (ledger.Stats, error) {
	stats := ledger.Stats{
		ByState:  make(map[model.NodeState]int),
		ByBranch: make(map[model.Branch]int),
		ByQueue:  make(map[model.PriorityQueue]int),
	}

	rows, err := db.pool.Query(ctx,
		`SELECT state, branch, priority_queue, COUNT(*) FROM knowledge_nodes
		 GROUP BY state, branch, priority_queue`)
	if err != nil {
		return stats, fmt.Errorf("storage: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state  model.NodeState
			branch model.Branch
			queue  model.PriorityQueue
			count  int
		)
		if err := rows.Scan(&state, &branch, &queue, &count); err != nil {
			return stats, fmt.Errorf("storage: scan stats: %w", err)
		}
		stats.TotalNodes += count
		stats.ByState[state] += count
		stats.ByBranch[branch] += count
		stats.ByQueue[queue] += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_dependencies`).Scan(&stats.Edges); err != nil {
		return stats, fmt.Errorf("storage: count edges: %w", err)
	}
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&stats.Alerts); err != nil {
		return stats, fmt.Errorf("storage: count alerts: %w", err)
	}
	return stats, nil
}

func marshalNodeJSON(node *model.KnowledgeNode) (audit, shapley, sources []byte, err error) {
	audit, err = json.Marshal(node.AuditTrail)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal audit trail: %w", err)
	}
	shapley, err = json.Marshal(node.Shapley)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal shapley: %w", err)
	}
	sources, err = json.Marshal(node.Sources)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal sources: %w", err)
	}
	return audit, shapley, sources, nil
}

func scanNode(row pgx.Row) (*model.KnowledgeNode, error) {
	var (
		node    model.KnowledgeNode
		audit   []byte
		shapley []byte
		sources []byte
	)
	err := row.Scan(
		&node.ID, &node.Statement, &node.Domain, &node.Tags, &node.Branch, &node.State,
		&node.Confidence, &node.Velocity, &node.Queue, &node.LastScan, &node.NextScan,
		&node.IdleCycles, &audit, &shapley, &sources, &node.CreatedAt, &node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audit, &node.AuditTrail); err != nil {
		return nil, fmt.Errorf("unmarshal audit trail: %w", err)
	}
	if len(shapley) > 0 {
		if err := json.Unmarshal(shapley, &node.Shapley); err != nil {
			return nil, fmt.Errorf("unmarshal shapley: %w", err)
		}
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &node.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	return &node, nil
}
