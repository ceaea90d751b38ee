package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// CreateCheckpoint snapshots the given nodes under a label. The checkpoint
// records a stable hash over the sorted member id set; rollback verifies
// membership against it.
func (l *Ledger) CreateCheckpoint(ctx context.Context, userID, label, description string, nodeIDs []uuid.UUID) (*model.Checkpoint, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("ledger: create checkpoint: empty member set")
	}

	members := append([]uuid.UUID(nil), nodeIDs...)
	sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })

	snapshots := make([]model.NodeSnapshot, 0, len(members))
	for _, id := range members {
		node, err := l.store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, model.NodeSnapshot{
			NodeID:           node.ID,
			State:            node.State,
			Branch:           node.Branch,
			Confidence:       node.Confidence,
			Velocity:         node.Velocity,
			Queue:            node.Queue,
			AuditTrailLength: len(node.AuditTrail),
		})
	}

	cp := &model.Checkpoint{
		ID:          uuid.New(),
		UserID:      userID,
		Label:       label,
		Description: description,
		StateHash:   model.StateHash(members),
		MemberIDs:   members,
		Snapshots:   snapshots,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.store.InsertCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	l.logger.Info("ledger: checkpoint created",
		"checkpoint_id", cp.ID, "label", label, "members", len(members), "user_id", userID)
	return cp, nil
}

// GetCheckpoint returns a checkpoint by id.
func (l *Ledger) GetCheckpoint(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error) {
	return l.store.GetCheckpoint(ctx, id)
}

// Rollback restores every member node to its snapshotted state, confidence,
// and queue, and deprecates nodes created after the checkpoint that are
// reachable from the member set. History is never rewritten: each affected
// node gains ROLLBACK audit entries on top of its existing trail.
func (l *Ledger) Rollback(ctx context.Context, checkpointID uuid.UUID, userID string) (model.RollbackResult, error) {
	var result model.RollbackResult

	cp, err := l.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return result, err
	}

	// Deprecate post-checkpoint nodes reachable from the members.
	reachable, err := l.reachableFrom(ctx, cp.MemberIDs)
	if err != nil {
		return result, err
	}
	member := make(map[uuid.UUID]bool, len(cp.MemberIDs))
	for _, id := range cp.MemberIDs {
		member[id] = true
	}
	for _, id := range reachable {
		if member[id] {
			continue
		}
		node, err := l.store.GetNode(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return result, err
		}
		if !node.CreatedAt.After(cp.CreatedAt) || node.State == model.StateDeprecated {
			continue
		}
		err = l.store.UpdateNode(ctx, id, func(n *model.KnowledgeNode) error {
			now := l.now().UTC()
			n.AuditTrail = append(n.AuditTrail, model.AuditEntry{
				Timestamp: now,
				Action:    model.AuditRollback,
				FromState: n.State,
				ToState:   model.StateDeprecated,
				Trigger:   "rollback",
				Agent:     orDefault(userID, "system"),
				Reason:    fmt.Sprintf("created after checkpoint %s", cp.ID),
			})
			n.State = model.StateDeprecated
			n.UpdatedAt = now
			return nil
		})
		if err != nil {
			return result, err
		}
		result.InvalidatedCount++
	}

	// Restore each snapshotted member.
	for _, snap := range cp.Snapshots {
		err := l.store.UpdateNode(ctx, snap.NodeID, func(n *model.KnowledgeNode) error {
			now := l.now().UTC()
			delta := snap.Confidence - n.Confidence
			entry := model.AuditEntry{
				Timestamp: now,
				Action:    model.AuditRollback,
				FromState: n.State,
				ToState:   snap.State,
				Trigger:   "rollback",
				Agent:     orDefault(userID, "system"),
				Reason:    fmt.Sprintf("restored to checkpoint %s (%s)", cp.ID, cp.Label),
			}
			if delta != 0 {
				entry.ConfidenceDelta = &delta
			}
			n.State = snap.State
			n.Branch = snap.Branch
			n.Confidence = snap.Confidence
			n.Velocity = snap.Velocity
			n.Queue = snap.Queue
			n.UpdatedAt = now
			n.AuditTrail = append(n.AuditTrail, entry)
			return nil
		})
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				l.logger.Warn("ledger: rollback skipped missing member", "node_id", snap.NodeID)
				continue
			}
			return result, err
		}
		result.RestoredCount++
	}

	l.logger.Info("ledger: rollback complete",
		"checkpoint_id", cp.ID, "invalidated", result.InvalidatedCount, "restored", result.RestoredCount)
	return result, nil
}

// reachableFrom returns every node reachable from roots along dependency
// edges, roots included. Each node is visited once.
func (l *Ledger) reachableFrom(ctx context.Context, roots []uuid.UUID) ([]uuid.UUID, error) {
	visited := make(map[uuid.UUID]bool, len(roots))
	queue := append([]uuid.UUID(nil), roots...)
	var out []uuid.UUID
	for _, id := range roots {
		visited[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)

		edges, err := l.store.Dependents(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return out, nil
}
