package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// StrongEdgeThreshold separates direct invalidation from review scheduling.
const StrongEdgeThreshold = 0.8

// CascadeResult reports one cascade invalidation.
type CascadeResult struct {
	RootID           uuid.UUID   `json:"root_id"`
	InvalidatedIDs   []uuid.UUID `json:"invalidated_ids"`
	ReviewIDs        []uuid.UUID `json:"review_ids"`
	InvalidatedCount int         `json:"invalidated_count"`
	ReviewCount      int         `json:"review_count"`
	DurationMs       int64       `json:"duration_ms"`
}

// CascadeInvalidate deprecates rootId and every node strongly dependent on
// it, breadth-first. Each node is visited at most once; cycles are broken by
// the visited set. Weak dependents (edge strength below the threshold) are
// scheduled for HOT review instead of deprecated.
func (l *Ledger) CascadeInvalidate(ctx context.Context, rootID uuid.UUID, invalidator, reason string) (CascadeResult, error) {
	start := l.now()
	result := CascadeResult{RootID: rootID}

	if _, err := l.store.GetNode(ctx, rootID); err != nil {
		return result, err
	}

	visited := map[uuid.UUID]bool{rootID: true}
	review := map[uuid.UUID]bool{}
	queue := []uuid.UUID{rootID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		err := l.store.UpdateNode(ctx, id, func(node *model.KnowledgeNode) error {
			now := l.now().UTC()
			node.AuditTrail = append(node.AuditTrail, model.AuditEntry{
				Timestamp: now,
				Action:    model.AuditTransition,
				FromState: node.State,
				ToState:   model.StateDeprecated,
				Trigger:   "cascade",
				Agent:     orDefault(invalidator, "system"),
				Reason:    fmt.Sprintf("cascade from %s: %s", rootID, reason),
			})
			node.State = model.StateDeprecated
			node.UpdatedAt = now
			return nil
		})
		if err != nil {
			// A dependent deleted mid-cascade is skipped, not fatal.
			if errors.Is(err, model.ErrNotFound) {
				l.logger.Warn("ledger: cascade skipped missing node", "node_id", id)
				continue
			}
			return result, err
		}
		result.InvalidatedIDs = append(result.InvalidatedIDs, id)

		edges, err := l.store.Dependents(ctx, id)
		if err != nil {
			return result, err
		}
		for _, edge := range edges {
			if visited[edge.Target] {
				continue
			}
			if edge.Strength >= StrongEdgeThreshold {
				visited[edge.Target] = true
				delete(review, edge.Target)
				queue = append(queue, edge.Target)
			} else {
				review[edge.Target] = true
			}
		}
	}

	reviewIDs := make([]uuid.UUID, 0, len(review))
	for id := range review {
		if !visited[id] {
			reviewIDs = append(reviewIDs, id)
		}
	}
	sort.Slice(reviewIDs, func(i, j int) bool { return reviewIDs[i].String() < reviewIDs[j].String() })

	for _, id := range reviewIDs {
		if err := l.ScheduleReview(ctx, id, model.QueueHot, fmt.Sprintf("weak dependency on cascaded %s", rootID)); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return result, err
		}
		result.ReviewIDs = append(result.ReviewIDs, id)
	}

	result.InvalidatedCount = len(result.InvalidatedIDs)
	result.ReviewCount = len(result.ReviewIDs)
	result.DurationMs = l.now().Sub(start).Milliseconds()

	l.logger.Info("ledger: cascade complete",
		"root_id", rootID, "invalidated", result.InvalidatedCount, "review", result.ReviewCount,
		"duration_ms", result.DurationMs)
	return result, nil
}
