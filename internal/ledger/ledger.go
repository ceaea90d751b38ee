// Package ledger implements Munin, the knowledge ledger: branch-partitioned
// node lifecycle with an append-only audit trail, dependency edges with
// cascade invalidation, and restorable checkpoints.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// demotionThreshold is the number of consecutive unchanged scans before a
// node drops one queue tier.
const demotionThreshold = 3

// Ledger is the write surface over a Store. All mutations append audit
// entries; a mutation that cannot append its entry does not persist.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithNow overrides the clock. Used by tests to control velocity windows.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over the given store.
func New(store Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for read paths that need no ledger
// semantics (alerts, stats, deliberations).
func (l *Ledger) Store() Store { return l.store }

// CreateOptions carries the optional facets of node creation.
type CreateOptions struct {
	Domain     string
	Tags       []string
	Confidence int
	// Branch, when set, must agree with Confidence. When empty it is derived.
	Branch  model.Branch
	Sources []model.Source
	Trigger string
	Agent   string
	Reason  string
}

// CreateNode creates a node with branch-consistent state and a CREATE audit
// entry. Nodes with evidence start WATCHING, bare claims start PENDING_PROOF.
func (l *Ledger) CreateNode(ctx context.Context, statement string, opts CreateOptions) (*model.KnowledgeNode, error) {
	normalized, err := model.NormalizeStatement(statement)
	if err != nil {
		return nil, fmt.Errorf("ledger: create node: %w", err)
	}

	branch, err := model.BranchForConfidence(opts.Confidence)
	if err != nil {
		return nil, fmt.Errorf("ledger: create node: %w", err)
	}
	if opts.Branch != "" && opts.Branch != branch {
		return nil, fmt.Errorf("ledger: create node: %w: confidence %d belongs to %s, not %s",
			model.ErrBranchViolation, opts.Confidence, branch, opts.Branch)
	}

	state := model.StatePendingProof
	if len(opts.Sources) > 0 {
		state = model.StateWatching
	}

	now := l.now().UTC()
	node := &model.KnowledgeNode{
		ID:         uuid.New(),
		Statement:  normalized,
		Domain:     opts.Domain,
		Tags:       opts.Tags,
		Branch:     branch,
		State:      state,
		Confidence: opts.Confidence,
		Queue:      model.QueueWarm,
		Sources:    opts.Sources,
		CreatedAt:  now,
		UpdatedAt:  now,
		AuditTrail: []model.AuditEntry{{
			Timestamp: now,
			Action:    model.AuditCreate,
			ToState:   state,
			Trigger:   orDefault(opts.Trigger, "create"),
			Agent:     orDefault(opts.Agent, "system"),
			Reason:    opts.Reason,
		}},
	}

	if err := l.store.InsertNode(ctx, node); err != nil {
		return nil, err
	}
	l.logger.Info("ledger: node created",
		"node_id", node.ID, "branch", node.Branch, "state", node.State, "confidence", node.Confidence)
	return node, nil
}

// GetNode returns a copy of a node.
func (l *Ledger) GetNode(ctx context.Context, id uuid.UUID) (*model.KnowledgeNode, error) {
	return l.store.GetNode(ctx, id)
}

// TransitionOptions describes one state transition.
type TransitionOptions struct {
	Trigger       string
	Agent         string
	Reason        string
	NewConfidence *int
	VoteRecord    map[string]int
	// Sources is fresh evidence accompanying the transition; merged into the
	// node before the anchor check.
	Sources []model.Source
}

// TransitionState moves a node to newState, recomputing velocity and queue on
// confidence change and appending exactly one TRANSITION audit entry.
//
// A transition ending in VERIFIED requires an anchored source with trust at
// or above MinAnchorTrust, and never starts from HUGIN: low-confidence claims
// must first climb to VOLVA on fresh evidence.
func (l *Ledger) TransitionState(ctx context.Context, id uuid.UUID, newState model.NodeState, opts TransitionOptions) (*model.KnowledgeNode, error) {
	var result model.KnowledgeNode
	err := l.store.UpdateNode(ctx, id, func(node *model.KnowledgeNode) error {
		now := l.now().UTC()

		if len(opts.Sources) > 0 {
			node.Sources = mergeSources(node.Sources, opts.Sources)
		}

		if newState == model.StateVerified {
			if node.Branch == model.BranchHugin {
				return fmt.Errorf("ledger: transition %s: %w: HUGIN nodes must pass through VOLVA first",
					id, model.ErrVerificationUnsupported)
			}
			if !hasAnchor(node.Sources) {
				return fmt.Errorf("ledger: transition %s: %w", id, model.ErrVerificationUnsupported)
			}
		}

		entry := model.AuditEntry{
			Timestamp:  now,
			Action:     model.AuditTransition,
			FromState:  node.State,
			ToState:    newState,
			Trigger:    orDefault(opts.Trigger, "transition"),
			Agent:      orDefault(opts.Agent, "system"),
			Reason:     opts.Reason,
			VoteRecord: opts.VoteRecord,
		}

		if opts.NewConfidence != nil && *opts.NewConfidence != node.Confidence {
			newConf := *opts.NewConfidence
			branch, err := model.BranchForConfidence(newConf)
			if err != nil {
				return fmt.Errorf("ledger: transition %s: %w", id, err)
			}
			delta := newConf - node.Confidence
			entry.ConfidenceDelta = &delta

			node.Velocity = model.Velocity(node.Confidence, newConf, now.Sub(node.UpdatedAt))
			node.Queue = model.QueueForVelocity(node.Velocity)
			node.Confidence = newConf
			node.Branch = branch
		}

		node.State = newState
		node.UpdatedAt = now
		node.AuditTrail = append(node.AuditTrail, entry)
		result = cloneNode(node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("ledger: node transitioned",
		"node_id", id, "to_state", newState, "confidence", result.Confidence, "queue", result.Queue)
	return &result, nil
}

// AddDependency upserts the (source, target) edge.
func (l *Ledger) AddDependency(ctx context.Context, source, target uuid.UUID, relation model.DependencyRelation, strength float64) error {
	edge := model.DependencyEdge{
		Source:    source,
		Target:    target,
		Relation:  relation,
		Strength:  strength,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.UpsertEdge(ctx, edge); err != nil {
		return fmt.Errorf("ledger: add dependency: %w", err)
	}
	return nil
}

// ScheduleReview moves a node into queue, zeroes idleCycles, and appends a
// QUEUE_CHANGE audit entry.
func (l *Ledger) ScheduleReview(ctx context.Context, id uuid.UUID, queue model.PriorityQueue, reason string) error {
	return l.store.UpdateNode(ctx, id, func(node *model.KnowledgeNode) error {
		now := l.now().UTC()
		next := now.Add(model.ScanInterval(queue))
		node.Queue = queue
		node.IdleCycles = 0
		node.NextScan = &next
		node.UpdatedAt = now
		node.AuditTrail = append(node.AuditTrail, model.AuditEntry{
			Timestamp: now,
			Action:    model.AuditQueueChange,
			FromState: node.State,
			ToState:   node.State,
			Trigger:   "schedule_review",
			Agent:     "munin",
			Reason:    reason,
		})
		return nil
	})
}

// ScanUpdate is the outcome of one watcher scan of a node.
type ScanUpdate struct {
	Changed       bool
	NewConfidence *int
}

// UpdateScanStatus records a scan: unchanged scans accumulate idleCycles and
// demote the queue one tier at the threshold; changed scans update confidence
// and recompute velocity from the previous scan time.
func (l *Ledger) UpdateScanStatus(ctx context.Context, id uuid.UUID, update ScanUpdate) (*model.KnowledgeNode, error) {
	var result model.KnowledgeNode
	err := l.store.UpdateNode(ctx, id, func(node *model.KnowledgeNode) error {
		now := l.now().UTC()

		if !update.Changed {
			node.IdleCycles++
			if node.IdleCycles >= demotionThreshold {
				if demoted, ok := demote(node.Queue); ok {
					node.AuditTrail = append(node.AuditTrail, model.AuditEntry{
						Timestamp: now,
						Action:    model.AuditQueueChange,
						FromState: node.State,
						ToState:   node.State,
						Trigger:   "idle_demotion",
						Agent:     "munin",
						Reason:    fmt.Sprintf("%d unchanged scans in %s", node.IdleCycles, node.Queue),
					})
					node.Queue = demoted
				}
				node.IdleCycles = 0
			}
		} else if update.NewConfidence != nil && *update.NewConfidence != node.Confidence {
			newConf := *update.NewConfidence
			branch, err := model.BranchForConfidence(newConf)
			if err != nil {
				return fmt.Errorf("ledger: scan update %s: %w", id, err)
			}
			since := node.UpdatedAt
			if node.LastScan != nil {
				since = *node.LastScan
			}
			delta := newConf - node.Confidence
			node.Velocity = model.Velocity(node.Confidence, newConf, now.Sub(since))
			node.Queue = model.QueueForVelocity(node.Velocity)
			node.Confidence = newConf
			node.Branch = branch
			node.IdleCycles = 0
			node.AuditTrail = append(node.AuditTrail, model.AuditEntry{
				Timestamp:       now,
				Action:          model.AuditTransition,
				FromState:       node.State,
				ToState:         node.State,
				Trigger:         "watcher_scan",
				Agent:           "munin",
				Reason:          "confidence moved on rescan",
				ConfidenceDelta: &delta,
			})
		} else {
			node.IdleCycles = 0
		}

		next := now.Add(model.ScanInterval(node.Queue))
		node.LastScan = &now
		node.NextScan = &next
		node.UpdatedAt = now
		result = cloneNode(node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateShapleyAttribution accumulates per-member contribution onto a node.
func (l *Ledger) UpdateShapleyAttribution(ctx context.Context, id uuid.UUID, contributions map[string]float64) error {
	return l.store.UpdateNode(ctx, id, func(node *model.KnowledgeNode) error {
		if node.Shapley == nil {
			node.Shapley = make(map[string]float64, len(contributions))
		}
		for member, phi := range contributions {
			node.Shapley[member] += phi
		}
		node.UpdatedAt = l.now().UTC()
		return nil
	})
}

// hasAnchor reports whether any source meets the VERIFIED trust threshold.
func hasAnchor(sources []model.Source) bool {
	for _, s := range sources {
		if s.TrustScore >= model.MinAnchorTrust {
			return true
		}
	}
	return false
}

// demote returns the next-cooler queue tier, false when already COLD.
func demote(q model.PriorityQueue) (model.PriorityQueue, bool) {
	switch q {
	case model.QueueHot:
		return model.QueueWarm, true
	case model.QueueWarm:
		return model.QueueCold, true
	default:
		return q, false
	}
}

// mergeSources appends fresh sources, deduplicating on (Type, Identifier).
func mergeSources(existing, fresh []model.Source) []model.Source {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[string(s.Type)+"\x00"+s.Identifier] = true
	}
	for _, s := range fresh {
		key := string(s.Type) + "\x00" + s.Identifier
		if !seen[key] {
			existing = append(existing, s)
			seen[key] = true
		}
	}
	return existing
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
