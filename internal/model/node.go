// Package model defines the shared domain types for the Yggdrasil epistemic
// core: branches, knowledge nodes, dependency edges, council deliberations,
// checkpoints, and the HTTP API contracts.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Branch is one of the three epistemic partitions. Every branch maps strictly
// to a confidence range: HUGIN [0,49], VOLVA [50,99], MIMIR {100}.
type Branch string

const (
	BranchMimir Branch = "MIMIR"
	BranchVolva Branch = "VOLVA"
	BranchHugin Branch = "HUGIN"
)

// NodeState is the lifecycle state of a knowledge node.
type NodeState string

const (
	StatePendingProof NodeState = "PENDING_PROOF"
	StateWatching     NodeState = "WATCHING"
	StateVerified     NodeState = "VERIFIED"
	StateRejected     NodeState = "REJECTED"
	StateDeprecated   NodeState = "DEPRECATED"
)

// PriorityQueue is the watcher rescan queue a node belongs to.
type PriorityQueue string

const (
	QueueHot  PriorityQueue = "HOT"
	QueueWarm PriorityQueue = "WARM"
	QueueCold PriorityQueue = "COLD"
)

// VelocityTrend classifies the direction of confidence change.
type VelocityTrend string

const (
	TrendIncreasing VelocityTrend = "INCREASING"
	TrendDecreasing VelocityTrend = "DECREASING"
	TrendStable     VelocityTrend = "STABLE"
)

// MaxStatementBytes bounds a node statement (normalized, trimmed).
const MaxStatementBytes = 4096

// MinAnchorTrust is the minimum source trust score for a VERIFIED transition.
const MinAnchorTrust = 80

// BranchForConfidence returns the branch a confidence value belongs to.
// The partition is exhaustive for [0,100]; out-of-range values error.
func BranchForConfidence(confidence int) (Branch, error) {
	switch {
	case confidence < 0 || confidence > 100:
		return "", fmt.Errorf("model: confidence %d out of range [0,100]", confidence)
	case confidence == 100:
		return BranchMimir, nil
	case confidence >= 50:
		return BranchVolva, nil
	default:
		return BranchHugin, nil
	}
}

// ValidateBranchConfidence enforces invariant I1: branch and confidence must
// belong to the same partition cell.
func ValidateBranchConfidence(branch Branch, confidence int) error {
	want, err := BranchForConfidence(confidence)
	if err != nil {
		return err
	}
	if branch != want {
		return fmt.Errorf("%w: confidence %d belongs to %s, not %s",
			ErrBranchViolation, confidence, want, branch)
	}
	return nil
}

// ConfidenceCeiling returns the maximum confidence a branch may hold.
func (b Branch) ConfidenceCeiling() int {
	switch b {
	case BranchMimir:
		return 100
	case BranchVolva:
		return 99
	default:
		return 49
	}
}

// Velocity computes epistemic velocity: confidence points per millisecond.
// A zero or negative elapsed duration yields zero velocity.
func Velocity(prevConfidence, newConfidence int, elapsed time.Duration) float64 {
	ms := float64(elapsed.Milliseconds())
	if ms <= 0 {
		return 0
	}
	return float64(newConfidence-prevConfidence) / ms
}

// TrendForVelocity classifies a velocity: |v| > 0.02 is directional, else stable.
func TrendForVelocity(v float64) VelocityTrend {
	switch {
	case v > 0.02:
		return TrendIncreasing
	case v < -0.02:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// QueueForVelocity derives the rescan queue from velocity:
// |v| > 0.05 is HOT; a stable trend is COLD; anything else is WARM.
func QueueForVelocity(v float64) PriorityQueue {
	if math.Abs(v) > 0.05 {
		return QueueHot
	}
	if TrendForVelocity(v) == TrendStable {
		return QueueCold
	}
	return QueueWarm
}

// ScanInterval returns the rescan interval for a queue:
// HOT every hour, WARM daily, COLD weekly.
func ScanInterval(q PriorityQueue) time.Duration {
	switch q {
	case QueueHot:
		return time.Hour
	case QueueWarm:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// SourceType enumerates evidence provenance categories.
type SourceType string

const (
	SourceArxiv  SourceType = "ARXIV"
	SourcePubmed SourceType = "PUBMED"
	SourceDoi    SourceType = "DOI"
	SourceWeb    SourceType = "WEB"
)

// ValidatedProviders is the set of source types MIMIR accepts.
var ValidatedProviders = map[SourceType]bool{
	SourceArxiv:  true,
	SourcePubmed: true,
	SourceDoi:    true,
}

// Source is an external evidence reference. Identity is (Type, Identifier).
type Source struct {
	ID          uuid.UUID  `json:"id"`
	Type        SourceType `json:"type"`
	Identifier  string     `json:"identifier"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Authors     []string   `json:"authors,omitempty"`
	TrustScore  int        `json:"trust_score"` // [0,100]
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// AuditAction enumerates the actions an audit entry can record.
type AuditAction string

const (
	AuditCreate      AuditAction = "CREATE"
	AuditTransition  AuditAction = "TRANSITION"
	AuditQueueChange AuditAction = "QUEUE_CHANGE"
	AuditRollback    AuditAction = "ROLLBACK"
)

// AuditEntry is one element of a node's append-only audit trail.
// Existing entries are never mutated.
type AuditEntry struct {
	Timestamp       time.Time      `json:"ts"`
	Action          AuditAction    `json:"action"`
	FromState       NodeState      `json:"from_state,omitempty"`
	ToState         NodeState      `json:"to_state,omitempty"`
	Trigger         string         `json:"trigger"`
	Agent           string         `json:"agent"`
	Reason          string         `json:"reason"`
	ConfidenceDelta *int           `json:"confidence_delta,omitempty"`
	VoteRecord      map[string]int `json:"vote_record,omitempty"`
}

// KnowledgeNode is the central entity of the ledger.
type KnowledgeNode struct {
	ID         uuid.UUID          `json:"id"`
	Statement  string             `json:"statement"`
	Domain     string             `json:"domain,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Branch     Branch             `json:"branch"`
	State      NodeState          `json:"state"`
	Confidence int                `json:"confidence"`
	Velocity   float64            `json:"velocity"`
	Queue      PriorityQueue      `json:"priority_queue"`
	LastScan   *time.Time         `json:"last_scan,omitempty"`
	NextScan   *time.Time         `json:"next_scan,omitempty"`
	IdleCycles int                `json:"idle_cycles"`
	AuditTrail []AuditEntry       `json:"audit_trail"`
	Shapley    map[string]float64 `json:"shapley_attribution,omitempty"`
	Sources    []Source           `json:"sources,omitempty"`
	Embedding  *pgvector.Vector   `json:"-"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NormalizeStatement trims a statement and validates its length.
func NormalizeStatement(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("model: statement is empty")
	}
	if len(s) > MaxStatementBytes {
		return "", fmt.Errorf("model: statement exceeds %d bytes", MaxStatementBytes)
	}
	return s, nil
}

// DependencyRelation enumerates edge semantics. Relations inform weight tuning
// but do not change cascade topology.
type DependencyRelation string

const (
	RelationDerivedFrom DependencyRelation = "DERIVED_FROM"
	RelationAssumes     DependencyRelation = "ASSUMES"
	RelationSupports    DependencyRelation = "SUPPORTS"
	RelationContradicts DependencyRelation = "CONTRADICTS"
)

// DependencyEdge links a source node to a dependent target node. Cascade
// traversal follows source → target: invalidating the source invalidates
// dependents. Unique per (Source, Target).
type DependencyEdge struct {
	Source    uuid.UUID          `json:"source_id"`
	Target    uuid.UUID          `json:"target_id"`
	Relation  DependencyRelation `json:"relation"`
	Strength  float64            `json:"strength"` // [0,1]
	CreatedAt time.Time          `json:"created_at"`
}

// Validate checks an edge's invariants.
func (e DependencyEdge) Validate() error {
	if e.Source == e.Target {
		return fmt.Errorf("model: dependency edge must not be a self-loop")
	}
	if e.Strength < 0 || e.Strength > 1 {
		return fmt.Errorf("model: edge strength %.3f out of range [0,1]", e.Strength)
	}
	switch e.Relation {
	case RelationDerivedFrom, RelationAssumes, RelationSupports, RelationContradicts:
		return nil
	default:
		return fmt.Errorf("model: unknown dependency relation %q", e.Relation)
	}
}
