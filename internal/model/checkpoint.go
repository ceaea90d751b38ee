package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NodeSnapshot captures the restorable facets of one node at checkpoint time.
// The audit trail itself is never snapshotted, only its length, so rollback
// can verify the trail has not shrunk.
type NodeSnapshot struct {
	NodeID           uuid.UUID     `json:"node_id"`
	State            NodeState     `json:"state"`
	Branch           Branch        `json:"branch"`
	Confidence       int           `json:"confidence"`
	Velocity         float64       `json:"velocity"`
	Queue            PriorityQueue `json:"priority_queue"`
	AuditTrailLength int           `json:"audit_trail_length"`
}

// Checkpoint is a labeled, restorable snapshot of selected nodes.
type Checkpoint struct {
	ID          uuid.UUID      `json:"id"`
	UserID      string         `json:"user_id"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	StateHash   string         `json:"state_hash"`
	MemberIDs   []uuid.UUID    `json:"member_node_ids"`
	Snapshots   []NodeSnapshot `json:"snapshots"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StateHash computes the stable hash over a node-id set: SHA-256 of the
// sorted id strings joined by newlines. Order of input does not matter.
func StateHash(ids []uuid.UUID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
