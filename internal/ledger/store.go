package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// Store is the persistence contract for the ledger. Implementations must
// serialize concurrent mutations of the same node: UpdateNode runs its
// closure under a per-node critical section (a per-node lock in memory,
// SELECT ... FOR UPDATE in Postgres).
type Store interface {
	// InsertNode persists a new node. The id must be unset or unique.
	InsertNode(ctx context.Context, node *model.KnowledgeNode) error

	// GetNode returns a copy of the node or model.ErrNotFound.
	GetNode(ctx context.Context, id uuid.UUID) (*model.KnowledgeNode, error)

	// UpdateNode applies fn to the node under per-node serialization and
	// persists the result. fn returning an error aborts the update without
	// persisting. Returns model.ErrNotFound for unknown ids.
	UpdateNode(ctx context.Context, id uuid.UUID, fn func(*model.KnowledgeNode) error) error

	// UpsertEdge inserts or replaces the edge keyed by (Source, Target).
	UpsertEdge(ctx context.Context, edge model.DependencyEdge) error

	// Dependents returns all edges whose Source is id.
	Dependents(ctx context.Context, id uuid.UUID) ([]model.DependencyEdge, error)

	// DueNodes returns up to limit nodes in queue whose NextScan is at or
	// before cutoff (nodes with no NextScan sort first), excluding
	// DEPRECATED and REJECTED nodes.
	DueNodes(ctx context.Context, queue model.PriorityQueue, cutoff time.Time, limit int) ([]*model.KnowledgeNode, error)

	// InsertCheckpoint persists a checkpoint.
	InsertCheckpoint(ctx context.Context, cp *model.Checkpoint) error

	// GetCheckpoint returns a checkpoint or model.ErrNotFound.
	GetCheckpoint(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error)

	// InsertAlert persists a watcher alert.
	InsertAlert(ctx context.Context, alert model.Alert) error

	// RecentAlerts returns the most recent alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)

	// InsertDeliberation persists a council deliberation.
	InsertDeliberation(ctx context.Context, d model.CouncilDeliberation) error

	// GetDeliberation returns a deliberation or model.ErrNotFound.
	GetDeliberation(ctx context.Context, id uuid.UUID) (model.CouncilDeliberation, error)

	// Stats returns aggregate node counts.
	Stats(ctx context.Context) (Stats, error)
}

// Stats aggregates the node population for the admin surface.
type Stats struct {
	TotalNodes int                         `json:"total_nodes"`
	ByState    map[model.NodeState]int     `json:"by_state"`
	ByBranch   map[model.Branch]int        `json:"by_branch"`
	ByQueue    map[model.PriorityQueue]int `json:"by_queue"`
	Edges      int                         `json:"edges"`
	Alerts     int                         `json:"alerts"`
}
