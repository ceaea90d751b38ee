package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Per-node serialization is a per-node mutex held across the UpdateNode
// closure.
type MemoryStore struct {
	mu            sync.RWMutex
	nodes         map[uuid.UUID]*memoryNode
	edges         map[uuid.UUID]map[uuid.UUID]model.DependencyEdge // source -> target -> edge
	checkpoints   map[uuid.UUID]*model.Checkpoint
	deliberations map[uuid.UUID]model.CouncilDeliberation
	alerts        []model.Alert
}

type memoryNode struct {
	mu   sync.Mutex
	node model.KnowledgeNode
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:         make(map[uuid.UUID]*memoryNode),
		edges:         make(map[uuid.UUID]map[uuid.UUID]model.DependencyEdge),
		checkpoints:   make(map[uuid.UUID]*model.Checkpoint),
		deliberations: make(map[uuid.UUID]model.CouncilDeliberation),
	}
}

func (s *MemoryStore) InsertNode(_ context.Context, node *model.KnowledgeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("ledger: insert node %s: already exists", node.ID)
	}
	s.nodes[node.ID] = &memoryNode{node: cloneNode(node)}
	return nil
}

func (s *MemoryStore) GetNode(_ context.Context, id uuid.UUID) (*model.KnowledgeNode, error) {
	s.mu.RLock()
	entry, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: node %s: %w", id, model.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	n := cloneNode(&entry.node)
	return &n, nil
}

func (s *MemoryStore) UpdateNode(_ context.Context, id uuid.UUID, fn func(*model.KnowledgeNode) error) error {
	s.mu.RLock()
	entry, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ledger: node %s: %w", id, model.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := cloneNode(&entry.node)
	if err := fn(&working); err != nil {
		return err
	}
	entry.node = working
	return nil
}

func (s *MemoryStore) UpsertEdge(_ context.Context, edge model.DependencyEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, ok := s.edges[edge.Source]
	if !ok {
		targets = make(map[uuid.UUID]model.DependencyEdge)
		s.edges[edge.Source] = targets
	}
	targets[edge.Target] = edge
	return nil
}

func (s *MemoryStore) Dependents(_ context.Context, id uuid.UUID) ([]model.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targets := s.edges[id]
	out := make([]model.DependencyEdge, 0, len(targets))
	for _, e := range targets {
		out = append(out, e)
	}
	// Stable order for deterministic traversal.
	sort.Slice(out, func(i, j int) bool { return out[i].Target.String() < out[j].Target.String() })
	return out, nil
}

func (s *MemoryStore) DueNodes(_ context.Context, queue model.PriorityQueue, cutoff time.Time, limit int) ([]*model.KnowledgeNode, error) {
	s.mu.RLock()
	entries := make([]*memoryNode, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var due []*model.KnowledgeNode
	for _, e := range entries {
		e.mu.Lock()
		n := e.node
		e.mu.Unlock()
		if n.Queue != queue || n.State == model.StateDeprecated || n.State == model.StateRejected {
			continue
		}
		if n.NextScan != nil && n.NextScan.After(cutoff) {
			continue
		}
		c := cloneNode(&n)
		due = append(due, &c)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextScan, due[j].NextScan
		switch {
		case a == nil && b == nil:
			return due[i].ID.String() < due[j].ID.String()
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) InsertCheckpoint(_ context.Context, cp *model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints[cp.ID] = &c
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id uuid.UUID) (*model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("ledger: checkpoint %s: %w", id, model.ErrNotFound)
	}
	c := *cp
	return &c, nil
}

func (s *MemoryStore) InsertAlert(_ context.Context, alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *MemoryStore) RecentAlerts(_ context.Context, limit int) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, len(s.alerts))
	copy(out, s.alerts)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertDeliberation(_ context.Context, d model.CouncilDeliberation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliberations[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDeliberation(_ context.Context, id uuid.UUID) (model.CouncilDeliberation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliberations[id]
	if !ok {
		return model.CouncilDeliberation{}, fmt.Errorf("ledger: deliberation %s: %w", id, model.ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		ByState:  make(map[model.NodeState]int),
		ByBranch: make(map[model.Branch]int),
		ByQueue:  make(map[model.PriorityQueue]int),
		Alerts:   len(s.alerts),
	}
	for _, e := range s.nodes {
		e.mu.Lock()
		n := e.node
		e.mu.Unlock()
		stats.TotalNodes++
		stats.ByState[n.State]++
		stats.ByBranch[n.Branch]++
		stats.ByQueue[n.Queue]++
	}
	for _, targets := range s.edges {
		stats.Edges += len(targets)
	}
	return stats, nil
}

// cloneNode deep-copies the mutable parts of a node so callers never share
// slices or maps with the store.
func cloneNode(n *model.KnowledgeNode) model.KnowledgeNode {
	out := *n
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	if n.AuditTrail != nil {
		out.AuditTrail = append([]model.AuditEntry(nil), n.AuditTrail...)
	}
	if n.Sources != nil {
		out.Sources = append([]model.Source(nil), n.Sources...)
	}
	if n.Shapley != nil {
		out.Shapley = make(map[string]float64, len(n.Shapley))
		for k, v := range n.Shapley {
			out.Shapley[k] = v
		}
	}
	if n.LastScan != nil {
		t := *n.LastScan
		out.LastScan = &t
	}
	if n.NextScan != nil {
		t := *n.NextScan
		out.NextScan = &t
	}
	return out
}
