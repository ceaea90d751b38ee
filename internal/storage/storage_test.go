package storage_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
	"github.com/Krigsexe/Yggdrasil/internal/storage"
	"github.com/Krigsexe/Yggdrasil/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func testNode(confidence int) *model.KnowledgeNode {
	now := time.Now().UTC().Truncate(time.Microsecond)
	branch, _ := model.BranchForConfidence(confidence)
	return &model.KnowledgeNode{
		ID:         uuid.New(),
		Statement:  "test claim " + uuid.NewString(),
		Domain:     "science",
		Tags:       []string{"physics"},
		Branch:     branch,
		State:      model.StatePendingProof,
		Confidence: confidence,
		Queue:      model.QueueWarm,
		AuditTrail: []model.AuditEntry{{
			Timestamp: now,
			Action:    model.AuditCreate,
			ToState:   model.StatePendingProof,
			Trigger:   "create",
			Agent:     "test",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNodeRoundTrip(t *testing.T) {
	ctx := context.Background()

	node := testNode(65)
	node.Sources = []model.Source{{
		ID:         uuid.New(),
		Type:       model.SourceArxiv,
		Identifier: "2101.00001",
		TrustScore: 90,
	}}
	node.Shapley = map[string]float64{"KVASIR": 12.5}

	require.NoError(t, testDB.InsertNode(ctx, node))

	got, err := testDB.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Statement, got.Statement)
	assert.Equal(t, model.BranchVolva, got.Branch)
	assert.Equal(t, []string{"physics"}, got.Tags)
	require.Len(t, got.AuditTrail, 1)
	assert.Equal(t, model.AuditCreate, got.AuditTrail[0].Action)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "2101.00001", got.Sources[0].Identifier)
	assert.InDelta(t, 12.5, got.Shapley["KVASIR"], 1e-9)
}

func TestGetNodeNotFound(t *testing.T) {
	_, err := testDB.GetNode(context.Background(), uuid.New())
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateNodeSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()

	node := testNode(60)
	require.NoError(t, testDB.InsertNode(ctx, node))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := testDB.UpdateNode(ctx, node.ID, func(n *model.KnowledgeNode) error {
				n.AuditTrail = append(n.AuditTrail, model.AuditEntry{
					Timestamp: time.Now().UTC(),
					Action:    model.AuditQueueChange,
					Trigger:   fmt.Sprintf("writer-%d", i),
					Agent:     "test",
				})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := testDB.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Len(t, got.AuditTrail, 1+writers, "row lock must serialize all appends")
}

func TestUpdateNodeAbortsOnError(t *testing.T) {
	ctx := context.Background()

	node := testNode(60)
	require.NoError(t, testDB.InsertNode(ctx, node))

	err := testDB.UpdateNode(ctx, node.ID, func(n *model.KnowledgeNode) error {
		n.Confidence = 10
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := testDB.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Confidence, "aborted update must not persist")
}

func TestBranchPartitionEnforcedBySchema(t *testing.T) {
	ctx := context.Background()

	node := testNode(60)
	node.Branch = model.BranchMimir // disagrees with confidence 60
	err := testDB.InsertNode(ctx, node)
	require.Error(t, err, "check constraint must reject mismatched branch")
}

func TestEdgeUpsertAndDependents(t *testing.T) {
	ctx := context.Background()

	a, b := testNode(70), testNode(65)
	require.NoError(t, testDB.InsertNode(ctx, a))
	require.NoError(t, testDB.InsertNode(ctx, b))

	edge := model.DependencyEdge{
		Source: a.ID, Target: b.ID,
		Relation: model.RelationSupports, Strength: 0.4,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.UpsertEdge(ctx, edge))

	// Upsert replaces relation and strength.
	edge.Relation = model.RelationDerivedFrom
	edge.Strength = 0.9
	require.NoError(t, testDB.UpsertEdge(ctx, edge))

	deps, err := testDB.Dependents(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, b.ID, deps[0].Target)
	assert.Equal(t, model.RelationDerivedFrom, deps[0].Relation)
	assert.InDelta(t, 0.9, deps[0].Strength, 1e-9)
}

func TestDueNodesOrderingAndExclusion(t *testing.T) {
	ctx := context.Background()
	queue := model.QueueHot

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	never := testNode(30)
	never.Queue = queue // no next_scan: sorts first
	due := testNode(31)
	due.Queue = queue
	due.NextScan = &past
	notYet := testNode(32)
	notYet.Queue = queue
	notYet.NextScan = &future
	deprecated := testNode(33)
	deprecated.Queue = queue
	deprecated.State = model.StateDeprecated
	deprecated.NextScan = &past

	for _, n := range []*model.KnowledgeNode{never, due, notYet, deprecated} {
		require.NoError(t, testDB.InsertNode(ctx, n))
	}

	got, err := testDB.DueNodes(ctx, queue, time.Now().UTC(), 50)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]int)
	for i, n := range got {
		ids[n.ID] = i
	}
	require.Contains(t, ids, never.ID)
	require.Contains(t, ids, due.ID)
	assert.NotContains(t, ids, notYet.ID)
	assert.NotContains(t, ids, deprecated.ID)
	assert.Less(t, ids[never.ID], ids[due.ID], "NULL next_scan sorts first")
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()

	a := testNode(70)
	require.NoError(t, testDB.InsertNode(ctx, a))

	cp := &model.Checkpoint{
		ID:        uuid.New(),
		UserID:    "user-1",
		Label:     "pre-test",
		StateHash: model.StateHash([]uuid.UUID{a.ID}),
		MemberIDs: []uuid.UUID{a.ID},
		Snapshots: []model.NodeSnapshot{{
			NodeID: a.ID, State: a.State, Branch: a.Branch,
			Confidence: a.Confidence, Queue: a.Queue, AuditTrailLength: 1,
		}},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, testDB.InsertCheckpoint(ctx, cp))

	got, err := testDB.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.StateHash, got.StateHash)
	assert.Equal(t, cp.MemberIDs, got.MemberIDs)
	require.Len(t, got.Snapshots, 1)
	assert.Equal(t, a.ID, got.Snapshots[0].NodeID)
}

func TestAlertsRecentFirst(t *testing.T) {
	ctx := context.Background()

	base := time.Now().UTC()
	older := model.Alert{
		ID: uuid.New(), NodeID: uuid.New(), Type: model.AlertVelocitySpike,
		Severity: model.SeverityHigh, Message: "older", CreatedAt: base.Add(-time.Minute),
	}
	newer := model.Alert{
		ID: uuid.New(), NodeID: uuid.New(), Type: model.AlertContradiction,
		Severity: model.SeverityCritical, Message: "newer", CreatedAt: base,
	}
	require.NoError(t, testDB.InsertAlert(ctx, older))
	require.NoError(t, testDB.InsertAlert(ctx, newer))

	got, err := testDB.RecentAlerts(ctx, 100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)

	var posOlder, posNewer int = -1, -1
	for i, a := range got {
		switch a.ID {
		case older.ID:
			posOlder = i
		case newer.ID:
			posNewer = i
		}
	}
	require.NotEqual(t, -1, posOlder)
	require.NotEqual(t, -1, posNewer)
	assert.Less(t, posNewer, posOlder)
}

func TestDeliberationRoundTripWithAttributions(t *testing.T) {
	ctx := context.Background()

	d := model.CouncilDeliberation{
		ID:        uuid.New(),
		RequestID: "req-42",
		Query:     "what is the boiling point of water",
		Responses: []model.CouncilMemberResponse{
			{Member: model.MemberKvasir, Content: "100C at 1 atm", Confidence: 95},
		},
		Verdict:   model.Verdict{Kind: model.VerdictConsensus, VoteCounts: map[string]int{model.VoteYes: 1}},
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, testDB.InsertDeliberation(ctx, d))

	got, err := testDB.GetDeliberation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.RequestID, got.RequestID)
	assert.Equal(t, model.VerdictConsensus, got.Verdict.Kind)
	require.Len(t, got.Responses, 1)

	attrs := []model.Attribution{{
		Member: model.MemberKvasir, ShapleyValue: 88.4, Percentage: 100,
		ResponseQuality: 95, ChallengeImpact: 100, ConsensusAlignment: 95,
	}}
	require.NoError(t, testDB.InsertAttributions(ctx, d.ID, attrs))
	// Re-insert is an upsert, not a duplicate key error.
	require.NoError(t, testDB.InsertAttributions(ctx, d.ID, attrs))
}

func TestLedgerCascadeOverPostgres(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testDB, testutil.TestLogger())

	a, err := l.CreateNode(ctx, "pg cascade root "+uuid.NewString(), ledger.CreateOptions{Confidence: 70})
	require.NoError(t, err)
	b, err := l.CreateNode(ctx, "pg cascade strong "+uuid.NewString(), ledger.CreateOptions{Confidence: 65})
	require.NoError(t, err)
	c, err := l.CreateNode(ctx, "pg cascade weak "+uuid.NewString(), ledger.CreateOptions{Confidence: 60})
	require.NoError(t, err)

	require.NoError(t, l.AddDependency(ctx, a.ID, b.ID, model.RelationDerivedFrom, 0.9))
	require.NoError(t, l.AddDependency(ctx, a.ID, c.ID, model.RelationSupports, 0.5))

	result, err := l.CascadeInvalidate(ctx, a.ID, "tester", "pg integration")
	require.NoError(t, err)
	assert.Equal(t, 2, result.InvalidatedCount)
	assert.Equal(t, 1, result.ReviewCount)

	gotB, err := testDB.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeprecated, gotB.State)

	gotC, err := testDB.GetNode(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueHot, gotC.Queue)
}
