package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

func TestCheckpointRoundTrip(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	a := mustCreate(t, l, 70)
	b := mustCreate(t, l, 95)

	cp, err := l.CreateCheckpoint(ctx, "user-1", "before-experiment", "", []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, model.StateHash([]uuid.UUID{b.ID, a.ID}), cp.StateHash, "hash is order-independent")
	require.Len(t, cp.Snapshots, 2)

	// Mutate both members after the checkpoint.
	clock.Advance(time.Minute)
	_, err = l.TransitionState(ctx, a.ID, model.StateWatching, ledger.TransitionOptions{NewConfidence: intPtr(30)})
	require.NoError(t, err)
	_, err = l.TransitionState(ctx, b.ID, model.StateRejected, ledger.TransitionOptions{NewConfidence: intPtr(10)})
	require.NoError(t, err)

	result, err := l.Rollback(ctx, cp.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RestoredCount)
	assert.Zero(t, result.InvalidatedCount)

	gotA, err := l.GetNode(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingProof, gotA.State)
	assert.Equal(t, 70, gotA.Confidence)
	assert.Equal(t, model.BranchVolva, gotA.Branch)
	assert.Equal(t, model.QueueWarm, gotA.Queue)

	gotB, err := l.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingProof, gotB.State)
	assert.Equal(t, 95, gotB.Confidence)
}

func TestRollbackAppendsHistoryInsteadOfRewriting(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	a := mustCreate(t, l, 70)
	cp, err := l.CreateCheckpoint(ctx, "user-1", "cp", "", []uuid.UUID{a.ID})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = l.TransitionState(ctx, a.ID, model.StateWatching, ledger.TransitionOptions{NewConfidence: intPtr(55)})
	require.NoError(t, err)

	before, err := l.GetNode(ctx, a.ID)
	require.NoError(t, err)

	_, err = l.Rollback(ctx, cp.ID, "user-1")
	require.NoError(t, err)

	after, err := l.GetNode(ctx, a.ID)
	require.NoError(t, err)
	require.Greater(t, len(after.AuditTrail), len(before.AuditTrail))
	last := after.AuditTrail[len(after.AuditTrail)-1]
	assert.Equal(t, model.AuditRollback, last.Action)
	assert.Equal(t, "user-1", last.Agent)
}

func TestRollbackDeprecatesPostCheckpointDescendants(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	a := mustCreate(t, l, 70)
	cp, err := l.CreateCheckpoint(ctx, "user-1", "cp", "", []uuid.UUID{a.ID})
	require.NoError(t, err)

	// A node derived from the member after the checkpoint.
	clock.Advance(time.Minute)
	derived := mustCreate(t, l, 60)
	require.NoError(t, l.AddDependency(ctx, a.ID, derived.ID, model.RelationDerivedFrom, 0.9))

	// An unrelated node created after the checkpoint survives.
	unrelated := mustCreate(t, l, 60)

	result, err := l.Rollback(ctx, cp.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.InvalidatedCount)
	assert.Equal(t, 1, result.RestoredCount)

	gotDerived, err := l.GetNode(ctx, derived.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeprecated, gotDerived.State)

	gotUnrelated, err := l.GetNode(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StateDeprecated, gotUnrelated.State)
}

func TestCheckpointEmptyMemberSet(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.CreateCheckpoint(context.Background(), "user-1", "empty", "", nil)
	require.Error(t, err)
}

func TestCheckpointUnknownMember(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.CreateCheckpoint(context.Background(), "user-1", "cp", "", []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRollbackUnknownCheckpoint(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Rollback(context.Background(), uuid.New(), "user-1")
	require.ErrorIs(t, err, model.ErrNotFound)
}
