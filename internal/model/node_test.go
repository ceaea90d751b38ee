package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

func TestBranchForConfidenceBoundaries(t *testing.T) {
	tests := []struct {
		confidence int
		want       model.Branch
	}{
		{0, model.BranchHugin},
		{49, model.BranchHugin},
		{50, model.BranchVolva},
		{99, model.BranchVolva},
		{100, model.BranchMimir},
	}
	for _, tt := range tests {
		got, err := model.BranchForConfidence(tt.confidence)
		require.NoError(t, err, "confidence %d", tt.confidence)
		assert.Equal(t, tt.want, got, "confidence %d", tt.confidence)
	}

	for _, bad := range []int{-1, 101, 1000} {
		_, err := model.BranchForConfidence(bad)
		require.Error(t, err, "confidence %d should be out of range", bad)
	}
}

func TestValidateBranchConfidence(t *testing.T) {
	require.NoError(t, model.ValidateBranchConfidence(model.BranchMimir, 100))
	require.NoError(t, model.ValidateBranchConfidence(model.BranchVolva, 65))
	require.NoError(t, model.ValidateBranchConfidence(model.BranchHugin, 0))

	err := model.ValidateBranchConfidence(model.BranchMimir, 99)
	require.ErrorIs(t, err, model.ErrBranchViolation)
	err = model.ValidateBranchConfidence(model.BranchHugin, 50)
	require.ErrorIs(t, err, model.ErrBranchViolation)
}

func TestVelocityAndQueueDeterminism(t *testing.T) {
	// Identical (prev, curr, dt) must always yield an identical queue.
	v := model.Velocity(80, 20, time.Second)
	assert.InDelta(t, -0.06, v, 1e-9)
	assert.Equal(t, model.QueueHot, model.QueueForVelocity(v))

	// 80 -> 50 over one hour: |v| ~ 8.3e-6, stable, COLD.
	slow := model.Velocity(80, 50, time.Hour)
	assert.Equal(t, model.TrendStable, model.TrendForVelocity(slow))
	assert.Equal(t, model.QueueCold, model.QueueForVelocity(slow))

	// 50 -> 80 over one second: v = 0.03, directional but not hot.
	warm := model.Velocity(50, 80, time.Second)
	assert.Equal(t, model.TrendIncreasing, model.TrendForVelocity(warm))
	assert.Equal(t, model.QueueWarm, model.QueueForVelocity(warm))
}

func TestQueueForVelocityPartitions(t *testing.T) {
	tests := []struct {
		v    float64
		want model.PriorityQueue
	}{
		{0.06, model.QueueHot},
		{-0.06, model.QueueHot},
		{0.03, model.QueueWarm},
		{-0.03, model.QueueWarm},
		{0.02, model.QueueCold},
		{0.0, model.QueueCold},
		{-0.01, model.QueueCold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.QueueForVelocity(tt.v), "v=%v", tt.v)
	}
}

func TestVelocityZeroElapsed(t *testing.T) {
	assert.Zero(t, model.Velocity(10, 90, 0))
	assert.Zero(t, model.Velocity(10, 90, -time.Second))
}

func TestScanIntervals(t *testing.T) {
	assert.Equal(t, time.Hour, model.ScanInterval(model.QueueHot))
	assert.Equal(t, 24*time.Hour, model.ScanInterval(model.QueueWarm))
	assert.Equal(t, 7*24*time.Hour, model.ScanInterval(model.QueueCold))
}

func TestNormalizeStatement(t *testing.T) {
	got, err := model.NormalizeStatement("  the speed of light is constant  ")
	require.NoError(t, err)
	assert.Equal(t, "the speed of light is constant", got)

	_, err = model.NormalizeStatement("   ")
	require.Error(t, err)

	_, err = model.NormalizeStatement(strings.Repeat("a", model.MaxStatementBytes+1))
	require.Error(t, err)
}

func TestDependencyEdgeValidate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ok := model.DependencyEdge{Source: a, Target: b, Relation: model.RelationSupports, Strength: 0.9}
	require.NoError(t, ok.Validate())

	selfLoop := model.DependencyEdge{Source: a, Target: a, Relation: model.RelationSupports, Strength: 0.5}
	require.Error(t, selfLoop.Validate())

	badStrength := model.DependencyEdge{Source: a, Target: b, Relation: model.RelationAssumes, Strength: 1.5}
	require.Error(t, badStrength.Validate())

	badRelation := model.DependencyEdge{Source: a, Target: b, Relation: "LINKS", Strength: 0.5}
	require.Error(t, badRelation.Validate())
}

func TestVoteForConfidence(t *testing.T) {
	assert.Equal(t, model.VoteYes, model.VoteForConfidence(70))
	assert.Equal(t, model.VoteYes, model.VoteForConfidence(100))
	assert.Equal(t, model.VotePartial, model.VoteForConfidence(50))
	assert.Equal(t, model.VotePartial, model.VoteForConfidence(69))
	assert.Equal(t, model.VoteNo, model.VoteForConfidence(49))
	assert.Equal(t, model.VoteNo, model.VoteForConfidence(0))
}

func TestMemberRankOrdering(t *testing.T) {
	assert.Less(t, model.MemberRank(model.MemberKvasir), model.MemberRank(model.MemberLoki))
	assert.Equal(t, len(model.AllMembers), model.MemberRank(model.CouncilMember("UNKNOWN")))
}
