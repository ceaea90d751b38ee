package council_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/adapter"
	"github.com/Krigsexe/Yggdrasil/internal/council"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func respConf(member model.CouncilMember, conf int) model.CouncilMemberResponse {
	return model.CouncilMemberResponse{Member: member, Content: "c", Confidence: conf}
}

func TestArbitrateConsensus(t *testing.T) {
	v := council.Arbitrate([]model.CouncilMemberResponse{
		respConf(model.MemberKvasir, 95),
		respConf(model.MemberBragi, 92),
		respConf(model.MemberNornes, 88),
	}, false)
	assert.Equal(t, model.VerdictConsensus, v.Kind)
	assert.Equal(t, 3, v.VoteCounts[model.VoteYes])
	assert.Zero(t, v.VoteCounts[model.VoteNo])
	assert.Empty(t, v.Dissent)
}

func TestArbitrateMajority(t *testing.T) {
	// Two yes, one partial, one no: yes > no but a dissenter blocks consensus.
	v := council.Arbitrate([]model.CouncilMemberResponse{
		respConf(model.MemberKvasir, 90),
		respConf(model.MemberBragi, 85),
		respConf(model.MemberNornes, 60),
		respConf(model.MemberSaga, 30),
	}, false)
	assert.Equal(t, model.VerdictMajority, v.Kind)
	assert.Equal(t, []model.CouncilMember{model.MemberSaga}, v.Dissent)
}

func TestArbitrateSplitAndDeadlock(t *testing.T) {
	responses := []model.CouncilMemberResponse{
		respConf(model.MemberKvasir, 80),
		respConf(model.MemberBragi, 75),
		respConf(model.MemberNornes, 40),
		respConf(model.MemberSaga, 45),
	}

	// 2 yes vs 2 no without consensus requirement: SPLIT.
	v := council.Arbitrate(responses, false)
	assert.Equal(t, model.VerdictSplit, v.Kind)

	// Same votes with requireConsensus: DEADLOCK.
	v = council.Arbitrate(responses, true)
	assert.Equal(t, model.VerdictDeadlock, v.Kind)
}

func TestArbitrateNoMajorityAgainst(t *testing.T) {
	v := council.Arbitrate([]model.CouncilMemberResponse{
		respConf(model.MemberKvasir, 80),
		respConf(model.MemberBragi, 20),
		respConf(model.MemberNornes, 10),
	}, false)
	assert.Equal(t, model.VerdictDeadlock, v.Kind)
}

func TestArbitrateEmptyIsDeadlock(t *testing.T) {
	v := council.Arbitrate(nil, true)
	assert.Equal(t, model.VerdictDeadlock, v.Kind)
	assert.Empty(t, v.VoteCounts)
}

func TestArbitrateDeterministic(t *testing.T) {
	responses := []model.CouncilMemberResponse{
		respConf(model.MemberKvasir, 72),
		respConf(model.MemberBragi, 55),
		respConf(model.MemberNornes, 40),
	}
	a := council.Arbitrate(responses, true)
	b := council.Arbitrate(responses, true)
	assert.Equal(t, a.Kind, b.Kind)
	assert.Equal(t, a.VoteCounts, b.VoteCounts)
}

func TestParseChallenges(t *testing.T) {
	raw := "KVASIR | HIGH | The cited constant is wrong.\n" +
		"BRAGI | LOW | Wording is vague.\n" +
		"ODIN | CRITICAL | unknown member, dropped\n" +
		"not a challenge line"
	challenges := council.ParseChallenges(raw)
	require.Len(t, challenges, 2)
	assert.Equal(t, model.MemberKvasir, challenges[0].TargetMember)
	assert.Equal(t, model.SeverityHigh, challenges[0].Severity)
	assert.Equal(t, "The cited constant is wrong.", challenges[0].Text)
	assert.Equal(t, model.MemberBragi, challenges[1].TargetMember)
}

func TestDeliberateFullProtocol(t *testing.T) {
	reg := adapter.NewRegistry(
		adapter.NewStaticAdapter(model.MemberKvasir, "299,792,458 m/s", 95),
		adapter.NewStaticAdapter(model.MemberBragi, "the speed of light is 299,792,458 m/s", 92),
		adapter.NewStaticAdapter(model.MemberNornes, "c = 299,792,458 m/s exactly", 88),
		adapter.NewStaticAdapter(model.MemberLoki, "KVASIR | LOW | Units could be clearer.", 60),
	)
	c := council.New(reg, testLogger())

	var phases []string
	d, err := c.Deliberate(context.Background(), council.Request{
		RequestID:  "req-1",
		Query:      "What is the speed of light in vacuum?",
		Members:    []model.CouncilMember{model.MemberKvasir, model.MemberBragi, model.MemberNornes, model.MemberLoki},
		OnProgress: func(phase, _ string) { phases = append(phases, phase) },
	})
	require.NoError(t, err)

	assert.Equal(t, model.VerdictConsensus, d.Verdict.Kind)
	require.Len(t, d.Responses, 3, "loki must not contribute a response")
	// Stable canonical ordering.
	assert.Equal(t, model.MemberKvasir, d.Responses[0].Member)
	assert.Equal(t, model.MemberBragi, d.Responses[1].Member)
	assert.Equal(t, model.MemberNornes, d.Responses[2].Member)

	require.Len(t, d.Challenges, 1)
	assert.Equal(t, model.MemberKvasir, d.Challenges[0].TargetMember)

	assert.Contains(t, d.FinalProposal, "299,792,458")
	assert.Contains(t, d.FinalProposal, "[KVASIR]")
	assert.Contains(t, phases, "fan_out")
	assert.Contains(t, phases, "arbitrate")
}

func TestDeliberateSkipsUnavailableMembers(t *testing.T) {
	reg := adapter.NewRegistry(
		adapter.NewStaticAdapter(model.MemberKvasir, "yes", 90),
		adapter.NewStaticAdapter(model.MemberBragi, "down", 90).SetAvailable(false),
		adapter.NewStaticAdapter(model.MemberSaga, "slow", 90).WithError(model.ErrAdapterUnavailable),
	)
	c := council.New(reg, testLogger())

	d, err := c.Deliberate(context.Background(), council.Request{
		RequestID: "req-2",
		Query:     "q",
		Members:   []model.CouncilMember{model.MemberKvasir, model.MemberBragi, model.MemberSaga, model.MemberSyn},
	})
	require.NoError(t, err)
	require.Len(t, d.Responses, 1, "unavailable and erroring members are skipped, not fatal")
	assert.Equal(t, model.MemberKvasir, d.Responses[0].Member)
}

func TestDeliberateCancelledContext(t *testing.T) {
	reg := adapter.NewRegistry(
		adapter.NewStaticAdapter(model.MemberKvasir, "slow", 90).WithDelay(time.Second),
	)
	c := council.New(reg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Deliberate(ctx, council.Request{
		RequestID: "req-3",
		Query:     "q",
		Members:   []model.CouncilMember{model.MemberKvasir},
	})
	require.ErrorIs(t, err, model.ErrDeadlineExceeded)
}
