package pipeline_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/adapter"
	"github.com/Krigsexe/Yggdrasil/internal/branches"
	"github.com/Krigsexe/Yggdrasil/internal/council"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
	"github.com/Krigsexe/Yggdrasil/internal/pipeline"
	"github.com/Krigsexe/Yggdrasil/internal/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	pipeline *pipeline.Pipeline
	store    ledger.Store
}

// newFixture assembles a pipeline over static collaborators: mimirSources
// feed the MIMIR handler, adapters form the council.
func newFixture(t *testing.T, mimirContent string, mimirSources []model.Source, adapters ...adapter.ILLMAdapter) fixture {
	t.Helper()
	logger := testLogger()

	handlers := []branches.Handler{
		branches.NewMimir(&branches.StaticSourceSearcher{Content: mimirContent, Sources: mimirSources}, logger),
		branches.NewVolva(&branches.StaticSourceSearcher{
			Content: "community view",
			Sources: []model.Source{{ID: uuid.New(), Type: model.SourceDoi, Identifier: "10.1/x", TrustScore: 65}},
		}, logger),
		branches.NewHugin(&branches.StaticWebSearcher{
			Snippets: []branches.Snippet{{URL: "https://example.org/a", Title: "A", Content: "a calm web snippet"}},
		}, logger),
	}

	store := ledger.NewMemoryStore()
	l := ledger.New(store, logger)
	c := council.New(adapter.NewRegistry(adapters...), logger)
	members := []model.CouncilMember{
		model.MemberKvasir, model.MemberBragi, model.MemberNornes, model.MemberSaga, model.MemberLoki,
	}

	return fixture{
		pipeline: pipeline.New(handlers, c, validator.New(logger), l, members, logger),
		store:    store,
	}
}

func anchorSources() []model.Source {
	return []model.Source{{
		ID: uuid.New(), Type: model.SourceArxiv, Identifier: "1234.5678",
		URL: "https://arxiv.org/abs/1234.5678", TrustScore: 100,
	}}
}

func TestProcessSourcedFactual(t *testing.T) {
	f := newFixture(t, "The speed of light in vacuum is 299,792,458 m/s.", anchorSources(),
		adapter.NewStaticAdapter(model.MemberKvasir, "299,792,458 m/s", 95),
		adapter.NewStaticAdapter(model.MemberBragi, "exactly 299,792,458 m/s", 92),
		adapter.NewStaticAdapter(model.MemberNornes, "c = 299,792,458 m/s", 88),
	)

	resp := f.pipeline.Process(context.Background(), model.QueryRequest{
		Query:  "What is the speed of light in vacuum?",
		UserID: "user-1",
	})

	assert.True(t, resp.IsVerified)
	assert.Equal(t, 100, resp.Confidence)
	require.NotNil(t, resp.Branch)
	assert.Equal(t, model.BranchMimir, *resp.Branch)
	require.NotNil(t, resp.Answer)
	assert.Contains(t, *resp.Answer, "299,792,458")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 100, resp.Sources[0].TrustScore)
	require.NotNil(t, resp.DeliberationID)

	// The deliberation and the verified node were persisted.
	d, err := f.store.GetDeliberation(context.Background(), *resp.DeliberationID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictConsensus, d.Verdict.Kind)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByState[model.StateVerified])
}

func TestProcessUnsourcedClaimRefusesNoSource(t *testing.T) {
	// MIMIR returns nothing anchored; VOLVA evidence stays below the
	// anchor threshold.
	f := newFixture(t, "", nil,
		adapter.NewStaticAdapter(model.MemberKvasir, "possibly", 65),
		adapter.NewStaticAdapter(model.MemberBragi, "unclear", 60),
		adapter.NewStaticAdapter(model.MemberNornes, "maybe", 72),
	)

	resp := f.pipeline.Process(context.Background(), model.QueryRequest{
		Query:  "What is dark matter consciousness evidence?",
		UserID: "user-1",
	})

	assert.False(t, resp.IsVerified)
	assert.Nil(t, resp.Answer)
	assert.Equal(t, model.RefusalNoSource, resp.RefusalReason)
	assert.Zero(t, resp.Confidence)
}

func TestProcessCouncilDeadlockRefusesNoConsensus(t *testing.T) {
	// A controversial query demands consensus; an even split deadlocks.
	f := newFixture(t, "Astronauts landed on the Moon in 1969.", anchorSources(),
		adapter.NewStaticAdapter(model.MemberKvasir, "it happened", 80),
		adapter.NewStaticAdapter(model.MemberBragi, "well documented", 75),
		adapter.NewStaticAdapter(model.MemberNornes, "cannot confirm", 40),
		adapter.NewStaticAdapter(model.MemberSaga, "doubtful", 45),
	)

	resp := f.pipeline.Process(context.Background(), model.QueryRequest{
		Query:  "What is the truth about the moon landing hoax debate?",
		UserID: "user-1",
	})

	assert.False(t, resp.IsVerified)
	assert.Equal(t, model.RefusalNoConsensus, resp.RefusalReason)
	require.NotNil(t, resp.DeliberationID)

	d, err := f.store.GetDeliberation(context.Background(), *resp.DeliberationID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeadlock, d.Verdict.Kind)
}

func TestProcessTimeoutRefusesWithPartialTrace(t *testing.T) {
	f := newFixture(t, "slow answer", anchorSources(),
		adapter.NewStaticAdapter(model.MemberKvasir, "late", 95).WithDelay(5*time.Second),
	)

	resp := f.pipeline.Process(context.Background(), model.QueryRequest{
		Query:        "What is the speed of light in vacuum?",
		UserID:       "user-1",
		IncludeTrace: true,
		Options:      &model.QueryOptions{MaxTimeMs: 50},
	})

	assert.False(t, resp.IsVerified)
	assert.Nil(t, resp.Answer, "a timeout never leaks a partial answer")
	assert.Equal(t, model.RefusalTimeout, resp.RefusalReason)
	require.NotNil(t, resp.Trace)
	assert.Equal(t, model.DecisionRejected, resp.Trace.FinalDecision)
	assert.NotEmpty(t, resp.Trace.Steps, "the partial trace covers completed phases")
}

func TestProcessConversationalSkipsVerification(t *testing.T) {
	f := newFixture(t, "", nil,
		adapter.NewStaticAdapter(model.MemberKvasir, "Hello! How can I help?", 90),
		adapter.NewStaticAdapter(model.MemberBragi, "Hi there.", 90),
	)

	resp := f.pipeline.Process(context.Background(), model.QueryRequest{
		Query:  "Hello!",
		UserID: "user-1",
	})

	assert.False(t, resp.IsVerified)
	require.NotNil(t, resp.Answer)
	assert.Empty(t, resp.RefusalReason)
	assert.Empty(t, resp.Sources)
	assert.Nil(t, resp.Branch)
}

func TestProcessWithThinkingEmitsOrderedPhases(t *testing.T) {
	f := newFixture(t, "The speed of light in vacuum is 299,792,458 m/s.", anchorSources(),
		adapter.NewStaticAdapter(model.MemberKvasir, "299,792,458 m/s", 95),
		adapter.NewStaticAdapter(model.MemberBragi, "same", 92),
		adapter.NewStaticAdapter(model.MemberNornes, "same", 88),
	)

	resp, steps := f.pipeline.ProcessWithThinking(context.Background(), model.QueryRequest{
		Query:  "What is the speed of light in vacuum?",
		UserID: "user-1",
	})

	assert.True(t, resp.IsVerified)
	require.NotEmpty(t, steps)
	assert.Equal(t, model.PhaseClassify, steps[0].Phase)

	var phases []string
	for _, s := range steps {
		phases = append(phases, s.Phase)
	}
	assert.Contains(t, phases, model.PhaseFanOut)
	assert.Contains(t, phases, model.PhaseDeliberate)
	assert.Contains(t, phases, model.PhaseValidate)
}

func TestProcessWithStreamingTerminatesWithResponse(t *testing.T) {
	f := newFixture(t, "The speed of light in vacuum is 299,792,458 m/s.", anchorSources(),
		adapter.NewStaticAdapter(model.MemberKvasir, "299,792,458 m/s", 95),
		adapter.NewStaticAdapter(model.MemberBragi, "same", 92),
		adapter.NewStaticAdapter(model.MemberNornes, "same", 88),
	)

	events := f.pipeline.ProcessWithStreaming(context.Background(), model.QueryRequest{
		Query:  "What is the speed of light in vacuum?",
		UserID: "user-1",
	})

	var (
		thinking  int
		responses int
		last      model.StreamEventType
	)
	for ev := range events {
		last = ev.Type
		switch ev.Type {
		case model.StreamThinking:
			thinking++
			require.NotNil(t, ev.Thinking)
		case model.StreamResponse:
			responses++
			require.NotNil(t, ev.Response)
			assert.True(t, ev.Response.IsVerified)
		}
	}
	assert.Positive(t, thinking)
	assert.Equal(t, 1, responses)
	assert.Equal(t, model.StreamResponse, last, "the sequence terminates with the response")
}

func TestComponentHealth(t *testing.T) {
	f := newFixture(t, "", nil,
		adapter.NewStaticAdapter(model.MemberKvasir, "up", 90),
		adapter.NewStaticAdapter(model.MemberBragi, "up", 90),
		adapter.NewStaticAdapter(model.MemberNornes, "up", 90),
	)

	components := f.pipeline.ComponentHealth(context.Background())
	assert.Equal(t, model.ComponentOK, components["ratatosk"])
	assert.Equal(t, model.ComponentOK, components["mimir"])
	assert.Equal(t, model.ComponentOK, components["volva"])
	assert.Equal(t, model.ComponentOK, components["hugin"])
	assert.Equal(t, model.ComponentOK, components["odin"])
	assert.Equal(t, model.ComponentOK, components["thing"])
}
