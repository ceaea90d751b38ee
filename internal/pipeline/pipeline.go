// Package pipeline orchestrates a query end to end: classification, branch
// fan-out, council deliberation, validation, and persistence. The terminal
// output is always a verified answer with literal sources or an explicit
// refusal; a deadline expiring at any phase yields a TIMEOUT refusal with the
// partial trace, never a partial answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Krigsexe/Yggdrasil/internal/branches"
	"github.com/Krigsexe/Yggdrasil/internal/classifier"
	"github.com/Krigsexe/Yggdrasil/internal/council"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
	"github.com/Krigsexe/Yggdrasil/internal/shapley"
	"github.com/Krigsexe/Yggdrasil/internal/validator"
)

// DefaultMaxTime bounds a request that carries no explicit deadline.
const DefaultMaxTime = 2 * time.Minute

// Pipeline wires the components together. All fields are required.
type Pipeline struct {
	handlers  []branches.Handler
	council   *council.Council
	validator *validator.Validator
	ledger    *ledger.Ledger
	members   []model.CouncilMember
	logger    *slog.Logger
}

// New creates a pipeline. members defaults to the full canonical council.
func New(handlers []branches.Handler, c *council.Council, v *validator.Validator, l *ledger.Ledger, members []model.CouncilMember, logger *slog.Logger) *Pipeline {
	if len(members) == 0 {
		members = model.AllMembers
	}
	return &Pipeline{
		handlers:  handlers,
		council:   c,
		validator: v,
		ledger:    l,
		members:   members,
		logger:    logger,
	}
}

// Process runs the pipeline and returns the terminal response.
func (p *Pipeline) Process(ctx context.Context, req model.QueryRequest) model.YggdrasilResponse {
	return p.run(ctx, req, nil)
}

// ProcessWithThinking runs the pipeline and additionally returns every
// emitted reasoning step.
func (p *Pipeline) ProcessWithThinking(ctx context.Context, req model.QueryRequest) (model.YggdrasilResponse, []model.ThinkingStep) {
	var steps []model.ThinkingStep
	resp := p.run(ctx, req, func(s model.ThinkingStep) {
		steps = append(steps, s)
	})
	return resp, steps
}

// ProcessWithStreaming runs the pipeline in a goroutine and emits thinking
// events as they happen. The sequence terminates with exactly one response
// event and the channel closes.
func (p *Pipeline) ProcessWithStreaming(ctx context.Context, req model.QueryRequest) <-chan model.StreamEvent {
	events := make(chan model.StreamEvent, 16)
	go func() {
		defer close(events)
		resp := p.run(ctx, req, func(s model.ThinkingStep) {
			step := s
			select {
			case events <- model.StreamEvent{Type: model.StreamThinking, Thinking: &step}:
			case <-ctx.Done():
			}
		})
		select {
		case events <- model.StreamEvent{Type: model.StreamResponse, Response: &resp}:
		case <-ctx.Done():
		}
	}()
	return events
}

// ComponentHealth reports per-component status for the health surface.
// Ledger health is reported by the caller, which owns the store.
func (p *Pipeline) ComponentHealth(ctx context.Context) map[string]string {
	components := map[string]string{
		"ratatosk": model.ComponentOK,
		"odin":     model.ComponentOK,
	}
	for _, h := range p.handlers {
		key := componentKey(h.Branch())
		if h.Healthy(ctx) {
			components[key] = model.ComponentOK
		} else {
			components[key] = model.ComponentDown
		}
	}
	switch n := len(p.council.Available()); {
	case n == 0:
		components["thing"] = model.ComponentDown
	case n < len(p.members)-2: // LOKI and TYR carry no vote
		components["thing"] = model.ComponentDegraded
	default:
		components["thing"] = model.ComponentOK
	}
	return components
}

func componentKey(b model.Branch) string {
	switch b {
	case model.BranchMimir:
		return "mimir"
	case model.BranchVolva:
		return "volva"
	default:
		return "hugin"
	}
}

// run executes the five phases with a deadline check at every boundary.
func (p *Pipeline) run(ctx context.Context, req model.QueryRequest, emit func(model.ThinkingStep)) model.YggdrasilResponse {
	start := time.Now()
	if emit == nil {
		emit = func(model.ThinkingStep) {}
	}

	maxTime := DefaultMaxTime
	if req.Options != nil && req.Options.MaxTimeMs > 0 {
		maxTime = time.Duration(req.Options.MaxTimeMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, maxTime)
	defer cancel()

	includeTrace := req.IncludeTrace || (req.Options != nil && req.Options.ReturnTrace)
	trace := &model.ValidationTrace{
		RequestID:   req.UserID + "/" + start.UTC().Format(time.RFC3339Nano),
		OdinVersion: validator.Version,
	}
	if req.SessionID != "" {
		trace.RequestID = req.SessionID
	}
	addStep := func(phase, action, result string) {
		trace.Steps = append(trace.Steps, model.TraceStep{
			StepNumber: len(trace.Steps) + 1,
			Phase:      phase,
			Action:     action,
			Result:     result,
			Timestamp:  time.Now().UTC(),
		})
	}
	think := func(phase, thought string) {
		emit(model.ThinkingStep{Phase: phase, Thought: thought, Timestamp: time.Now().UTC()})
	}
	refuse := func(reason model.RefusalReason) model.YggdrasilResponse {
		trace.FinalDecision = model.DecisionRejected
		trace.ProcessingTimeMs = time.Since(start).Milliseconds()
		resp := model.YggdrasilResponse{
			IsVerified:    false,
			RefusalReason: reason,
			Sources:       []model.Source{},
			Confidence:    0,
		}
		if includeTrace {
			resp.Trace = trace
		}
		p.logger.Info("pipeline: refused", "request_id", trace.RequestID, "reason", reason)
		return resp
	}

	// Phase 1: classify.
	classification := classifier.Classify(req.Query)
	addStep(model.PhaseClassify, "classify query",
		fmt.Sprintf("type=%s domain=%s complexity=%s", classification.Type, classification.Domain, classification.Complexity))
	think(model.PhaseClassify,
		fmt.Sprintf("classified as %s/%s, verification=%t", classification.Type, classification.Domain, classification.RequiresVerification))

	// Conversational exchanges carry no knowledge claim; answered without
	// verification, sources, or branch.
	if !classification.RequiresVerification {
		return p.converse(ctx, req, trace, includeTrace, start, think)
	}
	if ctx.Err() != nil {
		return refuse(model.RefusalTimeout)
	}

	// Phase 2: branch fan-out.
	results := p.fanOutBranches(ctx, req.Query)
	best := pickBest(results)
	addStep(model.PhaseFanOut, "fan out to branch handlers",
		fmt.Sprintf("%d handler(s), best=%s", len(results), bestLabel(best)))
	think(model.PhaseFanOut, fanOutThought(results, best))
	if ctx.Err() != nil {
		return refuse(model.RefusalTimeout)
	}

	// Phase 3: council deliberation. Controversial queries demand consensus.
	deliberation, err := p.council.Deliberate(ctx, council.Request{
		RequestID:        trace.RequestID,
		Query:            req.Query,
		Members:          p.members,
		RequireConsensus: classification.Controversial,
		OnProgress: func(phase, detail string) {
			think(model.PhaseDeliberate, phase+": "+detail)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			addStep(model.PhaseDeliberate, "council deliberation", "deadline expired")
			return refuse(model.RefusalTimeout)
		}
		p.logger.Error("pipeline: deliberation failed", "request_id", trace.RequestID, "error", err)
		addStep(model.PhaseDeliberate, "council deliberation", "failed: "+err.Error())
		return refuse(model.RefusalInternal)
	}
	addStep(model.PhaseDeliberate, "council deliberation",
		fmt.Sprintf("verdict=%s responses=%d challenges=%d",
			deliberation.Verdict.Kind, len(deliberation.Responses), len(deliberation.Challenges)))
	if ctx.Err() != nil {
		return refuse(model.RefusalTimeout)
	}

	// Phase 4: validate.
	requireAnchor := true
	if req.Options != nil && req.Options.RequireMimirAnchor != nil {
		requireAnchor = *req.Options.RequireMimirAnchor
	}
	vr := p.validator.Validate(validator.Input{
		RequestID:          trace.RequestID,
		Content:            answerContent(best, deliberation),
		RequireMimirAnchor: requireAnchor,
		Sources:            bestSources(best),
		Verdict:            deliberation.Verdict,
		BranchResults:      results,
	})
	for _, s := range vr.Trace.Steps {
		addStep(model.PhaseValidate, s.Action, s.Result)
	}
	think(model.PhaseValidate, "decision: "+vr.Trace.FinalDecision)

	// Phase 5: persist. Runs for refusals too: the deliberation record is
	// part of the audit surface either way.
	deliberationID := deliberation.ID
	p.persist(ctx, req, string(classification.Domain), best, deliberation, vr)
	addStep(model.PhasePersist, "persist deliberation and node", "done")
	if ctx.Err() != nil {
		return refuse(model.RefusalTimeout)
	}

	if !vr.IsValid {
		resp := refuse(vr.RefusalReason)
		resp.DeliberationID = &deliberationID
		return resp
	}

	answer := answerContent(best, deliberation)
	branch := best.Branch
	trace.FinalDecision = model.DecisionApproved
	trace.ProcessingTimeMs = time.Since(start).Milliseconds()

	resp := model.YggdrasilResponse{
		IsVerified:     true,
		Answer:         &answer,
		Sources:        bestSources(best),
		Branch:         &branch,
		Confidence:     100,
		DeliberationID: &deliberationID,
	}
	if includeTrace {
		resp.Trace = trace
	}
	p.logger.Info("pipeline: answered",
		"request_id", trace.RequestID, "branch", branch, "duration_ms", trace.ProcessingTimeMs)
	return resp
}

// converse answers small talk through the council without verification.
func (p *Pipeline) converse(ctx context.Context, req model.QueryRequest, trace *model.ValidationTrace, includeTrace bool, start time.Time, think func(string, string)) model.YggdrasilResponse {
	deliberation, err := p.council.Deliberate(ctx, council.Request{
		RequestID: trace.RequestID,
		Query:     req.Query,
		Members:   []model.CouncilMember{model.MemberKvasir, model.MemberBragi},
	})
	resp := model.YggdrasilResponse{
		IsVerified: false,
		Sources:    []model.Source{},
		Confidence: 0,
	}
	if err == nil && deliberation.FinalProposal != "" {
		answer := deliberation.FinalProposal
		resp.Answer = &answer
		think(model.PhaseDeliberate, "conversational reply assembled")
	} else {
		resp.RefusalReason = model.RefusalInternal
		if ctx.Err() != nil {
			resp.RefusalReason = model.RefusalTimeout
		}
	}
	trace.FinalDecision = model.DecisionRejected
	trace.ProcessingTimeMs = time.Since(start).Milliseconds()
	if includeTrace {
		resp.Trace = trace
	}
	return resp
}

// fanOutBranches runs every handler concurrently and joins their results.
// A failing handler contributes an empty result, not a pipeline failure.
func (p *Pipeline) fanOutBranches(ctx context.Context, query string) []model.BranchResult {
	var (
		mu      sync.Mutex
		results []model.BranchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range p.handlers {
		g.Go(func() error {
			result, err := h.Fetch(gctx, query)
			if err != nil {
				p.logger.Warn("pipeline: branch handler failed", "branch", h.Branch(), "error", err)
				result = model.BranchResult{Branch: h.Branch()}
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// pickBest prefers the most trusted branch with evidence: MIMIR, then VOLVA,
// then HUGIN.
func pickBest(results []model.BranchResult) model.BranchResult {
	for _, branch := range []model.Branch{model.BranchMimir, model.BranchVolva, model.BranchHugin} {
		for _, r := range results {
			if r.Branch == branch && !r.Empty() {
				return r
			}
		}
	}
	return model.BranchResult{}
}

func bestLabel(best model.BranchResult) string {
	if best.Empty() {
		return "none"
	}
	return string(best.Branch)
}

func fanOutThought(results []model.BranchResult, best model.BranchResult) string {
	withEvidence := 0
	for _, r := range results {
		if !r.Empty() {
			withEvidence++
		}
	}
	if best.Empty() {
		return "no branch returned usable evidence"
	}
	return fmt.Sprintf("%d branch(es) returned evidence, using %s at confidence %d",
		withEvidence, best.Branch, best.Confidence)
}

func bestSources(best model.BranchResult) []model.Source {
	if best.Sources == nil {
		return []model.Source{}
	}
	return best.Sources
}

// answerContent is the branch evidence when present, else the council's
// assembled proposal.
func answerContent(best model.BranchResult, d model.CouncilDeliberation) string {
	if best.Content != "" {
		return best.Content
	}
	return d.FinalProposal
}

// persist records the deliberation, its attribution breakdown, and, on an
// approved MIMIR answer, the knowledge node. Persistence failures are logged
// and never convert an answer into fabricated content or vice versa.
func (p *Pipeline) persist(ctx context.Context, req model.QueryRequest, domain string, best model.BranchResult, d model.CouncilDeliberation, vr validator.Result) {
	store := p.ledger.Store()
	if err := store.InsertDeliberation(ctx, d); err != nil {
		p.logger.Error("pipeline: persist deliberation", "deliberation_id", d.ID, "error", err)
	}

	attrs := shapley.Attribute(d)
	if len(attrs) > 0 {
		if ins, ok := store.(interface {
			InsertAttributions(context.Context, uuid.UUID, []model.Attribution) error
		}); ok {
			if err := ins.InsertAttributions(ctx, d.ID, attrs); err != nil {
				p.logger.Error("pipeline: persist attributions", "deliberation_id", d.ID, "error", err)
			}
		}
	}

	if !vr.IsValid || best.Empty() {
		return
	}

	node, err := p.ledger.CreateNode(ctx, best.Content, ledger.CreateOptions{
		Domain:     domain,
		Confidence: best.Confidence,
		Sources:    best.Sources,
		Trigger:    "pipeline",
		Agent:      req.UserID,
		Reason:     "approved answer for query",
	})
	if err != nil {
		p.logger.Error("pipeline: persist node", "error", err)
		return
	}

	if best.Branch == model.BranchMimir {
		if _, err := p.ledger.TransitionState(ctx, node.ID, model.StateVerified, ledger.TransitionOptions{
			Trigger:    "pipeline",
			Agent:      req.UserID,
			Reason:     "anchored evidence with council approval",
			VoteRecord: d.Verdict.VoteCounts,
		}); err != nil {
			p.logger.Error("pipeline: verify node", "node_id", node.ID, "error", err)
		}
	}

	contributions := make(map[string]float64, len(attrs))
	for _, a := range attrs {
		contributions[string(a.Member)] = a.ShapleyValue
	}
	if len(contributions) > 0 {
		if err := p.ledger.UpdateShapleyAttribution(ctx, node.ID, contributions); err != nil {
			p.logger.Error("pipeline: persist shapley", "node_id", node.ID, "error", err)
		}
	}
}
