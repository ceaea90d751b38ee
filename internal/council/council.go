// Package council implements the Thing, the multi-model deliberation protocol:
// concurrent fan-out to member adapters, adversarial challenge by LOKI,
// arbitration by TYR, and assembly of the final proposal.
//
// The verdict is deterministic given the response and challenge sets:
// responses are sorted by canonical member order before arbitration.
package council

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Krigsexe/Yggdrasil/internal/adapter"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// PhaseTimeout bounds the fan-out phase; the slowest responsive member bounds
// the phase up to this limit.
const PhaseTimeout = 45 * time.Second

// Request describes one deliberation.
type Request struct {
	RequestID        string
	Query            string
	Members          []model.CouncilMember
	RequireConsensus bool
	// OnProgress, when set, receives a short status line per protocol phase.
	OnProgress func(phase, detail string)
}

// Council runs deliberations over a registry of adapters.
type Council struct {
	registry *adapter.Registry
	logger   *slog.Logger
}

// New creates a council over the given adapter registry.
func New(registry *adapter.Registry, logger *slog.Logger) *Council {
	return &Council{registry: registry, logger: logger}
}

// Available returns the members with a live adapter, in canonical order.
func (c *Council) Available() []model.CouncilMember {
	return c.registry.Available()
}

// Deliberate runs the full protocol: fan-out, collect, challenge, arbitrate,
// propose. Unresponsive members contribute no response; only a cancelled
// parent context is a hard error.
func (c *Council) Deliberate(ctx context.Context, req Request) (model.CouncilDeliberation, error) {
	start := time.Now()
	progress := req.OnProgress
	if progress == nil {
		progress = func(string, string) {}
	}

	// Phase 1+2: fan-out to every requested member with an available adapter,
	// collect until all return or the phase deadline passes.
	responses := c.fanOut(ctx, req, progress)
	if ctx.Err() != nil {
		return model.CouncilDeliberation{}, fmt.Errorf("council: %w", model.ErrDeadlineExceeded)
	}

	// Stable ordering by canonical member rank.
	sort.SliceStable(responses, func(i, j int) bool {
		return model.MemberRank(responses[i].Member) < model.MemberRank(responses[j].Member)
	})

	// Phase 3: LOKI reviews the collected responses.
	challenges := c.challenge(ctx, req, responses, progress)

	// Phase 4: TYR derives votes and the verdict.
	verdict := Arbitrate(responses, req.RequireConsensus)
	progress("arbitrate", fmt.Sprintf("verdict %s (yes=%d partial=%d no=%d)",
		verdict.Kind, verdict.VoteCounts[model.VoteYes], verdict.VoteCounts[model.VotePartial], verdict.VoteCounts[model.VoteNo]))

	// Phase 5: assemble the proposal from the top-voted contents.
	proposal := Propose(responses)

	return model.CouncilDeliberation{
		ID:              uuid.New(),
		RequestID:       req.RequestID,
		Query:           req.Query,
		Responses:       responses,
		Challenges:      challenges,
		Verdict:         verdict,
		FinalProposal:   proposal,
		TotalDurationMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}, nil
}

// fanOut launches one concurrent request per requested member. LOKI is not
// queried here; it speaks only in the challenge phase.
func (c *Council) fanOut(ctx context.Context, req Request, progress func(string, string)) []model.CouncilMemberResponse {
	phaseCtx, cancel := context.WithTimeout(ctx, PhaseTimeout)
	defer cancel()

	var (
		mu        sync.Mutex
		responses []model.CouncilMemberResponse
	)
	g, gctx := errgroup.WithContext(phaseCtx)

	launched := 0
	for _, member := range req.Members {
		if member == model.MemberLoki || member == model.MemberTyr {
			continue
		}
		a, ok := c.registry.Get(member)
		if !ok || !a.IsAvailable() {
			c.logger.Debug("council: member skipped", "member", member, "reason", "unavailable")
			continue
		}
		launched++
		g.Go(func() error {
			resp, err := a.Query(gctx, req.Query)
			if err != nil {
				// Adapter failures are unavailability, never deliberation failure.
				c.logger.Warn("council: member did not respond", "member", a.Member(), "error", err)
				return nil
			}
			mu.Lock()
			responses = append(responses, resp)
			mu.Unlock()
			return nil
		})
	}
	progress("fan_out", fmt.Sprintf("%d member(s) queried", launched))
	_ = g.Wait()
	progress("collect", fmt.Sprintf("%d response(s) collected", len(responses)))
	return responses
}

// challenge asks the LOKI adapter to attack the collected responses. A
// missing or failing LOKI yields zero challenges, not an error.
func (c *Council) challenge(ctx context.Context, req Request, responses []model.CouncilMemberResponse, progress func(string, string)) []model.LokiChallenge {
	wantLoki := false
	for _, m := range req.Members {
		if m == model.MemberLoki {
			wantLoki = true
		}
	}
	if !wantLoki || len(responses) == 0 {
		return []model.LokiChallenge{}
	}
	loki, ok := c.registry.Get(model.MemberLoki)
	if !ok || !loki.IsAvailable() {
		return []model.LokiChallenge{}
	}

	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(req.Query)
	sb.WriteString("\n\nResponses under review:\n")
	for _, r := range responses {
		fmt.Fprintf(&sb, "[%s] (confidence %d) %s\n", r.Member, r.Confidence, r.Content)
	}
	sb.WriteString("\nRaise your objections, one per line, as 'MEMBER | SEVERITY | objection'.")

	resp, err := loki.Query(ctx, sb.String())
	if err != nil {
		c.logger.Warn("council: loki unavailable, no challenges", "error", err)
		return []model.LokiChallenge{}
	}
	challenges := ParseChallenges(resp.Content)
	progress("challenge", fmt.Sprintf("%d challenge(s) raised", len(challenges)))
	return challenges
}

var challengeLineRe = regexp.MustCompile(`(?m)^\s*([A-Z]+)\s*\|\s*(LOW|MEDIUM|HIGH|CRITICAL)\s*\|\s*(.+?)\s*$`)

// ParseChallenges extracts structured challenges from LOKI's line protocol.
// Lines naming an unknown member are dropped.
func ParseChallenges(raw string) []model.LokiChallenge {
	matches := challengeLineRe.FindAllStringSubmatch(raw, -1)
	challenges := make([]model.LokiChallenge, 0, len(matches))
	now := time.Now().UTC()
	for _, m := range matches {
		target := model.CouncilMember(m[1])
		if model.MemberRank(target) == len(model.AllMembers) {
			continue
		}
		challenges = append(challenges, model.LokiChallenge{
			ID:           uuid.New(),
			TargetMember: target,
			Text:         m[3],
			Severity:     model.ChallengeSeverity(m[2]),
			Timestamp:    now,
		})
	}
	return challenges
}

// Arbitrate derives votes from confidence buckets and returns the verdict.
// Deterministic: depends only on the multiset of response confidences and
// the requireConsensus flag.
func Arbitrate(responses []model.CouncilMemberResponse, requireConsensus bool) model.Verdict {
	counts := map[string]int{}
	var dissent []model.CouncilMember
	for _, r := range responses {
		vote := model.VoteForConfidence(r.Confidence)
		counts[vote]++
		if vote == model.VoteNo {
			dissent = append(dissent, r.Member)
		}
	}

	n := len(responses)
	yes, no := counts[model.VoteYes], counts[model.VoteNo]

	var kind model.VerdictKind
	var reasoning string
	switch {
	case n == 0:
		kind = model.VerdictDeadlock
		reasoning = "no responses collected"
	case no == 0 && yes >= (n+1)/2+1:
		kind = model.VerdictConsensus
		reasoning = fmt.Sprintf("%d of %d members affirm with no dissent", yes, n)
	case no > yes:
		kind = model.VerdictDeadlock
		reasoning = fmt.Sprintf("dissent outweighs affirmation (%d no vs %d yes)", no, yes)
	case yes == no && requireConsensus:
		kind = model.VerdictDeadlock
		reasoning = fmt.Sprintf("split %d-%d with consensus required", yes, no)
	case yes == no:
		kind = model.VerdictSplit
		reasoning = fmt.Sprintf("evenly split %d-%d", yes, no)
	default:
		kind = model.VerdictMajority
		reasoning = fmt.Sprintf("%d yes against %d no without consensus", yes, no)
	}

	return model.Verdict{
		Kind:       kind,
		VoteCounts: counts,
		Reasoning:  reasoning,
		Dissent:    dissent,
	}
}

// Propose concatenates the top-voted contents with their attributions.
// Yes-voting members contribute first, then partials; dissenters do not
// contribute to the proposal.
func Propose(responses []model.CouncilMemberResponse) string {
	var parts []string
	for _, want := range []string{model.VoteYes, model.VotePartial} {
		for _, r := range responses {
			if model.VoteForConfidence(r.Confidence) == want && r.Content != "" {
				parts = append(parts, fmt.Sprintf("[%s] %s", r.Member, r.Content))
			}
		}
	}
	return strings.Join(parts, "\n\n")
}
