// Package shapley computes fair per-member contribution for a council
// deliberation using exact Shapley values.
//
// Council size is bounded (|N| <= 8), so the exhaustive powerset formulation
// is admissible: 2^8 coalition evaluations per member at worst.
package shapley

import (
	"math"
	"sort"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// Verdict alignment factors per verdict kind.
var verdictFactors = map[model.VerdictKind]float64{
	model.VerdictConsensus: 1.0,
	model.VerdictMajority:  0.8,
	model.VerdictSplit:     0.5,
	model.VerdictDeadlock:  0.3,
}

// Attribute computes the Shapley breakdown for every responding member of a
// deliberation. The result is sorted by canonical member order.
func Attribute(d model.CouncilDeliberation) []model.Attribution {
	members := make([]model.CouncilMember, 0, len(d.Responses))
	confidence := make(map[model.CouncilMember]float64, len(d.Responses))
	for _, r := range d.Responses {
		members = append(members, r.Member)
		confidence[r.Member] = float64(r.Confidence)
	}
	sort.Slice(members, func(i, j int) bool {
		return model.MemberRank(members[i]) < model.MemberRank(members[j])
	})

	n := len(members)
	if n == 0 {
		return []model.Attribution{}
	}

	factor := verdictFactors[d.Verdict.Kind]

	// value evaluates v(S) for a coalition encoded as a bitmask over members.
	value := func(mask uint) float64 {
		confs := make([]float64, 0, n)
		for i := 0; i < n; i++ {
			if mask&(1<<uint(i)) != 0 {
				confs = append(confs, confidence[members[i]])
			}
		}
		return coalitionValue(confs, factor)
	}

	phi := make([]float64, n)
	full := uint(1)<<uint(n) - 1
	for i := 0; i < n; i++ {
		// Sum marginal contributions over every coalition not containing i.
		rest := full &^ (1 << uint(i))
		for sub := uint(0); ; sub = (sub - rest) & rest {
			s := popcount(sub)
			weight := factorial(s) * factorial(n-s-1) / factorial(n)
			phi[i] += weight * (value(sub|1<<uint(i)) - value(sub))
			if sub == rest {
				break
			}
		}
	}

	var total float64
	for _, p := range phi {
		total += p
	}

	out := make([]model.Attribution, n)
	for i, m := range members {
		pct := 100.0 / float64(n)
		if total != 0 {
			pct = phi[i] / total * 100
		}
		out[i] = model.Attribution{
			Member:             m,
			ShapleyValue:       phi[i],
			Percentage:         pct,
			ResponseQuality:    responseQuality(d.Responses, m),
			ChallengeImpact:    challengeImpact(d.Challenges, m),
			ConsensusAlignment: consensusAlignment(d.Verdict.Kind, confidence[m]),
		}
	}
	return out
}

// coalitionValue is v(S) = 0.3·avgConfidence + 0.3·agreement + 0.4·alignment.
// v(∅) = 0.
func coalitionValue(confs []float64, verdictFactor float64) float64 {
	if len(confs) == 0 {
		return 0
	}
	avg := mean(confs)
	agreement := 100.0
	if len(confs) > 1 {
		agreement = math.Max(0, 100-math.Sqrt(variance(confs)))
	}
	alignment := avg * verdictFactor
	return 0.3*avg + 0.3*agreement + 0.4*alignment
}

// responseQuality = min(100, confidence + bonus) where a substantial
// reasoning (> 100 chars) earns a 10-point bonus.
func responseQuality(responses []model.CouncilMemberResponse, m model.CouncilMember) float64 {
	for _, r := range responses {
		if r.Member != m {
			continue
		}
		q := float64(r.Confidence)
		if len(r.Reasoning) > 100 {
			q += 10
		}
		return math.Min(100, q)
	}
	return 0
}

var severityPenalty = map[model.ChallengeSeverity]float64{
	model.SeverityCritical: 40,
	model.SeverityHigh:     25,
	model.SeverityMedium:   15,
	model.SeverityLow:      5,
}

// challengeImpact scores how a member fared against the challenge phase.
// Non-LOKI members lose points per challenge against them, floored at 0.
// LOKI itself is scored on the sharpness of its objections: 50 with no
// challenges, +20 per HIGH or CRITICAL, capped at 100.
func challengeImpact(challenges []model.LokiChallenge, m model.CouncilMember) float64 {
	if m == model.MemberLoki {
		if len(challenges) == 0 {
			return 50
		}
		sharp := 0
		for _, ch := range challenges {
			if ch.Severity == model.SeverityHigh || ch.Severity == model.SeverityCritical {
				sharp++
			}
		}
		return math.Min(100, 50+20*float64(sharp))
	}

	impact := 100.0
	for _, ch := range challenges {
		if ch.TargetMember == m {
			impact -= severityPenalty[ch.Severity]
		}
	}
	return math.Max(0, impact)
}

// consensusAlignment scores how a member's confidence sits with the verdict:
// affirmative verdicts reward confident members, failed verdicts reward
// restraint.
func consensusAlignment(kind model.VerdictKind, confidence float64) float64 {
	switch kind {
	case model.VerdictConsensus, model.VerdictMajority:
		return confidence
	case model.VerdictSplit:
		return 50
	default: // DEADLOCK
		return 100 - confidence
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs))
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

func popcount(mask uint) int {
	count := 0
	for mask != 0 {
		mask &= mask - 1
		count++
	}
	return count
}
