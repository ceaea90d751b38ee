package model

import (
	"time"

	"github.com/google/uuid"
)

// CouncilMember is a named deliberation role backed by one model adapter.
// The enum order is canonical: deliberation responses are sorted by it so that
// identical inputs always produce identical output.
type CouncilMember string

const (
	MemberKvasir CouncilMember = "KVASIR"
	MemberBragi  CouncilMember = "BRAGI"
	MemberNornes CouncilMember = "NORNES"
	MemberSaga   CouncilMember = "SAGA"
	MemberSyn    CouncilMember = "SYN"
	MemberLoki   CouncilMember = "LOKI"
	MemberTyr    CouncilMember = "TYR"
)

// AllMembers lists every council member in canonical order.
var AllMembers = []CouncilMember{
	MemberKvasir, MemberBragi, MemberNornes, MemberSaga,
	MemberSyn, MemberLoki, MemberTyr,
}

// MemberRank returns the canonical ordering index of a member,
// or len(AllMembers) for unknown members (they sort last).
func MemberRank(m CouncilMember) int {
	for i, known := range AllMembers {
		if known == m {
			return i
		}
	}
	return len(AllMembers)
}

// CouncilMemberResponse is the uniform adapter output contract.
type CouncilMemberResponse struct {
	Member     CouncilMember `json:"member"`
	Content    string        `json:"content"`
	Confidence int           `json:"confidence"` // [0,100]
	Reasoning  string        `json:"reasoning,omitempty"`
	Model      string        `json:"model,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Timestamp  time.Time     `json:"ts"`
}

// ChallengeSeverity grades a LOKI challenge.
type ChallengeSeverity string

const (
	SeverityLow      ChallengeSeverity = "LOW"
	SeverityMedium   ChallengeSeverity = "MEDIUM"
	SeverityHigh     ChallengeSeverity = "HIGH"
	SeverityCritical ChallengeSeverity = "CRITICAL"
)

// LokiChallenge is an adversarial objection raised against one member's response.
type LokiChallenge struct {
	ID           uuid.UUID         `json:"id"`
	TargetMember CouncilMember     `json:"target_member"`
	Text         string            `json:"text"`
	Severity     ChallengeSeverity `json:"severity"`
	Resolved     bool              `json:"resolved"`
	Timestamp    time.Time         `json:"ts"`
}

// VerdictKind is the arbitration outcome of a deliberation.
type VerdictKind string

const (
	VerdictConsensus VerdictKind = "CONSENSUS"
	VerdictMajority  VerdictKind = "MAJORITY"
	VerdictSplit     VerdictKind = "SPLIT"
	VerdictDeadlock  VerdictKind = "DEADLOCK"
)

// Vote buckets derived from response confidence.
const (
	VoteYes     = "yes"     // confidence >= 70
	VotePartial = "partial" // confidence in [50,69]
	VoteNo      = "no"      // confidence < 50
)

// VoteForConfidence maps a response confidence to its vote bucket.
func VoteForConfidence(confidence int) string {
	switch {
	case confidence >= 70:
		return VoteYes
	case confidence >= 50:
		return VotePartial
	default:
		return VoteNo
	}
}

// Verdict is the TYR arbitration result. Deterministic given the response
// and challenge sets.
type Verdict struct {
	Kind       VerdictKind     `json:"kind"`
	VoteCounts map[string]int  `json:"vote_counts"`
	Reasoning  string          `json:"reasoning"`
	Dissent    []CouncilMember `json:"dissent,omitempty"`
}

// CouncilDeliberation records one full deliberation round.
type CouncilDeliberation struct {
	ID              uuid.UUID               `json:"id"`
	RequestID       string                  `json:"request_id"`
	Query           string                  `json:"query"`
	Responses       []CouncilMemberResponse `json:"responses"`
	Challenges      []LokiChallenge         `json:"challenges"`
	Verdict         Verdict                 `json:"verdict"`
	FinalProposal   string                  `json:"final_proposal"`
	TotalDurationMs int64                   `json:"total_duration_ms"`
	Timestamp       time.Time               `json:"ts"`
}

// Attribution holds the per-member fairness breakdown for one deliberation.
type Attribution struct {
	Member             CouncilMember `json:"member"`
	ShapleyValue       float64       `json:"shapley_value"`
	Percentage         float64       `json:"percentage"`
	ResponseQuality    float64       `json:"response_quality"`
	ChallengeImpact    float64       `json:"challenge_impact"`
	ConsensusAlignment float64       `json:"consensus_alignment"`
}
