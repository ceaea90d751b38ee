// Package adapter wraps heterogeneous external model providers behind the
// uniform ILLMAdapter contract used by the council.
//
// Availability is a capability, not a type discriminator: the registry holds
// whichever adapters are configured, and callers skip unavailable members
// rather than failing. Every call carries a per-call timeout; a timeout is
// reported as an unavailability signal, never as a partial answer.
package adapter

import (
	"context"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// DefaultCallTimeout bounds a single adapter call unless the context imposes
// a tighter deadline.
const DefaultCallTimeout = 30 * time.Second

// ILLMAdapter is the only contract the epistemic core has with a model
// provider: query a prompt, get back content with a confidence.
type ILLMAdapter interface {
	// Member returns the council role this adapter backs.
	Member() model.CouncilMember

	// ModelID identifies the underlying provider model.
	ModelID() string

	// Query sends a prompt and returns the member's response.
	// Errors wrap model.ErrAdapterTimeout or model.ErrAdapterUnavailable.
	Query(ctx context.Context, prompt string) (model.CouncilMemberResponse, error)

	// IsAvailable reports whether the adapter can currently serve.
	IsAvailable() bool
}

// systemPrompts are fixed per member and compiled in. They constrain members
// to direct, language-matched, technical output.
var systemPrompts = map[model.CouncilMember]string{
	model.MemberKvasir: "You are KVASIR, the synthesist. Answer directly and technically, in the language of the question. Cite what you know; never invent sources.",
	model.MemberBragi:  "You are BRAGI, the articulator. Give a precise, well-structured answer in the language of the question. No filler, no hedging beyond your stated confidence.",
	model.MemberNornes: "You are NORNES, the forecaster. Reason about consequences and temporal context. Answer in the language of the question, technically and directly.",
	model.MemberSaga:   "You are SAGA, the historian. Ground your answer in established record. Answer in the language of the question; state uncertainty explicitly.",
	model.MemberSyn:    "You are SYN, the gatekeeper. Scrutinize the premise of the question before answering. Answer in the language of the question, directly.",
	model.MemberLoki:   "You are LOKI, the adversary. Attack the weakest points of the given responses. Name the member you challenge and grade each objection LOW, MEDIUM, HIGH or CRITICAL.",
	model.MemberTyr:    "You are TYR, the arbiter. Weigh the responses impartially and state the strongest supported position.",
}

// SystemPrompt returns the compiled-in system prompt for a member.
func SystemPrompt(m model.CouncilMember) string {
	return systemPrompts[m]
}

// Registry holds the set of capable adapters keyed by member.
type Registry struct {
	adapters map[model.CouncilMember]ILLMAdapter
}

// NewRegistry builds a registry from the given adapters. A later adapter for
// the same member replaces an earlier one.
func NewRegistry(adapters ...ILLMAdapter) *Registry {
	r := &Registry{adapters: make(map[model.CouncilMember]ILLMAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Member()] = a
	}
	return r
}

// Get returns the adapter for a member, if registered.
func (r *Registry) Get(m model.CouncilMember) (ILLMAdapter, bool) {
	a, ok := r.adapters[m]
	return a, ok
}

// Available returns the members with a currently-available adapter,
// in canonical member order.
func (r *Registry) Available() []model.CouncilMember {
	var out []model.CouncilMember
	for _, m := range model.AllMembers {
		if a, ok := r.adapters[m]; ok && a.IsAvailable() {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int { return len(r.adapters) }
