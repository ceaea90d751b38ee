// Package validator implements Odin, the final gate of the pipeline. It never
// adjusts content; it only approves or refuses, and records every check as an
// ordered trace step.
package validator

import (
	"log/slog"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// Version identifies the validation rule set in traces.
const Version = "odin/1"

// Input is everything the validator inspects for one request.
type Input struct {
	RequestID          string
	Content            string
	RequireMimirAnchor bool
	Sources            []model.Source
	Verdict            model.Verdict
	BranchResults      []model.BranchResult
}

// Result is the validator's decision.
type Result struct {
	IsValid       bool
	Confidence    int // 100 on approval, 0 on refusal
	RefusalReason model.RefusalReason
	Trace         model.ValidationTrace
}

// Validator applies the acceptance rules in fixed order: anchor, consensus,
// branch ceilings.
type Validator struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a validator.
func New(logger *slog.Logger) *Validator {
	return &Validator{logger: logger, now: time.Now}
}

// Validate runs every check and returns the decision with its full trace.
func (v *Validator) Validate(in Input) Result {
	start := v.now()
	trace := model.ValidationTrace{
		RequestID:   in.RequestID,
		OdinVersion: Version,
	}
	step := func(action, result string) {
		trace.Steps = append(trace.Steps, model.TraceStep{
			StepNumber: len(trace.Steps) + 1,
			Phase:      model.PhaseValidate,
			Action:     action,
			Result:     result,
			Timestamp:  v.now().UTC(),
		})
	}

	reject := func(reason model.RefusalReason) Result {
		trace.FinalDecision = model.DecisionRejected
		trace.ProcessingTimeMs = v.now().Sub(start).Milliseconds()
		v.logger.Info("validator: rejected", "request_id", in.RequestID, "reason", reason)
		return Result{Confidence: 0, RefusalReason: reason, Trace: trace}
	}

	if in.RequireMimirAnchor {
		if !hasAnchor(in.Sources) {
			step("anchor_check", "no source meets the trust threshold")
			return reject(model.RefusalNoSource)
		}
		step("anchor_check", "anchored source present")
	} else {
		step("anchor_check", "skipped: anchor not required")
	}

	switch in.Verdict.Kind {
	case model.VerdictDeadlock, model.VerdictSplit:
		step("consensus_check", "verdict "+string(in.Verdict.Kind))
		return reject(model.RefusalNoConsensus)
	default:
		step("consensus_check", "verdict "+string(in.Verdict.Kind))
	}

	for _, br := range in.BranchResults {
		if br.Empty() {
			continue
		}
		if br.Confidence > br.Branch.ConfidenceCeiling() {
			step("ceiling_check", string(br.Branch)+" result exceeds its confidence ceiling")
			return reject(model.RefusalBranchViolation)
		}
	}
	step("ceiling_check", "all branch results within their ceilings")

	trace.FinalDecision = model.DecisionApproved
	trace.ProcessingTimeMs = v.now().Sub(start).Milliseconds()
	v.logger.Info("validator: approved", "request_id", in.RequestID, "sources", len(in.Sources))
	return Result{IsValid: true, Confidence: 100, Trace: trace}
}

func hasAnchor(sources []model.Source) bool {
	for _, s := range sources {
		if s.TrustScore >= model.MinAnchorTrust {
			return true
		}
	}
	return false
}
