package model

import "errors"

// Domain error kinds. These describe epistemic failures, not transport
// failures; the HTTP layer maps them to status codes and refusal reasons.
var (
	// ErrVerificationUnsupported: a transition to VERIFIED without the
	// required anchored source (trust >= MinAnchorTrust).
	ErrVerificationUnsupported = errors.New("verification unsupported: no qualifying anchor source")

	// ErrBranchViolation: a write whose confidence and branch disagree.
	ErrBranchViolation = errors.New("branch violation: confidence outside branch partition")

	// ErrNotFound: node or checkpoint id absent.
	ErrNotFound = errors.New("not found")

	// ErrAdapterUnavailable: a council adapter cannot serve. Non-fatal;
	// the member is skipped.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrAdapterTimeout: a council adapter exceeded its per-call deadline.
	// Non-fatal; counted as a non-response.
	ErrAdapterTimeout = errors.New("adapter timeout")

	// ErrConsensusNotReached: the council verdict is DEADLOCK or SPLIT.
	ErrConsensusNotReached = errors.New("consensus not reached")

	// ErrDeadlineExceeded: the request deadline expired mid-pipeline.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrPersistenceFailure: the store could not durably record a change.
	// Fatal; propagated.
	ErrPersistenceFailure = errors.New("persistence failure")
)
