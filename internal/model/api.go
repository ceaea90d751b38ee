package model

import (
	"time"

	"github.com/google/uuid"
)

// RefusalReason enumerates why a query was refused instead of answered.
type RefusalReason string

const (
	RefusalNoSource        RefusalReason = "NO_SOURCE"
	RefusalNoConsensus     RefusalReason = "NO_CONSENSUS"
	RefusalBranchViolation RefusalReason = "BRANCH_VIOLATION"
	RefusalTimeout         RefusalReason = "TIMEOUT"
	RefusalInternal        RefusalReason = "INTERNAL"
)

// QueryOptions tunes a single pipeline run.
type QueryOptions struct {
	RequireMimirAnchor *bool `json:"requireMimirAnchor,omitempty"` // default true
	MaxTimeMs          int64 `json:"maxTimeMs,omitempty"`
	ReturnTrace        bool  `json:"returnTrace,omitempty"`
}

// QueryRequest is the body of POST /yggdrasil/query (and variants).
type QueryRequest struct {
	Query        string         `json:"query"`
	UserID       string         `json:"userId"`
	SessionID    string         `json:"sessionId,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	IncludeTrace bool           `json:"includeTrace,omitempty"`
	Options      *QueryOptions  `json:"options,omitempty"`
}

// TraceStep is one ordered entry in a validation trace.
type TraceStep struct {
	StepNumber int       `json:"stepNumber"`
	Phase      string    `json:"phase"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationTrace is the ordered record of pipeline steps justifying an
// accept or refuse decision.
type ValidationTrace struct {
	RequestID        string      `json:"requestId"`
	OdinVersion      string      `json:"odinVersion"`
	Steps            []TraceStep `json:"steps"`
	FinalDecision    string      `json:"finalDecision"` // APPROVED | REJECTED
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

// Trace final decisions.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// YggdrasilResponse is the terminal output of the pipeline: a verified answer
// with literal sources, or an explicit refusal. Nothing in between.
type YggdrasilResponse struct {
	IsVerified     bool             `json:"isVerified"`
	Answer         *string          `json:"answer"`
	RefusalReason  RefusalReason    `json:"refusalReason,omitempty"`
	Sources        []Source         `json:"sources"`
	Branch         *Branch          `json:"branch"`
	Confidence     int              `json:"confidence"` // 100 or 0, never in between
	Trace          *ValidationTrace `json:"trace,omitempty"`
	DeliberationID *uuid.UUID       `json:"deliberationId,omitempty"`
}

// ThinkingStep is one emitted reasoning phase for the thinking/stream variants.
type ThinkingStep struct {
	Phase     string    `json:"phase"`
	Thought   string    `json:"thought"`
	Timestamp time.Time `json:"ts"`
}

// Pipeline phase names, in execution order.
const (
	PhaseClassify   = "classify"
	PhaseFanOut     = "fan_out_branches"
	PhaseDeliberate = "council_deliberate"
	PhaseValidate   = "validate"
	PhasePersist    = "persist"
)

// StreamEventType discriminates SSE events on /yggdrasil/query/stream.
type StreamEventType string

const (
	StreamThinking StreamEventType = "thinking"
	StreamResponse StreamEventType = "response"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one element of the lazy event sequence emitted by
// processWithStreaming. The sequence terminates with a response or error.
type StreamEvent struct {
	Type     StreamEventType    `json:"type"`
	Thinking *ThinkingStep      `json:"thinking,omitempty"`
	Response *YggdrasilResponse `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// BranchResult is a branch handler's evidence for a query. An empty Sources
// slice with empty Content is an empty evidence set.
type BranchResult struct {
	Branch     Branch   `json:"branch"`
	Content    string   `json:"content"`
	Confidence int      `json:"confidence"`
	Sources    []Source `json:"sources"`
}

// Empty reports whether the handler found no usable evidence.
func (r BranchResult) Empty() bool {
	return r.Content == "" && len(r.Sources) == 0
}

// ComponentStatus values for the health endpoint.
const (
	ComponentOK       = "ok"
	ComponentDegraded = "degraded"
	ComponentDown     = "down"
)

// HealthResponse is the body of GET /health.
// Component keys: ratatosk (classifier), mimir, volva, hugin (branches),
// thing (council), odin (validator), munin (ledger + watcher).
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// AlertType enumerates watcher alert categories.
type AlertType string

const (
	AlertVelocitySpike  AlertType = "VELOCITY_SPIKE"
	AlertContradiction  AlertType = "CONTRADICTION"
	AlertConfidenceDrop AlertType = "CONFIDENCE_DROP"
)

// Alert is a watcher-emitted anomaly for one node.
type Alert struct {
	ID        uuid.UUID         `json:"id"`
	NodeID    uuid.UUID         `json:"node_id"`
	Type      AlertType         `json:"type"`
	Severity  ChallengeSeverity `json:"severity"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	UserID string `json:"userId"`
	APIKey string `json:"apiKey"`
}

// AuthTokenResponse is the reply to POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorCode constants for the HTTP error envelope.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeTimeout       = "REQUEST_TIMEOUT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries request metadata on error envelopes.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateCheckpointRequest is the body of POST /yggdrasil/checkpoints.
type CreateCheckpointRequest struct {
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	NodeIDs     []uuid.UUID `json:"nodeIds"`
}

// RollbackResult reports the effect of a checkpoint rollback.
type RollbackResult struct {
	InvalidatedCount int `json:"invalidatedCount"`
	RestoredCount    int `json:"restoredCount"`
}
