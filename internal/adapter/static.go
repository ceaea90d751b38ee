package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// StaticAdapter returns a fixed response. Used in tests and in dev mode when
// no provider keys are configured.
type StaticAdapter struct {
	member     model.CouncilMember
	content    string
	confidence int
	reasoning  string
	available  bool
	delay      time.Duration
	err        error
}

// NewStaticAdapter creates an always-available adapter with a canned response.
func NewStaticAdapter(member model.CouncilMember, content string, confidence int) *StaticAdapter {
	return &StaticAdapter{member: member, content: content, confidence: confidence, available: true}
}

// WithReasoning sets the canned reasoning text.
func (a *StaticAdapter) WithReasoning(r string) *StaticAdapter { a.reasoning = r; return a }

// WithDelay makes Query sleep before responding (deadline tests).
func (a *StaticAdapter) WithDelay(d time.Duration) *StaticAdapter { a.delay = d; return a }

// WithError makes Query fail with err.
func (a *StaticAdapter) WithError(err error) *StaticAdapter { a.err = err; return a }

// SetAvailable toggles availability.
func (a *StaticAdapter) SetAvailable(v bool) *StaticAdapter { a.available = v; return a }

func (a *StaticAdapter) Member() model.CouncilMember { return a.member }
func (a *StaticAdapter) ModelID() string             { return "static" }
func (a *StaticAdapter) IsAvailable() bool           { return a.available }

func (a *StaticAdapter) Query(ctx context.Context, _ string) (model.CouncilMemberResponse, error) {
	start := time.Now()
	if a.err != nil {
		return model.CouncilMemberResponse{}, a.err
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: %w", a.member, model.ErrAdapterTimeout)
		}
	}
	return model.CouncilMemberResponse{
		Member:     a.member,
		Content:    a.content,
		Confidence: a.confidence,
		Reasoning:  a.reasoning,
		Model:      "static",
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}
