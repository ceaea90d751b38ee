package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

const groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// GroqAdapter backs a council member with a Groq-hosted model through the
// OpenAI-compatible chat completions API.
type GroqAdapter struct {
	member  model.CouncilMember
	modelID string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// NewGroqAdapter creates an adapter for member backed by modelID on Groq.
// An empty apiKey leaves the adapter permanently unavailable.
func NewGroqAdapter(member model.CouncilMember, modelID, apiKey string) *GroqAdapter {
	return &GroqAdapter{
		member:  member,
		modelID: modelID,
		apiKey:  apiKey,
		client:  &http.Client{},
		timeout: DefaultCallTimeout,
	}
}

func (a *GroqAdapter) Member() model.CouncilMember { return a.member }
func (a *GroqAdapter) ModelID() string             { return a.modelID }
func (a *GroqAdapter) IsAvailable() bool           { return a.apiKey != "" }

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Query sends the prompt with the member's system prompt. The model is asked
// to end with a "CONFIDENCE: <0-100>" line; absent that, confidence falls
// back to a conservative 50.
func (a *GroqAdapter) Query(ctx context.Context, prompt string) (model.CouncilMemberResponse, error) {
	if !a.IsAvailable() {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: %w", a.member, model.ErrAdapterUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(groqRequest{
		Model: a.modelID,
		Messages: []groqMessage{
			{Role: "system", Content: SystemPrompt(a.member) + confidenceInstruction},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: marshal request: %w", a.member, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, groqEndpoint, bytes.NewReader(body))
	if err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: build request: %w", a.member, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: %w", a.member, model.ErrAdapterTimeout)
		}
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: %w: %v", a.member, model.ErrAdapterUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: status %d: %w", a.member, resp.StatusCode, model.ErrAdapterUnavailable)
	}

	var out groqResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: decode response: %w", a.member, err)
	}
	if len(out.Choices) == 0 {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: empty choices: %w", a.member, model.ErrAdapterUnavailable)
	}

	content, confidence := splitConfidence(out.Choices[0].Message.Content)
	return model.CouncilMemberResponse{
		Member:     a.member,
		Content:    content,
		Confidence: confidence,
		Model:      a.modelID,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}
