package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

const geminiEndpointFmt = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// confidenceInstruction is appended to every system prompt so responses carry
// a machine-readable self-assessment.
const confidenceInstruction = "\nEnd your answer with a line 'CONFIDENCE: <integer 0-100>'."

// GeminiAdapter backs a council member with a Google Gemini model.
type GeminiAdapter struct {
	member  model.CouncilMember
	modelID string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// NewGeminiAdapter creates an adapter for member backed by modelID on Gemini.
// An empty apiKey leaves the adapter permanently unavailable.
func NewGeminiAdapter(member model.CouncilMember, modelID, apiKey string) *GeminiAdapter {
	return &GeminiAdapter{
		member:  member,
		modelID: modelID,
		apiKey:  apiKey,
		client:  &http.Client{},
		timeout: DefaultCallTimeout,
	}
}

func (a *GeminiAdapter) Member() model.CouncilMember { return a.member }
func (a *GeminiAdapter) ModelID() string             { return a.modelID }
func (a *GeminiAdapter) IsAvailable() bool           { return a.apiKey != "" }

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (a *GeminiAdapter) Query(ctx context.Context, prompt string) (model.CouncilMemberResponse, error) {
	if !a.IsAvailable() {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: %w", a.member, model.ErrAdapterUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: SystemPrompt(a.member) + confidenceInstruction}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: marshal request: %w", a.member, err)
	}

	url := fmt.Sprintf(geminiEndpointFmt, a.modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: build request: %w", a.member, err)
	}
	req.Header.Set("x-goog-api-key", a.apiKey)
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

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: decode response: %w", a.member, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return model.CouncilMemberResponse{}, fmt.Errorf("adapter: %s: empty candidates: %w", a.member, model.ErrAdapterUnavailable)
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	content, confidence := splitConfidence(sb.String())
	return model.CouncilMemberResponse{
		Member:     a.member,
		Content:    content,
		Confidence: confidence,
		Model:      a.modelID,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

var confidenceLineRe = regexp.MustCompile(`(?i)\n?\s*CONFIDENCE:\s*(\d{1,3})\s*$`)

// splitConfidence strips the trailing CONFIDENCE line from a model answer
// and parses it. Absent or malformed, confidence defaults to 50: an
// unassessed answer must never claim MIMIR-grade certainty.
func splitConfidence(raw string) (string, int) {
	m := confidenceLineRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return strings.TrimSpace(raw), 50
	}
	n, err := strconv.Atoi(raw[m[2]:m[3]])
	if err != nil || n < 0 || n > 100 {
		return strings.TrimSpace(raw), 50
	}
	return strings.TrimSpace(raw[:m[0]]), n
}
