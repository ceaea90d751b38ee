// Package branches implements the three evidence handlers: MIMIR (anchored
// knowledge), VOLVA (sourced community knowledge), and HUGIN (unverified web
// exploration). Each handler owns one branch and never writes to another;
// cross-branch contamination is prevented by construction, since every
// handler clamps its result to its own confidence range.
package branches

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/disinfo"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// Handler produces branch-scoped evidence for a query. An empty BranchResult
// means the handler found nothing usable, which is not an error.
type Handler interface {
	Branch() model.Branch
	Fetch(ctx context.Context, query string) (model.BranchResult, error)
	Healthy(ctx context.Context) bool
}

// SourceSearcher looks up sourced evidence for a query. Implementations wrap
// the validated-provider APIs (arXiv, PubMed, DOI resolvers) or a curated
// local corpus.
type SourceSearcher interface {
	Search(ctx context.Context, query string) (content string, sources []model.Source, err error)
	Available(ctx context.Context) bool
}

// Snippet is one raw web result before disinformation filtering.
type Snippet struct {
	URL         string
	Title       string
	Content     string
	PublishedAt *time.Time
}

// WebSearcher fetches unverified web snippets.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
	Available(ctx context.Context) bool
}

// Mimir serves only anchored knowledge: sources with a perfect trust score
// from a validated provider. Anything else is dropped, never downgraded.
type Mimir struct {
	searcher SourceSearcher
	logger   *slog.Logger
}

// NewMimir creates the MIMIR handler.
func NewMimir(searcher SourceSearcher, logger *slog.Logger) *Mimir {
	return &Mimir{searcher: searcher, logger: logger}
}

func (m *Mimir) Branch() model.Branch { return model.BranchMimir }

func (m *Mimir) Healthy(ctx context.Context) bool { return m.searcher.Available(ctx) }

func (m *Mimir) Fetch(ctx context.Context, query string) (model.BranchResult, error) {
	empty := model.BranchResult{Branch: model.BranchMimir}

	content, found, err := m.searcher.Search(ctx, query)
	if err != nil {
		return empty, fmt.Errorf("branches: mimir search: %w", err)
	}

	var anchored []model.Source
	for _, s := range found {
		if s.TrustScore == 100 && model.ValidatedProviders[s.Type] {
			anchored = append(anchored, s)
		}
	}
	if len(anchored) == 0 {
		return empty, nil
	}

	return model.BranchResult{
		Branch:     model.BranchMimir,
		Content:    content,
		Confidence: 100,
		Sources:    anchored,
	}, nil
}

// Volva serves sourced but unanchored knowledge in the [50,99] range. At
// least one source is required; confidence tracks the average source trust,
// clamped into the branch.
type Volva struct {
	searcher SourceSearcher
	logger   *slog.Logger
}

// NewVolva creates the VOLVA handler.
func NewVolva(searcher SourceSearcher, logger *slog.Logger) *Volva {
	return &Volva{searcher: searcher, logger: logger}
}

func (v *Volva) Branch() model.Branch { return model.BranchVolva }

func (v *Volva) Healthy(ctx context.Context) bool { return v.searcher.Available(ctx) }

func (v *Volva) Fetch(ctx context.Context, query string) (model.BranchResult, error) {
	empty := model.BranchResult{Branch: model.BranchVolva}

	content, sources, err := v.searcher.Search(ctx, query)
	if err != nil {
		return empty, fmt.Errorf("branches: volva search: %w", err)
	}
	if len(sources) == 0 {
		return empty, nil
	}

	total := 0
	for _, s := range sources {
		total += s.TrustScore
	}
	confidence := total / len(sources)
	if confidence > 99 {
		confidence = 99
	}
	if confidence < 50 {
		confidence = 50
	}

	return model.BranchResult{
		Branch:     model.BranchVolva,
		Content:    content,
		Confidence: confidence,
		Sources:    sources,
	}, nil
}

// huginSnippetLimit bounds one web exploration.
const huginSnippetLimit = 8

// Hugin explores the unverified web. Every snippet passes through the
// disinformation filter; blocked snippets are dropped, and the surviving
// evidence is capped at the HUGIN confidence ceiling.
type Hugin struct {
	searcher WebSearcher
	logger   *slog.Logger
}

// NewHugin creates the HUGIN handler.
func NewHugin(searcher WebSearcher, logger *slog.Logger) *Hugin {
	return &Hugin{searcher: searcher, logger: logger}
}

func (h *Hugin) Branch() model.Branch { return model.BranchHugin }

func (h *Hugin) Healthy(ctx context.Context) bool { return h.searcher.Available(ctx) }

func (h *Hugin) Fetch(ctx context.Context, query string) (model.BranchResult, error) {
	empty := model.BranchResult{Branch: model.BranchHugin}

	snippets, err := h.searcher.Search(ctx, query, huginSnippetLimit)
	if err != nil {
		return empty, fmt.Errorf("branches: hugin search: %w", err)
	}

	var (
		content   string
		sources   []model.Source
		trustSum  int
		retrieved = time.Now().UTC()
	)
	for _, snip := range snippets {
		var meta *disinfo.Metadata
		if snip.PublishedAt != nil {
			meta = &disinfo.Metadata{PublishedAt: snip.PublishedAt}
		}
		analysis := disinfo.Analyze(snip.URL, snip.Content, meta)
		if analysis.Recommendation == disinfo.RecommendBlock {
			h.logger.Debug("branches: hugin snippet blocked",
				"url", snip.URL, "risk", analysis.RiskScore, "types", analysis.DetectedTypes)
			continue
		}

		trust := huginTrust(analysis.RiskScore)
		trustSum += trust
		if content == "" {
			content = snip.Content
		}
		sources = append(sources, model.Source{
			ID:          uuid.New(),
			Type:        model.SourceWeb,
			Identifier:  snip.URL,
			URL:         snip.URL,
			Title:       snip.Title,
			TrustScore:  trust,
			RetrievedAt: retrieved,
		})
	}
	if len(sources) == 0 {
		return empty, nil
	}

	confidence := trustSum / len(sources)
	ceiling := model.BranchHugin.ConfidenceCeiling()
	if confidence > ceiling {
		confidence = ceiling
	}

	return model.BranchResult{
		Branch:     model.BranchHugin,
		Content:    content,
		Confidence: confidence,
		Sources:    sources,
	}, nil
}

// huginTrust converts a disinformation risk score into a web-source trust
// score. Web evidence never reaches the anchor threshold.
func huginTrust(risk int) int {
	trust := (100 - risk) / 2
	if ceiling := model.BranchHugin.ConfidenceCeiling(); trust > ceiling {
		trust = ceiling
	}
	if trust < 0 {
		trust = 0
	}
	return trust
}
