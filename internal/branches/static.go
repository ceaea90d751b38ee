package branches

import (
	"context"

	"github.com/Krigsexe/Yggdrasil/internal/model"
)

// StaticSourceSearcher returns a fixed result. Used in tests and local
// development where no provider API is configured.
type StaticSourceSearcher struct {
	Content string
	Sources []model.Source
	Err     error
	Down    bool
}

func (s *StaticSourceSearcher) Search(context.Context, string) (string, []model.Source, error) {
	if s.Err != nil {
		return "", nil, s.Err
	}
	return s.Content, s.Sources, nil
}

func (s *StaticSourceSearcher) Available(context.Context) bool { return !s.Down }

// StaticWebSearcher returns fixed snippets.
type StaticWebSearcher struct {
	Snippets []Snippet
	Err      error
	Down     bool
}

func (s *StaticWebSearcher) Search(_ context.Context, _ string, limit int) ([]Snippet, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if limit > 0 && len(s.Snippets) > limit {
		return s.Snippets[:limit], nil
	}
	return s.Snippets, nil
}

func (s *StaticWebSearcher) Available(context.Context) bool { return !s.Down }
