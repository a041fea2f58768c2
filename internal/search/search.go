// Package search finds query matches across a document's pages.
package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

const (
	// MinQueryLength is the shortest query that is searched at all.
	MinQueryLength = 2

	// ContextRunes is the snippet context kept on each side of a match.
	ContextRunes = 20

	// DefaultConcurrency bounds parallel page-text fetches.
	DefaultConcurrency = 4
)

// Service searches the document loaded into an engine.
type Service struct {
	engine      engine.DocumentEngine
	logger      *slog.Logger
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConcurrency bounds how many pages are fetched at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a search service over eng.
func New(eng engine.DocumentEngine, opts ...Option) *Service {
	s := &Service{
		engine:      eng,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns every match of query, ordered by page and position.
// Engines with their own search are used as is.
func (s *Service) Search(ctx context.Context, query string) ([]engine.SearchResult, error) {
	if utf8.RuneCountInString(query) < MinQueryLength {
		return []engine.SearchResult{}, nil
	}

	if searcher, ok := s.engine.(engine.TextSearcher); ok {
		return searcher.SearchText(ctx, query)
	}

	texts, err := s.pageTexts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]engine.SearchResult, 0)
	for i, text := range texts {
		results = append(results, FindInPage(i, text, query)...)
	}
	s.logger.Debug("search completed", "query", query, "pages", len(texts), "results", len(results))
	return results, nil
}

func (s *Service) pageTexts(ctx context.Context) ([]string, error) {
	count := s.engine.PageCount()
	texts := make([]string, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items, err := s.engine.TextContent(gctx, i)
			if err != nil {
				s.logger.Warn("search skipped page", "page", i, "error", err)
				return nil
			}
			texts[i] = PageText(items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

// PageText joins a page's text items with single spaces.
func PageText(items []engine.TextItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Str
	}
	return strings.Join(parts, " ")
}

// FindInPage reports every case-insensitive occurrence of query in text.
// Scanning resumes one rune past each match start, so overlapping
// occurrences are all reported. Snippets keep ContextRunes runes on each
// side, clipped to the text.
func FindInPage(pageIndex int, text, query string) []engine.SearchResult {
	hay := lowerRunes(text)
	needle := lowerRunes(query)
	if len(needle) == 0 || len(hay) < len(needle) {
		return nil
	}
	orig := []rune(text)

	var results []engine.SearchResult
	for pos := indexRunes(hay, needle, 0); pos >= 0; pos = indexRunes(hay, needle, pos+1) {
		start := max(0, pos-ContextRunes)
		end := min(len(orig), pos+len(needle)+ContextRunes)
		results = append(results, engine.SearchResult{
			PageIndex:  pageIndex,
			Text:       string(orig[start:end]),
			MatchIndex: len(results),
		})
	}
	return results
}

// lowerRunes lowercases rune by rune so indexes line up with the original.
func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func indexRunes(hay, needle []rune, from int) int {
	for i := from; i+len(needle) <= len(hay); i++ {
		match := true
		for j, r := range needle {
			if hay[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
