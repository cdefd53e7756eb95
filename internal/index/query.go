package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/pagesearch/internal/domain"
)

// ErrInvalidQuery indicates a query string that cannot be parsed.
var ErrInvalidQuery = errors.New("invalid query")

// Engine executes full-text queries against the line index.
type Engine struct {
	store *Store
}

// NewEngine creates a query engine over the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Search runs a query string against the index and returns all matching
// lines ordered by relevance. The syntax supports phrases, boolean operators
// and fuzzy terms ("term~1"); bare terms match line content.
func (e *Engine) Search(ctx context.Context, queryStr string) (hits []domain.QueryHit, err error) {
	q := query.NewQueryStringQuery(queryStr)
	if _, err := q.Parse(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	idx, err := e.store.OpenReadOnly()
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := idx.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close index: %w", closeErr)
		}
	}()

	count, err := idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed lines: %w", err)
	}

	hits = make([]domain.QueryHit, 0)
	if count == 0 {
		return hits, nil
	}

	req := bleve.NewSearchRequest(q)
	req.Size = int(count) // a query matches at most every line
	req.Fields = []string{
		domain.LineFieldDocumentPath,
		domain.LineFieldContent,
		domain.LineFieldCoords,
		domain.LineFieldImagePath,
	}
	req.IncludeLocations = true

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	slog.Debug("Query executed", "query", queryStr, "hits", res.Total)

	for _, hit := range res.Hits {
		hits = append(hits, toQueryHit(hit))
	}

	return hits, nil
}

// toQueryHit rebuilds a line record from the stored fields of a search hit.
func toQueryHit(hit *search.DocumentMatch) domain.QueryHit {
	line := domain.LineRecord{LineID: hit.ID}

	if val, ok := hit.Fields[domain.LineFieldDocumentPath].(string); ok {
		line.DocumentPath = val
	}
	if val, ok := hit.Fields[domain.LineFieldContent].(string); ok {
		line.Content = val
	}
	if val, ok := hit.Fields[domain.LineFieldImagePath].(string); ok {
		line.ImagePath = val
	}
	if val, ok := hit.Fields[domain.LineFieldCoords].(string); ok {
		coords, err := domain.ParsePoints(val)
		if err != nil {
			slog.Warn("Malformed coordinates in stored line", "line_id", hit.ID, "error", err)
		}
		line.Coords = coords
	}

	return domain.QueryHit{
		Line:         line,
		MatchedTerms: matchedTerms(hit),
		Score:        hit.Score,
	}
}

// matchedTerms extracts the analyzed terms that matched in the content field,
// sorted for deterministic output.
func matchedTerms(hit *search.DocumentMatch) []string {
	locations, ok := hit.Locations[domain.LineFieldContent]
	if !ok || len(locations) == 0 {
		return nil
	}

	terms := make([]string, 0, len(locations))
	for term := range locations {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	return terms
}
