package index

import (
	"sort"

	"github.com/sha1n/pagesearch/internal/domain"
)

// GroupByDocument groups query hits by their source document. Groups appear
// in order of their best-ranked hit, and hits keep their relevance order
// within each group.
func GroupByDocument(hits []domain.QueryHit) []domain.DocumentGroup {
	groups := make([]domain.DocumentGroup, 0)
	byPath := make(map[string]int)

	for _, hit := range hits {
		idx, ok := byPath[hit.Line.DocumentPath]
		if !ok {
			idx = len(groups)
			byPath[hit.Line.DocumentPath] = idx
			groups = append(groups, domain.DocumentGroup{
				DocumentPath: hit.Line.DocumentPath,
				ImagePath:    hit.Line.ImagePath,
			})
		}
		groups[idx].Lines = append(groups[idx].Lines, hit)
	}

	return groups
}

// SortGroups orders groups by their number of matching lines, most first.
// Groups with equal counts keep their existing relative order.
func SortGroups(groups []domain.DocumentGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].NumLines() > groups[j].NumLines()
	})
}
