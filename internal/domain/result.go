package domain

// QueryHit is a single matching line returned by the query engine.
type QueryHit struct {
	// Line is the stored line record reconstructed from the index.
	Line LineRecord `json:"line"`

	// MatchedTerms are the distinct analyzed terms that matched the line's
	// content, sorted lexically. Terms are post-analysis, so they appear in
	// their case-folded form rather than as typed in the query.
	MatchedTerms []string `json:"matched_terms"`

	// Score is the relevance score assigned by the index. It is carried for
	// diagnostics only; result ordering never depends on it.
	Score float64 `json:"score"`
}

// DocumentGroup bundles the hits that belong to a single document page.
type DocumentGroup struct {
	// DocumentPath identifies the source document of every line in the group.
	DocumentPath string `json:"document_path"`

	// ImagePath is the page scan shared by the group's lines.
	ImagePath string `json:"image_path"`

	// Lines holds the document's hits in the order the engine returned them.
	Lines []QueryHit `json:"lines"`
}

// NumLines returns the number of matching lines in the group.
func (g DocumentGroup) NumLines() int {
	return len(g.Lines)
}
