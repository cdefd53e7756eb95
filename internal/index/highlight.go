package index

import (
	"html"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Highlight escapes the line for HTML rendering and wraps every whole-word
// occurrence of the matched terms in <strong> tags, case-insensitively.
// A line with no matched terms is returned unchanged. Word boundaries are
// decided over full Unicode, not ASCII: accented terms wrap, and a term
// embedded in a longer accented word does not.
func Highlight(text string, matchedTerms []string) string {
	terms := uniqueTermsLongestFirst(matchedTerms)
	if len(terms) == 0 {
		return text
	}

	termRunes := make([][]rune, len(terms))
	for i, term := range terms {
		termRunes[i] = []rune(term)
	}

	runes := []rune(html.EscapeString(text))
	var b strings.Builder
	for i := 0; i < len(runes); {
		n := matchLenAt(runes, i, termRunes)
		if n == 0 {
			b.WriteRune(runes[i])
			i++
			continue
		}
		b.WriteString("<strong>")
		b.WriteString(string(runes[i : i+n]))
		b.WriteString("</strong>")
		i += n
	}
	return b.String()
}

// matchLenAt returns the rune count of the first term matching at offset i as
// a whole word, or 0 when none does. Terms arrive longest-first, so a term
// that is a prefix of another never shadows the longer match.
func matchLenAt(runes []rune, i int, terms [][]rune) int {
	if i > 0 && isWordRune(runes[i-1]) {
		return 0
	}
	for _, term := range terms {
		end := i + len(term)
		if end > len(runes) || !foldEqual(runes[i:end], term) {
			continue
		}
		if end < len(runes) && isWordRune(runes[end]) {
			continue
		}
		return len(term)
	}
	return 0
}

// isWordRune reports whether r counts as part of a word when deciding
// boundaries: letters, digits or underscore, over the full Unicode tables.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// foldEqual reports whether two equal-length rune slices match under simple
// Unicode case folding, the relation strings.EqualFold uses.
func foldEqual(a, b []rune) bool {
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if !runeFoldMatches(a[i], b[i]) {
			return false
		}
	}
	return true
}

func runeFoldMatches(a, b rune) bool {
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}

// uniqueTermsLongestFirst dedupes terms and orders them by descending rune
// count, breaking ties alphabetically so the produced markup is stable.
func uniqueTermsLongestFirst(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	unique := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		unique = append(unique, term)
	}

	sort.Slice(unique, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(unique[i]), utf8.RuneCountInString(unique[j])
		if li != lj {
			return li > lj
		}
		return unique[i] < unique[j]
	})

	return unique
}
