package docbook

import (
	"strings"

	"github.com/agext/levenshtein"
	"github.com/poiesic/grundgraph/core"
)

// fuzzyThreshold is the minimum similarity for a fuzzy glossary match.
const fuzzyThreshold = 0.85

// splitWindows splits content into whitespace-token windows of size tokens,
// consecutive windows sharing overlap tokens. Content of at most size tokens
// yields one window; empty content yields none.
func splitWindows(content string, size, overlap int) []string {
	tokens := strings.Fields(content)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= size {
		return []string{strings.Join(tokens, " ")}
	}
	step := size - overlap
	var windows []string
	for start := 0; ; start += step {
		end := min(start+size, len(tokens))
		windows = append(windows, strings.Join(tokens[start:end], " "))
		if end >= len(tokens) {
			break
		}
	}
	return windows
}

// glossaryTerm is a term prepared for matching.
type glossaryTerm struct {
	id     string
	lower  string
	tokens int
}

// glossaryLinker finds glossary terms used in chunk text.
type glossaryLinker struct {
	strategy core.LinkingStrategy
	terms    []glossaryTerm
}

// newGlossaryLinker prepares terms, which must already be in a stable order.
func newGlossaryLinker(strategy core.LinkingStrategy, terms []string) *glossaryLinker {
	l := &glossaryLinker{strategy: strategy}
	for _, t := range terms {
		l.terms = append(l.terms, glossaryTerm{
			id:     core.HashedEntityID(core.EntityTypeGlossaryTerm, t),
			lower:  strings.ToLower(t),
			tokens: len(strings.Fields(t)),
		})
	}
	return l
}

// link returns the IDs of terms found in text in term order.
func (l *glossaryLinker) link(text string) []string {
	if l.strategy == core.LinkNone || len(l.terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var tokens []string
	if l.strategy == core.LinkFuzzy {
		tokens = strings.Fields(lower)
	}

	var ids []string
	for _, t := range l.terms {
		if strings.Contains(lower, t.lower) || (l.strategy == core.LinkFuzzy && fuzzyContains(tokens, t)) {
			ids = append(ids, t.id)
		}
	}
	return ids
}

// fuzzyContains slides a window of the term's token length over tokens.
func fuzzyContains(tokens []string, t glossaryTerm) bool {
	if t.tokens == 0 || len(tokens) < t.tokens {
		return false
	}
	for i := 0; i+t.tokens <= len(tokens); i++ {
		window := strings.Join(tokens[i:i+t.tokens], " ")
		if levenshtein.Similarity(window, t.lower, nil) >= fuzzyThreshold {
			return true
		}
	}
	return false
}
